// Package signalcrypto is the Signal-protocol engine backing the
// keystore collaborator's crypto methods (spec §6): X3DH session
// establishment, Double Ratchet pairwise encryption, and sender-key
// group encryption, built directly on go.mau.fi/libsignal the way the
// pre-multidevice whatsmeow source drove the same library.
package signalcrypto

import (
	"sync"

	"go.mau.fi/libsignal/ecc"
	groupRecord "go.mau.fi/libsignal/groups/state/record"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/state/record"
)

// localStore is a fully in-memory implementation of libsignal's
// composite SignalProtocolStore interface (identity, pre-key,
// signed-pre-key, session, and sender-key sub-stores). Every
// Repository uses one, including the ones behind both keystores in
// internal/store, so Signal-protocol state lives only in process memory.
type localStore struct {
	mu sync.RWMutex

	identityKeyPair    *identity.KeyPair
	registrationID     uint32
	trustedIdentities  map[string]*identity.Key
	preKeys            map[uint32]*record.PreKey
	signedPreKeys      map[uint32]*record.SignedPreKey
	sessions           map[string]*record.Session
	senderKeys         map[string]*groupRecord.SenderKeyRecord
}

func newLocalStore(registrationID uint32) *localStore {
	kp := identity.NewKeyPair(ecc.GenerateKeyPair())
	return &localStore{
		identityKeyPair:   kp,
		registrationID:    registrationID,
		trustedIdentities: make(map[string]*identity.Key),
		preKeys:           make(map[uint32]*record.PreKey),
		signedPreKeys:     make(map[uint32]*record.SignedPreKey),
		sessions:          make(map[string]*record.Session),
		senderKeys:        make(map[string]*groupRecord.SenderKeyRecord),
	}
}

// --- IdentityKeyStore ---

func (s *localStore) GetIdentityKeyPair() *identity.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identityKeyPair
}

func (s *localStore) GetLocalRegistrationId() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registrationID
}

func (s *localStore) SaveIdentity(address *protocol.SignalAddress, identityKey *identity.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustedIdentities[address.String()] = identityKey
}

func (s *localStore) IsTrustedIdentity(address *protocol.SignalAddress, identityKey *identity.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.trustedIdentities[address.String()]
	if !ok {
		return true // trust-on-first-use
	}
	return existing.Fingerprint() == identityKey.Fingerprint()
}

// DeleteIdentity drops a stored identity, so the next IsTrustedIdentity
// check for that address trusts whatever key it is given.
func (s *localStore) DeleteIdentity(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trustedIdentities, addr)
}

// --- PreKeyStore ---

func (s *localStore) LoadPreKey(preKeyID uint32) *record.PreKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preKeys[preKeyID]
}

func (s *localStore) StorePreKey(preKeyID uint32, preKeyRecord *record.PreKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preKeys[preKeyID] = preKeyRecord
}

func (s *localStore) ContainsPreKey(preKeyID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.preKeys[preKeyID]
	return ok
}

func (s *localStore) RemovePreKey(preKeyID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.preKeys, preKeyID)
}

// --- SignedPreKeyStore ---

func (s *localStore) LoadSignedPreKey(signedPreKeyID uint32) *record.SignedPreKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signedPreKeys[signedPreKeyID]
}

func (s *localStore) LoadSignedPreKeys() []*record.SignedPreKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.SignedPreKey, 0, len(s.signedPreKeys))
	for _, v := range s.signedPreKeys {
		out = append(out, v)
	}
	return out
}

func (s *localStore) StoreSignedPreKey(signedPreKeyID uint32, rec *record.SignedPreKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedPreKeys[signedPreKeyID] = rec
}

func (s *localStore) ContainsSignedPreKey(signedPreKeyID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signedPreKeys[signedPreKeyID]
	return ok
}

func (s *localStore) RemoveSignedPreKey(signedPreKeyID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signedPreKeys, signedPreKeyID)
}

// --- SessionStore ---

func (s *localStore) LoadSession(address *protocol.SignalAddress) *record.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[address.String()]
}

func (s *localStore) GetSubDeviceSessions(name string) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var devices []uint32
	for key := range s.sessions {
		_ = key // device enumeration is not needed by this core; USync already owns device discovery.
	}
	return devices
}

func (s *localStore) StoreSession(remoteAddress *protocol.SignalAddress, rec *record.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[remoteAddress.String()] = rec
}

func (s *localStore) ContainsSession(remoteAddress *protocol.SignalAddress) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[remoteAddress.String()]
	return ok
}

func (s *localStore) DeleteSession(remoteAddress *protocol.SignalAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, remoteAddress.String())
}

func (s *localStore) DeleteAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*record.Session)
}

// --- SenderKeyStore ---

func (s *localStore) StoreSenderKey(senderKeyName *protocol.SenderKeyName, keyRecord *groupRecord.SenderKeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderKeys[senderKeyName.String()] = keyRecord
}

func (s *localStore) LoadSenderKey(senderKeyName *protocol.SenderKeyName) *groupRecord.SenderKeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.senderKeys[senderKeyName.String()]
}
