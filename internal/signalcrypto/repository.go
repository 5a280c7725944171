package signalcrypto

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/session"

	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// Repository is the Signal-protocol engine a keystore.Keystore
// implementation delegates its crypto methods to. It holds one
// localStore per relay process (this device's identity, pre-keys, and
// every peer/group session it has established) and drives
// go.mau.fi/libsignal the way the forked pre-multidevice whatsmeow
// source builds outbound ciphertext.
type Repository struct {
	selfID wireid.JID
	store  *localStore

	serializer *serialize.Serializer

	mu              sync.Mutex
	senderKeyMemory map[string]bool // groupID|meID -> SKDM already distributed to this member set
}

// NewRepository builds a Repository for a device whose own wire JID is selfID.
func NewRepository(selfID wireid.JID) *Repository {
	return &Repository{
		selfID:          selfID,
		store:           newLocalStore(randomRegistrationID()),
		serializer:      newProtobufSerializer(),
		senderKeyMemory: make(map[string]bool),
	}
}

func newProtobufSerializer() *serialize.Serializer {
	s := serialize.NewProtoBufSerializer()
	return s
}

func randomRegistrationID() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) & 0x3FFF
}

func signalAddress(jid wireid.JID) *protocol.SignalAddress {
	return protocol.NewSignalAddress(jid.User, uint32(jid.Device))
}

// ValidateSession reports whether a usable session already exists,
// without touching the network — SessionGuard uses this to decide
// whether a peer needs a pre-key fetch before the first message.
func (r *Repository) ValidateSession(ctx context.Context, jid wireid.JID) (keystore.SessionValidation, error) {
	addr := signalAddress(jid)
	return keystore.SessionValidation{HasSession: r.store.ContainsSession(addr)}, nil
}

// EncryptMessage performs one pairwise Double Ratchet encryption step,
// grounded on encryptMessageForDevice in the forked whatsmeow
// multidevice send path: build a session cipher for the peer's
// SignalAddress, encrypt, and classify the result as pkmsg (still in
// prekey phase) or msg (ratchet established) from the returned
// ciphertext's message type.
func (r *Repository) EncryptMessage(ctx context.Context, jid wireid.JID, plaintext []byte) (keystore.EncryptResult, error) {
	addr := signalAddress(jid)
	if !r.store.ContainsSession(addr) {
		return keystore.EncryptResult{}, fmt.Errorf("signalcrypto: no session for %s, caller must InstallSession first", jid)
	}

	builder := session.NewBuilderFromSignal(r.store, addr, r.serializer)
	cipher := session.NewCipher(builder, addr)
	encrypted, err := cipher.Encrypt(plaintext)
	if err != nil {
		return keystore.EncryptResult{}, fmt.Errorf("signalcrypto: encrypt failed for %s: %w", jid, err)
	}

	result := keystore.EncryptResult{Ciphertext: encrypted.Serialize()}
	if encrypted.Type() == protocol.PREKEY_TYPE {
		result.Type = keystore.EncPKMsg
	} else {
		result.Type = keystore.EncMsg
	}
	return result, nil
}

// EncryptGroupMessage performs sender-key group encryption, grounded
// on sendGroup in the forked whatsmeow multidevice send path: the
// sender key is named after (groupID, meID's SignalAddress) so a
// member addressed via LID and via PN maintains two independent
// sender-key chains, matching spec §4.5's per-addressing-mode
// sender-key-memory split.
func (r *Repository) EncryptGroupMessage(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (keystore.GroupEncryptResult, error) {
	meAddr := signalAddress(meID)
	skName := protocol.NewSenderKeyName(group.ToNonAD().String(), meAddr)

	builder := groups.NewGroupSessionBuilder(r.store, r.serializer)

	memKey := group.ToNonAD().String() + "|" + meID.ToNonAD().String()
	r.mu.Lock()
	alreadyDistributed := r.senderKeyMemory[memKey]
	r.mu.Unlock()

	var distribution []byte
	if !alreadyDistributed {
		skdm, err := builder.Create(skName)
		if err != nil {
			return keystore.GroupEncryptResult{}, fmt.Errorf("signalcrypto: create sender key session failed: %w", err)
		}
		distribution = skdm.Serialize()
	}

	cipher := groups.NewGroupCipher(builder, skName, r.store)
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return keystore.GroupEncryptResult{}, fmt.Errorf("signalcrypto: group encrypt failed for %s: %w", group, err)
	}

	return keystore.GroupEncryptResult{
		Ciphertext:                   ciphertext,
		SenderKeyDistributionMessage: distribution,
	}, nil
}

// MarkSenderKeyDistributed records that this process's sender key for
// (group, meID) has been sent to the current member set at least
// once, so subsequent EncryptGroupMessage calls omit the distribution
// message. Nothing else in this module calls it: GroupState keeps its
// own sender-key-memory in the keystore's sender-key-memory namespace.
func (r *Repository) MarkSenderKeyDistributed(group, meID wireid.JID) {
	memKey := group.ToNonAD().String() + "|" + meID.ToNonAD().String()
	r.mu.Lock()
	r.senderKeyMemory[memKey] = true
	r.mu.Unlock()
}

// ResetSenderKeyMemory forgets a prior distribution, forcing the next
// EncryptGroupMessage call to re-include the SKDM. Nothing else in
// this module calls it.
func (r *Repository) ResetSenderKeyMemory(group, meID wireid.JID) {
	memKey := group.ToNonAD().String() + "|" + meID.ToNonAD().String()
	r.mu.Lock()
	delete(r.senderKeyMemory, memKey)
	r.mu.Unlock()
}

// InstallSession establishes a new pairwise session from a fetched
// pre-key bundle (an X3DH handshake), grounded on the same examples'
// use of prekey.NewBundle + session.Builder.ProcessBundle ahead of the
// first message to a peer with no existing session.
func (r *Repository) InstallSession(ctx context.Context, jid wireid.JID, bundle keystore.PreKeyBundle) error {
	addr := signalAddress(jid)

	identityKey, err := identity.NewKeyFromBytes(toKey32(bundle.IdentityKey), 0)
	if err != nil {
		return fmt.Errorf("signalcrypto: invalid identity key for %s: %w", jid, err)
	}

	signedPreKeyPublic, err := ecc.DecodePoint(bundle.SignedPreKey, 0)
	if err != nil {
		return fmt.Errorf("signalcrypto: invalid signed pre-key for %s: %w", jid, err)
	}

	var preKeyID uint32
	var preKeyPublic ecc.ECPublicKeyable
	if bundle.HasPreKey {
		preKeyID = bundle.PreKeyID
		preKeyPublic, err = ecc.DecodePoint(bundle.PreKey, 0)
		if err != nil {
			return fmt.Errorf("signalcrypto: invalid one-time pre-key for %s: %w", jid, err)
		}
	}

	pkBundle := prekey.NewBundle(
		bundle.RegistrationID,
		addr.DeviceID(),
		preKeyID,
		bundle.SignedPreKeyID,
		preKeyPublic,
		signedPreKeyPublic,
		bundle.SignedPreKeySig,
		identityKey.PublicKey(),
	)

	builder := session.NewBuilderFromSignal(r.store, addr, r.serializer)
	if err := builder.ProcessBundle(pkBundle); err != nil {
		return fmt.Errorf("signalcrypto: processing pre-key bundle for %s failed: %w", jid, err)
	}
	return nil
}

func toKey32(b []byte) []byte {
	if len(b) == 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out, b)
	return out
}
