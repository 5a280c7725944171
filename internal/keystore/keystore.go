// Package keystore declares the external collaborator interface the
// relay core depends on for all durable state and all Signal-protocol
// cryptographic primitives (spec §6). This core never persists state
// directly; every mutation goes through a Keystore transaction.
package keystore

import (
	"context"

	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// Namespace names the logical bucket a Get/Set call addresses.
type Namespace string

const (
	NamespaceLIDMapping     Namespace = "lid-mapping"
	NamespaceSenderKeyMemo  Namespace = "sender-key-memory"
	NamespaceDeviceList     Namespace = "device-list"
)

// TxFunc is the body of a keystore transaction. Returning an error aborts
// the transaction; every mutation performed via the ks argument inside
// fn is rolled back.
type TxFunc func(ctx context.Context, ks Keystore) error

// EncType mirrors binarynode.EncType without importing it, so this
// package stays a leaf dependency for every component.
type EncType string

const (
	EncMsg   EncType = "msg"
	EncPKMsg EncType = "pkmsg"
	EncSKMsg EncType = "skmsg"
)

// EncryptResult is the outcome of a pairwise Signal encryption.
type EncryptResult struct {
	Type       EncType
	Ciphertext []byte
}

// GroupEncryptResult is the outcome of a sender-key group encryption.
type GroupEncryptResult struct {
	Ciphertext                    []byte
	SenderKeyDistributionMessage []byte
}

// SessionValidation reports whether a usable Signal session exists for a peer.
type SessionValidation struct {
	HasSession bool
}

// Keystore is the collaborator interface described in spec §6: it owns
// durable storage (lid-mapping, sender-key-memory, device-list, and the
// Signal session/pre-key/sender-key spaces) and the Signal-protocol
// crypto primitives layered on top of that storage.
type Keystore interface {
	// Transaction scopes a batch of mutations so they commit atomically.
	// Implementations must not start nested transactions.
	Transaction(ctx context.Context, scope string, fn TxFunc) error

	// Get reads a set of keys from a namespace. Missing keys are simply
	// absent from the returned map, never an error.
	Get(ctx context.Context, ns Namespace, keys []string) (map[string]any, error)

	// Set writes a set of namespace/key/value triples in one call.
	Set(ctx context.Context, data map[Namespace]map[string]any) error

	// ValidateSession reports whether a Signal session already exists
	// for the given wire JID without installing one.
	ValidateSession(ctx context.Context, jid wireid.JID) (SessionValidation, error)

	// EncryptMessage performs a pairwise Signal encryption for one
	// device. Callers are responsible for per-peer serialization
	// (spec §4.4/§5); this method does not lock internally.
	EncryptMessage(ctx context.Context, jid wireid.JID, plaintext []byte) (EncryptResult, error)

	// EncryptGroupMessage performs sender-key group encryption, keyed by
	// meID so LID-addressed and PN-addressed groups use the sender
	// identity matching the group's addressing mode.
	EncryptGroupMessage(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (GroupEncryptResult, error)

	// DecryptMessage is part of the collaborator's contract (spec §6)
	// but is never called by this core: decoding incoming ciphertext is
	// explicitly out of scope (spec §1 Non-goals).
	DecryptMessage(ctx context.Context, jid wireid.JID, encType EncType, ciphertext []byte) ([]byte, error)

	// InstallSession installs a Signal session from a fetched pre-key
	// bundle, used by SessionGuard after a pre-key fetch.
	InstallSession(ctx context.Context, jid wireid.JID, bundle PreKeyBundle) error

	// LIDMapping exposes the bidirectional LID/PN mapping storage.
	LIDMapping() LIDMappingStore
}

// PreKeyBundle is the opaque pre-key material returned by an
// <iq type=get xmlns=encrypt> query, sufficient to install a new
// outbound Signal session (spec §4.3).
type PreKeyBundle struct {
	RegistrationID   uint32
	IdentityKey      []byte
	SignedPreKeyID   uint32
	SignedPreKey     []byte
	SignedPreKeySig  []byte
	PreKeyID         uint32
	PreKey           []byte
	HasPreKey        bool
}

// LIDMappingStore is the bidirectional PN<->LID mapping collaborator
// used by IdentityMap (spec §4.1).
type LIDMappingStore interface {
	StoreLIDPNMappings(ctx context.Context, pairs [][2]wireid.JID) error
	GetLIDForPN(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error)
	GetPNForLID(ctx context.Context, lid wireid.JID) (wireid.JID, bool, error)
	GetLIDsForPNs(ctx context.Context, pns []wireid.JID) (map[string]wireid.JID, error)
}
