// Package encryptor implements the Encryptor component (spec §4.4): a
// thin, serialized front for the keystore's raw Signal-protocol
// crypto, guaranteeing that concurrent relays never interleave ratchet
// steps for the same wire JID.
package encryptor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/signalcrypto"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

var log = logrus.WithField("component", "encryptor")

// Encryptor is the Encryptor component.
type Encryptor struct {
	ks    keystore.Keystore
	locks *signalcrypto.PeerLocks

	// CompatV6GroupSend bypasses the per-peer mutex, trading durability
	// for fan-out throughput (spec §4.4). A failed encrypt is logged and
	// its error returned; the group fan-out in internal/relay then drops
	// that device instead of failing the send.
	CompatV6GroupSend bool
}

// New builds an Encryptor over ks.
func New(ks keystore.Keystore) *Encryptor {
	return &Encryptor{ks: ks, locks: signalcrypto.NewPeerLocks()}
}

// Encrypt performs one pairwise Signal encryption, serialized per wire
// JID unless CompatV6GroupSend is set.
func (e *Encryptor) Encrypt(ctx context.Context, wireJID wireid.JID, plaintext []byte) (keystore.EncryptResult, error) {
	if e.CompatV6GroupSend {
		result, err := e.ks.EncryptMessage(ctx, wireJID, plaintext)
		if err != nil {
			log.WithError(err).WithField("jid", wireJID.String()).Warn("pairwise encrypt failed, dropped in V6-compat mode")
			return keystore.EncryptResult{}, err
		}
		return result, nil
	}

	var result keystore.EncryptResult
	var encErr error
	lockErr := e.locks.WithLock(wireJID.SignalAddress(), func() error {
		result, encErr = e.ks.EncryptMessage(ctx, wireJID, plaintext)
		return encErr
	})
	if lockErr != nil {
		return keystore.EncryptResult{}, fmt.Errorf("encryptor: pairwise encrypt failed for %s: %w", wireJID, lockErr)
	}
	return result, nil
}

// EncryptGroup performs sender-key group encryption. meID must match
// the group's addressing mode (spec §4.4: LID-addressed groups use the
// caller's LID, PN-addressed groups use the PN).
func (e *Encryptor) EncryptGroup(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (keystore.GroupEncryptResult, error) {
	return e.ks.EncryptGroupMessage(ctx, group, plaintext, meID)
}
