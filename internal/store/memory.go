// Package store provides keystore.Keystore backends: an in-memory
// implementation for tests and local experimentation, and a
// gorm-backed implementation (sqlite.go) for durable deployments,
// mirroring the teacher's core/database dual-driver setup.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/signalcrypto"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// Memory is a fully in-memory keystore.Keystore, combining plain-map
// persistence for the lid-mapping/sender-key-memory/device-list
// namespaces with a signalcrypto.Repository for the Signal-protocol
// operations. It is not durable and exists for tests and the demo CLI.
type Memory struct {
	mu   sync.Mutex
	data map[keystore.Namespace]map[string]any
	repo *signalcrypto.Repository
}

// NewMemory builds an empty in-memory keystore around a fresh in-memory
// Signal protocol store.
func NewMemory(selfID wireid.JID) *Memory {
	return &Memory{
		data: map[keystore.Namespace]map[string]any{
			keystore.NamespaceLIDMapping:    {},
			keystore.NamespaceSenderKeyMemo: {},
			keystore.NamespaceDeviceList:    {},
		},
		repo: signalcrypto.NewRepository(selfID),
	}
}

// Transaction runs fn directly against m; the in-memory backend commits
// synchronously and has nothing to roll back on error beyond what fn
// itself chooses to undo, matching the teacher's memory-repository
// tier which never models partial-write rollback either.
func (m *Memory) Transaction(ctx context.Context, scope string, fn keystore.TxFunc) error {
	return fn(ctx, m)
}

func (m *Memory) Get(ctx context.Context, ns keystore.Namespace, keys []string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.data[ns]
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := bucket[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, data map[keystore.Namespace]map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ns, kv := range data {
		bucket, ok := m.data[ns]
		if !ok {
			bucket = map[string]any{}
			m.data[ns] = bucket
		}
		for k, v := range kv {
			bucket[k] = v
		}
	}
	return nil
}

func (m *Memory) ValidateSession(ctx context.Context, jid wireid.JID) (keystore.SessionValidation, error) {
	return m.repo.ValidateSession(ctx, jid)
}

func (m *Memory) EncryptMessage(ctx context.Context, jid wireid.JID, plaintext []byte) (keystore.EncryptResult, error) {
	return m.repo.EncryptMessage(ctx, jid, plaintext)
}

func (m *Memory) EncryptGroupMessage(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (keystore.GroupEncryptResult, error) {
	return m.repo.EncryptGroupMessage(ctx, group, plaintext, meID)
}

func (m *Memory) DecryptMessage(ctx context.Context, jid wireid.JID, encType keystore.EncType, ciphertext []byte) ([]byte, error) {
	return nil, fmt.Errorf("store: DecryptMessage is not implemented by the outbound relay core")
}

func (m *Memory) InstallSession(ctx context.Context, jid wireid.JID, bundle keystore.PreKeyBundle) error {
	return m.repo.InstallSession(ctx, jid, bundle)
}

func (m *Memory) LIDMapping() keystore.LIDMappingStore {
	return (*memoryLIDMapping)(m)
}

type memoryLIDMapping Memory

func (l *memoryLIDMapping) StoreLIDPNMappings(ctx context.Context, pairs [][2]wireid.JID) error {
	m := (*Memory)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.data[keystore.NamespaceLIDMapping]
	for _, pair := range pairs {
		pn, lid := pair[0], pair[1]
		bucket[pn.String()] = lid
		bucket[lid.String()+"_reverse"] = pn
	}
	return nil
}

func (l *memoryLIDMapping) GetLIDForPN(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error) {
	m := (*Memory)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[keystore.NamespaceLIDMapping][pn.String()]
	if !ok {
		return wireid.JID{}, false, nil
	}
	return v.(wireid.JID), true, nil
}

func (l *memoryLIDMapping) GetPNForLID(ctx context.Context, lid wireid.JID) (wireid.JID, bool, error) {
	m := (*Memory)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[keystore.NamespaceLIDMapping][lid.String()+"_reverse"]
	if !ok {
		return wireid.JID{}, false, nil
	}
	return v.(wireid.JID), true, nil
}

func (l *memoryLIDMapping) GetLIDsForPNs(ctx context.Context, pns []wireid.JID) (map[string]wireid.JID, error) {
	m := (*Memory)(l)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]wireid.JID, len(pns))
	bucket := m.data[keystore.NamespaceLIDMapping]
	for _, pn := range pns {
		if v, ok := bucket[pn.String()]; ok {
			out[pn.String()] = v.(wireid.JID)
		}
	}
	return out, nil
}

var _ keystore.Keystore = (*Memory)(nil)
