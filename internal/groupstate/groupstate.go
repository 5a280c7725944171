// Package groupstate implements the GroupState component (spec
// §4.5): a 5-minute-fresh metadata cache per group plus the
// sender-key-memory the core uses to decide which devices still need
// a group's SKDM.
package groupstate

import (
	"context"
	"fmt"
	"time"

	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// FreshnessWindow is the metadata cache TTL (spec §4.5/§3).
const FreshnessWindow = 5 * time.Minute

// Participant mirrors spec §3's GroupMetadata participant entry.
type Participant struct {
	ID    wireid.JID // phone JID, kept for frontend compatibility
	LID   *wireid.JID
	Admin bool
}

// Metadata is the GroupMetadata data model (spec §3).
type Metadata struct {
	ID                wireid.JID
	AddressingMode    string // "pn" or "lid"
	Participants       []Participant
	EphemeralDuration uint32
	OwnerPN           *wireid.JID
	OwnerLID          *wireid.JID
}

// MetadataFetcher is the external collaborator that fetches group
// metadata from the server (an <iq> query, spec §6); not this core's concern to frame.
type MetadataFetcher interface {
	FetchGroupMetadata(ctx context.Context, group wireid.JID) (Metadata, error)
}

// CachedMetadataLookup is the optional caller-supplied cache (spec §6:
// `cachedGroupMetadata`), consulted before this component's own cache
// and before a network fetch.
type CachedMetadataLookup func(ctx context.Context, group wireid.JID) (*Metadata, bool)

// State is the GroupState component. It is the sole writer of
// sender-key-memory in this core (spec §4.5).
type State struct {
	fetcher   MetadataFetcher
	ks        keystore.Keystore
	userCache CachedMetadataLookup
	metadata  *cache.Tiered[Metadata]
}

// New builds a State. userCache may be nil when no caller-level cache
// is configured. distributed is the optional Valkey-backed tier for
// the group-metadata cache (spec §5); pass nil to run local-only.
func New(fetcher MetadataFetcher, ks keystore.Keystore, userCache CachedMetadataLookup, distributed *cache.ValkeyTTLCache) *State {
	return &State{
		fetcher:   fetcher,
		ks:        ks,
		userCache: userCache,
		metadata:  cache.NewTiered(cache.NewTTLCache[Metadata](FreshnessWindow), distributed),
	}
}

// GetOrFetch returns fresh metadata for group, consulting the
// caller-supplied cache, then this component's own 5-minute cache,
// then the network, in that order.
func (s *State) GetOrFetch(ctx context.Context, group wireid.JID) (Metadata, error) {
	group = group.ToNonAD()

	if s.userCache != nil {
		if m, ok := s.userCache(ctx, group); ok && m != nil {
			return *m, nil
		}
	}

	if entry, ok := s.metadata.Get(ctx, group.String()); ok {
		return entry, nil
	}

	m, err := s.fetcher.FetchGroupMetadata(ctx, group)
	if err != nil {
		return Metadata{}, fmt.Errorf("groupstate: metadata fetch failed for %s: %w", group, err)
	}

	s.metadata.Set(ctx, group.String(), m)

	return m, nil
}

// SenderKeyMemory returns the set of wire JIDs already holding the
// group's current sender key.
func (s *State) SenderKeyMemory(ctx context.Context, group wireid.JID) (map[string]bool, error) {
	group = group.ToNonAD()
	row, err := s.ks.Get(ctx, keystore.NamespaceSenderKeyMemo, []string{group.String()})
	if err != nil {
		return nil, err
	}
	raw, ok := row[group.String()]
	if !ok {
		return map[string]bool{}, nil
	}
	out := map[string]bool{}
	switch set := raw.(type) {
	case map[string]bool:
		for k, v := range set {
			out[k] = v
		}
	case map[string]any:
		// JSON-backed keystores (store.SQL) decode the stored set this way.
		for k, v := range set {
			if b, ok := v.(bool); ok {
				out[k] = b
			}
		}
	}
	return out, nil
}

// MarkSent adds wireJids to the group's sender-key-memory. Per the
// strict-mode resolution recorded in DESIGN.md (spec §9's first open
// question), callers must only invoke this after the stanza carrying
// the SKDM has actually committed to the transport, never speculatively.
func (s *State) MarkSent(ctx context.Context, group wireid.JID, wireJids []wireid.JID) error {
	group = group.ToNonAD()
	existing, err := s.SenderKeyMemory(ctx, group)
	if err != nil {
		return err
	}
	for _, j := range wireJids {
		existing[j.String()] = true
	}
	return s.ks.Set(ctx, map[keystore.Namespace]map[string]any{
		keystore.NamespaceSenderKeyMemo: {group.String(): existing},
	})
}

// ResetSenderKeyMemory clears a group's sender-key-memory entirely,
// used on sender key rotation (spec §3: "cleared when the sender key is rotated").
func (s *State) ResetSenderKeyMemory(ctx context.Context, group wireid.JID) error {
	group = group.ToNonAD()
	return s.ks.Set(ctx, map[keystore.Namespace]map[string]any{
		keystore.NamespaceSenderKeyMemo: {group.String(): map[string]bool{}},
	})
}

// Invalidate drops this component's cached metadata for group, forcing
// the next GetOrFetch to hit the network.
func (s *State) Invalidate(ctx context.Context, group wireid.JID) {
	s.metadata.Delete(ctx, group.ToNonAD().String())
}
