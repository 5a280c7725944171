// Package identitymap implements the bidirectional LID<->PN identity
// mapping described in spec §4.1: a cache-backed front for the
// keystore's durable lid-mapping namespace, unifying a contact's phone
// and LID identities into a single device-less JID on each side so a
// conversation stays one thread regardless of which identity space a
// given stanza used.
package identitymap

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// CacheTTL is the expiry window for mapping cache entries (spec §3),
// counted from the entry's last write; cache reads do not extend it.
const CacheTTL = 7 * 24 * time.Hour

var log = logrus.WithField("component", "identitymap")

// Map is the IdentityMap component.
type Map struct {
	ks    keystore.Keystore
	cache *cache.Tiered[wireid.JID]
}

// New builds an IdentityMap backed by ks, with its own process-local
// cache tier. distributed is the optional Valkey-backed tier shared
// across relay processes (spec §5); pass nil to run local-only.
func New(ks keystore.Keystore, distributed *cache.ValkeyTTLCache) *Map {
	return &Map{
		ks:    ks,
		cache: cache.NewTiered(cache.NewTTLCache[wireid.JID](CacheTTL), distributed),
	}
}

func pnCacheKey(pn wireid.JID) string  { return "pn:" + pn.ToNonAD().String() }
func lidCacheKey(lid wireid.JID) string { return "lid:" + lid.ToNonAD().String() }

// StoreMappings writes a batch of (a, b) pairs, inferring which side is
// LID and which is PN by server. Pairs where neither JID is a LID, or
// where both are, are skipped with a warning (spec §7: invalid mapping
// input never throws). Writes are idempotent: a pair already matching
// the stored mapping is skipped without touching the keystore.
func (m *Map) StoreMappings(ctx context.Context, pairs [][2]wireid.JID) error {
	var toPersist [][2]wireid.JID
	for _, pair := range pairs {
		a, b := pair[0].ToNonAD(), pair[1].ToNonAD()
		var pn, lid wireid.JID
		switch {
		case a.IsPN() && b.IsLID():
			pn, lid = a, b
		case a.IsLID() && b.IsPN():
			pn, lid = b, a
		default:
			log.WithFields(logrus.Fields{"a": a.String(), "b": b.String()}).
				Warn("skipping mapping pair: neither PN/LID nor LID/PN")
			continue
		}

		if existing, ok, _ := m.lookupLID(ctx, pn); ok {
			if existing.SameUser(lid) {
				continue // idempotent: already stored
			}
			log.WithFields(logrus.Fields{
				"pn": pn.String(), "old_lid": existing.String(), "new_lid": lid.String(),
			}).Warn("identity mapping changed for existing PN, superseding")
		}

		toPersist = append(toPersist, [2]wireid.JID{pn, lid})
		m.cache.Set(ctx, pnCacheKey(pn), lid)
		m.cache.Set(ctx, lidCacheKey(lid), pn)
	}

	if len(toPersist) == 0 {
		return nil
	}
	return m.ks.Transaction(ctx, "lid-mapping", func(ctx context.Context, tx keystore.Keystore) error {
		return tx.LIDMapping().StoreLIDPNMappings(ctx, toPersist)
	})
}

func (m *Map) lookupLID(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error) {
	if lid, ok := m.cache.Get(ctx, pnCacheKey(pn)); ok {
		return lid, true, nil
	}
	lid, ok, err := m.ks.LIDMapping().GetLIDForPN(ctx, pn)
	if err != nil {
		return wireid.JID{}, false, err
	}
	if ok {
		m.cache.Set(ctx, pnCacheKey(pn), lid)
	}
	return lid, ok, nil
}

// LIDForPN returns the unified user-level LID JID for a PN user, never
// carrying a device suffix.
func (m *Map) LIDForPN(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error) {
	lid, ok, err := m.lookupLID(ctx, pn.ToNonAD())
	if err != nil || !ok {
		return wireid.JID{}, ok, err
	}
	return lid.ToNonAD(), true, nil
}

// PNForLID is the symmetric lookup of LIDForPN.
func (m *Map) PNForLID(ctx context.Context, lid wireid.JID) (wireid.JID, bool, error) {
	lid = lid.ToNonAD()
	if pn, ok := m.cache.Get(ctx, lidCacheKey(lid)); ok {
		return pn.ToNonAD(), true, nil
	}
	pn, ok, err := m.ks.LIDMapping().GetPNForLID(ctx, lid)
	if err != nil {
		return wireid.JID{}, false, err
	}
	if ok {
		m.cache.Set(ctx, lidCacheKey(lid), pn)
	}
	return pn.ToNonAD(), ok, nil
}

// LIDsForPNs batches LIDForPN lookups, returning the known LIDs keyed
// by device-less PN string; PNs without a mapping are absent.
func (m *Map) LIDsForPNs(ctx context.Context, pns []wireid.JID) (map[string]wireid.JID, error) {
	result := make(map[string]wireid.JID, len(pns))
	var misses []wireid.JID
	for _, pn := range pns {
		pn = pn.ToNonAD()
		if lid, ok := m.cache.Get(ctx, pnCacheKey(pn)); ok {
			result[pn.String()] = lid
			continue
		}
		misses = append(misses, pn)
	}
	if len(misses) == 0 {
		return result, nil
	}
	fetched, err := m.ks.LIDMapping().GetLIDsForPNs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for pnStr, lid := range fetched {
		result[pnStr] = lid
		m.cache.Set(ctx, "pn:"+pnStr, lid)
	}
	return result, nil
}
