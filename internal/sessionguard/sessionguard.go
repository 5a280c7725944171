// Package sessionguard implements the SessionGuard component (spec
// §4.3): ensuring a usable Signal session exists for every wire JID a
// relay is about to address, fetching and installing pre-key bundles
// for the ones that don't.
package sessionguard

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// CacheTTL matches the user-devices cache freshness window (spec §4.3: "same TTL as devices").
const CacheTTL = 5 * time.Minute

// DefaultChunkSize and DefaultChunkDelay implement the batched
// progressive session assertion described in spec §5.
const (
	DefaultChunkSize  = 10
	DefaultChunkDelay = 250 * time.Millisecond
)

var log = logrus.WithField("component", "sessionguard")

// PreKeyFetcher issues the <iq type=get xmlns=encrypt> pre-key query
// against the wire transport; an external collaborator (spec §6).
type PreKeyFetcher interface {
	FetchPreKeyBundles(ctx context.Context, jids []wireid.JID) (map[string]keystore.PreKeyBundle, error)
}

// Guard is the SessionGuard component.
type Guard struct {
	fetcher  PreKeyFetcher
	identity *identitymap.Map
	ks       keystore.Keystore
	cache    *cache.Tiered[bool]

	// CompatV6GroupSend downgrades assertion failures in group context to
	// warnings (spec §4.3's V6-compatibility mode).
	CompatV6GroupSend bool
	ChunkSize         int
	ChunkDelay        time.Duration
}

// New builds a Guard with spec-default batching parameters. distributed
// is the optional Valkey-backed tier for the peer-sessions presence
// cache (spec §5); pass nil to run with the local tier only.
func New(fetcher PreKeyFetcher, identity *identitymap.Map, ks keystore.Keystore, distributed *cache.ValkeyTTLCache) *Guard {
	return &Guard{
		fetcher:    fetcher,
		identity:   identity,
		ks:         ks,
		cache:      cache.NewTiered(cache.NewTTLCache[bool](CacheTTL), distributed),
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
	}
}

// AssertSessions ensures every jid in the batch has a usable Signal
// session, fetching pre-keys for the ones that don't. Returns whether
// any new session was installed. isGroupContext gates whether
// CompatV6GroupSend downgrades a fetch/install failure to a warning.
func (g *Guard) AssertSessions(ctx context.Context, jids []wireid.JID, isGroupContext bool) (bool, error) {
	jids = dedupe(jids)
	if len(jids) == 0 {
		return false, nil
	}

	var missing []wireid.JID
	for _, j := range jids {
		key := j.SignalAddress()
		if cached, ok := g.cache.Get(ctx, key); ok && cached {
			continue
		}
		valid, err := g.ks.ValidateSession(ctx, j)
		if err != nil {
			return false, err
		}
		g.cache.Set(ctx, key, valid.HasSession)
		if !valid.HasSession {
			missing = append(missing, j)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	missing = g.translateToLID(ctx, missing)

	didFetchNew := false
	for start := 0; start < len(missing); start += g.ChunkSize {
		end := start + g.ChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		bundles, err := g.fetcher.FetchPreKeyBundles(ctx, chunk)
		if err != nil {
			if g.CompatV6GroupSend && isGroupContext {
				log.WithError(err).Warn("pre-key fetch failed for chunk, continuing in V6-compat mode")
				continue
			}
			return didFetchNew, err
		}

		for _, j := range chunk {
			bundle, ok := bundles[j.String()]
			if !ok {
				if g.CompatV6GroupSend && isGroupContext {
					log.WithField("jid", j.String()).Warn("no pre-key bundle returned for peer, skipping in V6-compat mode")
					continue
				}
				continue
			}
			if err := g.ks.InstallSession(ctx, j, bundle); err != nil {
				if g.CompatV6GroupSend && isGroupContext {
					log.WithError(err).WithField("jid", j.String()).Warn("session install failed, continuing in V6-compat mode")
					continue
				}
				return didFetchNew, err
			}
			g.cache.Set(ctx, j.SignalAddress(), true)
			didFetchNew = true
		}

		if end < len(missing) {
			select {
			case <-ctx.Done():
				return didFetchNew, ctx.Err()
			case <-time.After(g.ChunkDelay):
			}
		}
	}

	return didFetchNew, nil
}

// translateToLID swaps each PN JID for its known LID counterpart,
// since the wire prefers LID addressing once a mapping exists (spec §4.3 step 3).
func (g *Guard) translateToLID(ctx context.Context, jids []wireid.JID) []wireid.JID {
	out := make([]wireid.JID, len(jids))
	copy(out, jids)
	for i, j := range out {
		if !j.IsPN() {
			continue
		}
		lid, ok, err := g.identity.LIDForPN(ctx, j)
		if err != nil || !ok {
			continue
		}
		lid.Device = j.Device
		out[i] = lid
	}
	return out
}

func dedupe(jids []wireid.JID) []wireid.JID {
	seen := make(map[string]bool, len(jids))
	out := make([]wireid.JID, 0, len(jids))
	for _, j := range jids {
		key := j.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, j)
	}
	return out
}
