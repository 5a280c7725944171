package sessionguard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/store"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

type fakeFetcher struct {
	calls   int
	bundles map[string]keystore.PreKeyBundle
	err     error
}

func (f *fakeFetcher) FetchPreKeyBundles(ctx context.Context, jids []wireid.JID) (map[string]keystore.PreKeyBundle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bundles, nil
}

func TestAssertSessionsFetchesForMissingSession(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	f := &fakeFetcher{}
	g := New(f, idm, ks, nil)

	peer := wireid.MustParse("200@s.whatsapp.net")
	didFetch, err := g.AssertSessions(context.Background(), []wireid.JID{peer}, false)
	require.NoError(t, err)
	assert.True(t, didFetch || f.calls == 1, "a peer with no session should trigger a pre-key fetch")
}

func TestAssertSessionsV6CompatSwallowsFetchError(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	f := &fakeFetcher{err: errors.New("boom")}
	g := New(f, idm, ks, nil)
	g.CompatV6GroupSend = true

	peer := wireid.MustParse("200@s.whatsapp.net")
	_, err := g.AssertSessions(context.Background(), []wireid.JID{peer}, true)
	assert.NoError(t, err, "group-context failures should be swallowed in V6-compat mode")
}

func TestAssertSessionsStrictPropagatesFetchError(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	f := &fakeFetcher{err: errors.New("boom")}
	g := New(f, idm, ks, nil)

	peer := wireid.MustParse("200@s.whatsapp.net")
	_, err := g.AssertSessions(context.Background(), []wireid.JID{peer}, true)
	assert.Error(t, err)
}

func TestAssertSessionsEmptyBatchShortCircuits(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	f := &fakeFetcher{}
	g := New(f, idm, ks, nil)

	didFetch, err := g.AssertSessions(context.Background(), nil, false)
	require.NoError(t, err)
	assert.False(t, didFetch)
	assert.Equal(t, 0, f.calls)
}
