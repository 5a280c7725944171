package groupstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/wa-relay-core/internal/store"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

type fakeFetcher struct {
	calls int
	meta  Metadata
	err   error
}

func (f *fakeFetcher) FetchGroupMetadata(ctx context.Context, group wireid.JID) (Metadata, error) {
	f.calls++
	if f.err != nil {
		return Metadata{}, f.err
	}
	return f.meta, nil
}

func TestGetOrFetchCachesWithinFreshnessWindow(t *testing.T) {
	group := wireid.MustParse("111@g.us")
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	f := &fakeFetcher{meta: Metadata{ID: group, AddressingMode: "lid"}}
	s := New(f, ks, nil, nil)

	m1, err := s.GetOrFetch(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, "lid", m1.AddressingMode)

	_, err = s.GetOrFetch(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls, "second call within freshness window should not refetch")
}

func TestGetOrFetchPropagatesFetchError(t *testing.T) {
	group := wireid.MustParse("111@g.us")
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	f := &fakeFetcher{err: errors.New("network down")}
	s := New(f, ks, nil, nil)

	_, err := s.GetOrFetch(context.Background(), group)
	assert.Error(t, err)
}

func TestMarkSentAndSenderKeyMemoryRoundTrip(t *testing.T) {
	group := wireid.MustParse("111@g.us")
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	s := New(&fakeFetcher{}, ks, nil, nil)

	peer := wireid.MustParse("200@lid:1")
	require.NoError(t, s.MarkSent(context.Background(), group, []wireid.JID{peer}))

	mem, err := s.SenderKeyMemory(context.Background(), group)
	require.NoError(t, err)
	assert.True(t, mem[peer.String()])
}

func TestResetSenderKeyMemoryClears(t *testing.T) {
	group := wireid.MustParse("111@g.us")
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	s := New(&fakeFetcher{}, ks, nil, nil)
	peer := wireid.MustParse("200@lid:1")
	require.NoError(t, s.MarkSent(context.Background(), group, []wireid.JID{peer}))

	require.NoError(t, s.ResetSenderKeyMemory(context.Background(), group))

	mem, err := s.SenderKeyMemory(context.Background(), group)
	require.NoError(t, err)
	assert.Empty(t, mem)
}

func TestCallerSuppliedCacheTakesPrecedence(t *testing.T) {
	group := wireid.MustParse("111@g.us")
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	f := &fakeFetcher{meta: Metadata{ID: group, AddressingMode: "pn"}}
	userCache := func(ctx context.Context, g wireid.JID) (*Metadata, bool) {
		return &Metadata{ID: g, AddressingMode: "lid"}, true
	}
	s := New(f, ks, userCache, nil)

	m, err := s.GetOrFetch(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, "lid", m.AddressingMode)
	assert.Equal(t, 0, f.calls)
}
