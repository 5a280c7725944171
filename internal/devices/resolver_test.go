package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/store"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

type fakeQuerier struct {
	calls int
	rows  []USyncDeviceResult
}

func (f *fakeQuerier) QueryDevices(ctx context.Context, users []wireid.JID) ([]USyncDeviceResult, error) {
	f.calls++
	return f.rows, nil
}

func TestResolverExplicitDevicePassesThrough(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	q := &fakeQuerier{}
	r := New(q, idm, ks, nil)

	jid := wireid.MustParse("100@s.whatsapp.net:5")
	devs, err := r.Resolve(context.Background(), []wireid.JID{jid}, true, false)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, uint16(5), devs[0].Device)
	assert.Equal(t, 0, q.calls)
}

func TestResolverFetchesAndCachesByUser(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	peer := wireid.MustParse("200@s.whatsapp.net")
	q := &fakeQuerier{rows: []USyncDeviceResult{
		{User: peer, Devices: []uint16{0, 1}},
	}}
	r := New(q, idm, ks, nil)

	devs, err := r.Resolve(context.Background(), []wireid.JID{peer}, true, false)
	require.NoError(t, err)
	assert.Len(t, devs, 2)
	assert.Equal(t, 1, q.calls)

	devs2, err := r.Resolve(context.Background(), []wireid.JID{peer}, true, false)
	require.NoError(t, err)
	assert.Len(t, devs2, 2)
	assert.Equal(t, 1, q.calls, "second resolve should hit the cache, not re-query")
}

func TestResolverIgnoreZeroDevices(t *testing.T) {
	ks := store.NewMemory(wireid.MustParse("100@s.whatsapp.net"))
	idm := identitymap.New(ks, nil)
	peer := wireid.MustParse("200@s.whatsapp.net")
	q := &fakeQuerier{rows: []USyncDeviceResult{
		{User: peer, Devices: []uint16{0, 1, 2}},
	}}
	r := New(q, idm, ks, nil)

	devs, err := r.Resolve(context.Background(), []wireid.JID{peer}, true, true)
	require.NoError(t, err)
	for _, d := range devs {
		assert.NotEqual(t, uint16(0), d.Device)
	}
}
