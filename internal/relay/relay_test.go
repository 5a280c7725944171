package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/devices"
	"github.com/AzielCF/wa-relay-core/internal/groupstate"
	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/sessionguard"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// fakeKeystore is a hand-written collaborator fake: every crypto call
// returns a canned, deterministic ciphertext so the relay pipeline can
// be exercised without a real Signal handshake.
type fakeKeystore struct {
	data          map[keystore.Namespace]map[string]any
	hasSession    bool
	lidMapping    *fakeLIDMapping
	encryptCalls  int
	groupEncCalls int
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{
		data:       map[keystore.Namespace]map[string]any{},
		hasSession: true,
		lidMapping: &fakeLIDMapping{pnToLID: map[string]wireid.JID{}, lidToPN: map[string]wireid.JID{}},
	}
}

func (f *fakeKeystore) Transaction(ctx context.Context, scope string, fn keystore.TxFunc) error {
	return fn(ctx, f)
}

func (f *fakeKeystore) Get(ctx context.Context, ns keystore.Namespace, keys []string) (map[string]any, error) {
	out := map[string]any{}
	bucket := f.data[ns]
	for _, k := range keys {
		if v, ok := bucket[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeKeystore) Set(ctx context.Context, data map[keystore.Namespace]map[string]any) error {
	for ns, kv := range data {
		bucket, ok := f.data[ns]
		if !ok {
			bucket = map[string]any{}
			f.data[ns] = bucket
		}
		for k, v := range kv {
			bucket[k] = v
		}
	}
	return nil
}

func (f *fakeKeystore) ValidateSession(ctx context.Context, jid wireid.JID) (keystore.SessionValidation, error) {
	return keystore.SessionValidation{HasSession: f.hasSession}, nil
}

func (f *fakeKeystore) EncryptMessage(ctx context.Context, jid wireid.JID, plaintext []byte) (keystore.EncryptResult, error) {
	f.encryptCalls++
	return keystore.EncryptResult{Type: keystore.EncMsg, Ciphertext: append([]byte("ct:"), plaintext...)}, nil
}

func (f *fakeKeystore) EncryptGroupMessage(ctx context.Context, group wireid.JID, plaintext []byte, meID wireid.JID) (keystore.GroupEncryptResult, error) {
	f.groupEncCalls++
	return keystore.GroupEncryptResult{Ciphertext: append([]byte("group-ct:"), plaintext...), SenderKeyDistributionMessage: []byte("skdm")}, nil
}

func (f *fakeKeystore) DecryptMessage(ctx context.Context, jid wireid.JID, encType keystore.EncType, ciphertext []byte) ([]byte, error) {
	return nil, nil
}

func (f *fakeKeystore) InstallSession(ctx context.Context, jid wireid.JID, bundle keystore.PreKeyBundle) error {
	f.hasSession = true
	return nil
}

func (f *fakeKeystore) LIDMapping() keystore.LIDMappingStore { return f.lidMapping }

type fakeLIDMapping struct {
	pnToLID map[string]wireid.JID
	lidToPN map[string]wireid.JID
}

func (m *fakeLIDMapping) StoreLIDPNMappings(ctx context.Context, pairs [][2]wireid.JID) error {
	for _, p := range pairs {
		m.pnToLID[p[0].String()] = p[1]
		m.lidToPN[p[1].String()] = p[0]
	}
	return nil
}
func (m *fakeLIDMapping) GetLIDForPN(ctx context.Context, pn wireid.JID) (wireid.JID, bool, error) {
	v, ok := m.pnToLID[pn.String()]
	return v, ok, nil
}
func (m *fakeLIDMapping) GetPNForLID(ctx context.Context, lid wireid.JID) (wireid.JID, bool, error) {
	v, ok := m.lidToPN[lid.String()]
	return v, ok, nil
}
func (m *fakeLIDMapping) GetLIDsForPNs(ctx context.Context, pns []wireid.JID) (map[string]wireid.JID, error) {
	out := map[string]wireid.JID{}
	for _, pn := range pns {
		if v, ok := m.pnToLID[pn.String()]; ok {
			out[pn.String()] = v
		}
	}
	return out, nil
}

type fakeSender struct {
	sent []binarynode.Node
	err  error
}

func (s *fakeSender) SendNode(ctx context.Context, n binarynode.Node) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

type fakeQuerier struct {
	devicesByUser map[string][]uint16
}

func (q *fakeQuerier) QueryDevices(ctx context.Context, users []wireid.JID) ([]devices.USyncDeviceResult, error) {
	var out []devices.USyncDeviceResult
	for _, u := range users {
		out = append(out, devices.USyncDeviceResult{User: u, Devices: q.devicesByUser[u.ToNonAD().String()]})
	}
	return out, nil
}

type fakePreKeyFetcher struct{}

func (fakePreKeyFetcher) FetchPreKeyBundles(ctx context.Context, jids []wireid.JID) (map[string]keystore.PreKeyBundle, error) {
	out := map[string]keystore.PreKeyBundle{}
	for _, j := range jids {
		out[j.String()] = keystore.PreKeyBundle{RegistrationID: 1}
	}
	return out, nil
}

type fakeMetadataFetcher struct {
	meta groupstate.Metadata
}

func (f fakeMetadataFetcher) FetchGroupMetadata(ctx context.Context, group wireid.JID) (groupstate.Metadata, error) {
	return f.meta, nil
}

func buildTestRelay(t *testing.T, self wireid.JID, q *fakeQuerier, meta groupstate.Metadata, ks *fakeKeystore, sender *fakeSender) *Relay {
	t.Helper()
	idm := identitymap.New(ks, nil)
	resolver := devices.New(q, idm, ks, nil)
	guard := sessionguard.New(fakePreKeyFetcher{}, idm, ks, nil)
	gs := groupstate.New(fakeMetadataFetcher{meta: meta}, ks, nil, nil)

	rl, err := New(self, ks, sender, resolver, guard, gs, Config{EnableRecentMessageCache: true})
	require.NoError(t, err)
	return rl
}

func TestSendOneToOneExcludesSenderDevice(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	peer := wireid.MustParse("200@s.whatsapp.net")
	q := &fakeQuerier{devicesByUser: map[string][]uint16{
		peer.String():  {0, 1},
		self.String():  {0},
	}}
	ks := newFakeKeystore()
	sender := &fakeSender{}
	rl := buildTestRelay(t, self, q, groupstate.Metadata{}, ks, sender)

	msgID, err := rl.Send(context.Background(), peer, Options{
		MessageType: binarynode.MessageTypeText,
		Payload:     []byte("hello"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)
	require.Len(t, sender.sent, 1)

	n := sender.sent[0]
	participants, ok := n.GetChildByTag("participants")
	require.True(t, ok)
	for _, to := range participants.Children() {
		assert.NotEqual(t, self.String(), to.Attrs["jid"])
	}
}

func TestSendGroupProducesSKMsgAndMarksSenderKeyMemory(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	group := wireid.MustParse("999@g.us")
	memberA := wireid.MustParse("1@s.whatsapp.net")
	memberB := wireid.MustParse("2@s.whatsapp.net")

	meta := groupstate.Metadata{
		ID:             group,
		AddressingMode: "pn",
		Participants: []groupstate.Participant{
			{ID: memberA}, {ID: memberB},
		},
	}
	q := &fakeQuerier{devicesByUser: map[string][]uint16{
		memberA.String(): {0},
		memberB.String(): {0},
		self.String():    {0},
	}}
	ks := newFakeKeystore()
	sender := &fakeSender{}
	rl := buildTestRelay(t, self, q, meta, ks, sender)

	_, err := rl.Send(context.Background(), group, Options{
		MessageType: binarynode.MessageTypeText,
		Payload:     []byte("group hello"),
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	n := sender.sent[0]
	skmsgCount := 0
	for _, c := range n.Children() {
		if c.Tag == "enc" && c.Attrs["type"] == "skmsg" {
			skmsgCount++
		}
	}
	assert.Equal(t, 1, skmsgCount)

	mem, err := rl.groups.SenderKeyMemory(context.Background(), group)
	require.NoError(t, err)
	assert.True(t, mem[memberA.String()])
	assert.True(t, mem[memberB.String()])
}

func TestSendTransportFailureAbortsTransaction(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	peer := wireid.MustParse("200@s.whatsapp.net")
	q := &fakeQuerier{devicesByUser: map[string][]uint16{peer.String(): {0}, self.String(): {0}}}
	ks := newFakeKeystore()
	sender := &fakeSender{err: assert.AnError}
	rl := buildTestRelay(t, self, q, groupstate.Metadata{}, ks, sender)

	_, err := rl.Send(context.Background(), peer, Options{MessageType: binarynode.MessageTypeText, Payload: []byte("x")})
	require.Error(t, err)
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, ErrTransportFailure, relayErr.Kind)
}
