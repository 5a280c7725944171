package stanza

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

func TestBuildOneToOneTwoDevices(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	peer0 := wireid.MustParse("200@s.whatsapp.net:0")
	peer1 := wireid.MustParse("200@s.whatsapp.net:1")

	n := Build(Params{
		ID:          "abc",
		Self:        self,
		Dest:        peer0.ToNonAD(),
		MessageType: binarynode.MessageTypeText,
		OtherRecipients: []EncryptedRecipient{
			{JID: peer0, Type: binarynode.EncMsg, Ciphertext: []byte("ct0")},
			{JID: peer1, Type: binarynode.EncMsg, Ciphertext: []byte("ct1")},
		},
	})

	assert.Equal(t, "message", n.Tag)
	assert.Equal(t, "text", n.Attrs["type"])
	assert.NotEmpty(t, n.Attrs["phash"])
	assert.Empty(t, n.Attrs["addressing_mode"])

	participants, ok := n.GetChildByTag("participants")
	require.True(t, ok)
	assert.Len(t, participants.Children(), 2)
	for _, to := range participants.Children() {
		assert.NotEqual(t, self.String(), to.Attrs["jid"])
	}
}

func TestBuildOneToOneIncludesDeviceIdentityOnPKMsg(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	peer := wireid.MustParse("200@s.whatsapp.net:0")

	n := Build(Params{
		ID:             "abc",
		Self:           self,
		Dest:           peer.ToNonAD(),
		MessageType:    binarynode.MessageTypeText,
		DeviceIdentity: []byte("signed-identity"),
		OtherRecipients: []EncryptedRecipient{
			{JID: peer, Type: binarynode.EncPKMsg, Ciphertext: []byte("ct")},
		},
	})

	_, ok := n.GetChildByTag("device-identity")
	assert.True(t, ok, "a pkmsg recipient must produce a device-identity child")
}

func TestBuildGroupAddressingModeLID(t *testing.T) {
	group := wireid.MustParse("999@g.us")
	members := []wireid.JID{
		wireid.MustParse("1@lid:0"),
		wireid.MustParse("2@lid:0"),
		wireid.MustParse("3@lid:0"),
	}
	var others []EncryptedRecipient
	for _, m := range members {
		others = append(others, EncryptedRecipient{JID: m, Type: binarynode.EncPKMsg, Ciphertext: []byte("skdm")})
	}

	n := Build(Params{
		ID:              "g1",
		Dest:            group,
		MessageType:     binarynode.MessageTypeText,
		GroupAddressing: true,
		AddressingMode:  binarynode.AddressingModeLID,
		MeRecipients: []EncryptedRecipient{
			{JID: group, Type: binarynode.EncSKMsg, Ciphertext: []byte("group-ct")},
		},
		OtherRecipients: others,
	})

	assert.Equal(t, "lid", n.Attrs["addressing_mode"])
	skmsgCount := 0
	for _, c := range n.Children() {
		if c.Tag == "enc" && c.Attrs["type"] == "skmsg" {
			skmsgCount++
		}
	}
	assert.Equal(t, 1, skmsgCount)

	participants, ok := n.GetChildByTag("participants")
	require.True(t, ok)
	assert.Len(t, participants.Children(), 3)
}

func TestBuildRetryResendToGroupParticipant(t *testing.T) {
	group := wireid.MustParse("999@g.us")
	target := wireid.MustParse("1@lid:0")

	n := Build(Params{
		ID:          "r1",
		Dest:        group,
		MessageType: binarynode.MessageTypeText,
		RetryResend: &RetryResendParticipant{JID: target, Count: 2},
		OtherRecipients: []EncryptedRecipient{
			{JID: target, Type: binarynode.EncMsg, Ciphertext: []byte("ct")},
		},
	})

	assert.Equal(t, group.String(), n.Attrs["to"])
	assert.Equal(t, target.String(), n.Attrs["participant"])
	_, hasParticipants := n.GetChildByTag("participants")
	assert.False(t, hasParticipants)

	enc, ok := n.GetChildByTag("enc")
	require.True(t, ok)
	assert.Equal(t, "2", enc.Attrs["count"])
}

func TestBuildPeerHasNoParticipantsWrapper(t *testing.T) {
	self := wireid.MustParse("100@s.whatsapp.net")
	n := Build(Params{
		ID:               "p1",
		Self:             self,
		Dest:             self.ToNonAD(),
		PeerCategory:     true,
		PushPriorityHigh: true,
		OtherRecipients: []EncryptedRecipient{
			{JID: self, Type: binarynode.EncMsg, Ciphertext: []byte("ct")},
		},
	})

	assert.Equal(t, "peer", n.Attrs["category"])
	assert.Equal(t, "high_force", n.Attrs["push_priority"])
	_, hasParticipants := n.GetChildByTag("participants")
	assert.False(t, hasParticipants)
	_, hasEnc := n.GetChildByTag("enc")
	assert.True(t, hasEnc)
}

func TestBuildNewsletterRoundTripsPlaintext(t *testing.T) {
	dest := wireid.MustParse("555@newsletter")
	payload := []byte("hello world")
	n := Build(Params{ID: "n1", Dest: dest, MessageType: binarynode.MessageTypeText, PayloadBytes: payload})

	plain, ok := n.GetChildByTag("plaintext")
	require.True(t, ok)
	assert.Equal(t, payload, plain.Bytes())
}

func TestGenerateParticipantHashV2StableUnderReorder(t *testing.T) {
	a := []wireid.JID{wireid.MustParse("1@lid:0"), wireid.MustParse("2@lid:0")}
	b := []wireid.JID{wireid.MustParse("2@lid:0"), wireid.MustParse("1@lid:0")}
	assert.Equal(t, GenerateParticipantHashV2(a), GenerateParticipantHashV2(b))
}
