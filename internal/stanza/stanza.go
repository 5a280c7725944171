// Package stanza implements the StanzaBuilder component (spec §4.6):
// assembling the single <message> node produced by a relay call, in
// whichever of the documented shapes the destination and call options
// require.
package stanza

import (
	"crypto/sha256"
	"sort"
	"strconv"

	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// EncryptedRecipient is one pairwise-encrypted envelope destined for a
// single wire JID, produced by the Encryptor before the builder runs.
type EncryptedRecipient struct {
	JID        wireid.JID
	Type       binarynode.EncType
	Ciphertext []byte
	Count      int // retry-resend counter; 0 means "not a retry"
}

// RetryResendParticipant carries the caller-supplied target of a
// retry-resend call (spec §4.6 "Retry-resend").
type RetryResendParticipant struct {
	JID   wireid.JID
	Count int
}

// Params collects everything the builder needs to assemble a stanza.
// Not every field applies to every destination class; see the
// doc comment on each Build* function for which ones matter.
type Params struct {
	ID              string
	Self            wireid.JID // sender's own device JID
	Dest            wireid.JID
	MessageType     binarynode.MessageType
	PayloadBytes    []byte // plaintext application payload, for newsletters only
	MeRecipients    []EncryptedRecipient
	OtherRecipients []EncryptedRecipient
	AddressingMode  binarynode.AddressingMode
	GroupAddressing bool
	Ephemeral       uint32
	DeviceIdentity  []byte // signed device identity, present iff any recipient got pkmsg
	BizNode         *binarynode.Node
	AdditionalNodes []binarynode.Node
	RetryResend     *RetryResendParticipant
	PeerCategory    bool
	PushPriorityHigh bool
	MediaType        binarynode.MediaType // optional mediatype attr on every <enc> this stanza carries
	Edit             binarynode.EditType  // optional edit attr on <message>: edit/pin/delete-own/delete-as-admin
	DecryptFailHide  bool                 // sets decrypt-fail=hide on <enc> for pin-in-chat sends
}

// Build dispatches to the stanza shape matching p.Dest's server and
// p.RetryResend/p.PeerCategory, implementing every branch enumerated
// in spec §4.6.
func Build(p Params) binarynode.Node {
	switch {
	case p.RetryResend != nil:
		return buildRetryResend(p)
	case p.PeerCategory:
		return buildPeer(p)
	case p.Dest.IsNewsletter():
		return buildNewsletter(p)
	case p.Dest.IsGroup() || p.Dest.IsBroadcastList():
		return buildGroupOrStatus(p)
	default:
		return buildOneToOne(p)
	}
}

func baseAttrs(p Params) binarynode.Attrs {
	attrs := binarynode.Attrs{
		"id": p.ID,
		"to": p.Dest.String(),
	}
	if p.MessageType != "" {
		attrs["type"] = string(p.MessageType)
	}
	if p.Edit != "" {
		attrs["edit"] = string(p.Edit)
	}
	return attrs
}

// applyEncAttrs sets the mediatype/decrypt-fail attributes shared by
// every <enc> this stanza emits (spec §4.6: "optional mediatype",
// "decrypt-fail=hide for pin-in-chat").
func applyEncAttrs(attrs binarynode.Attrs, p Params) {
	if p.MediaType != "" {
		attrs["mediatype"] = string(p.MediaType)
	}
	if p.DecryptFailHide {
		attrs["decrypt-fail"] = "hide"
	}
}

// buildNewsletter implements spec §4.6 "Newsletter": a bare
// <plaintext> payload, no per-device encryption at all.
func buildNewsletter(p Params) binarynode.Node {
	n := binarynode.Node{Tag: "message", Attrs: baseAttrs(p)}
	n.AppendChild(binarynode.Node{Tag: "plaintext", Content: p.PayloadBytes})
	return n
}

// buildOneToOne implements spec §4.6 "1:1": a <participants> wrapper
// with one <to> per recipient device, phash computed over the full
// recipient set, excluding the exact sender device.
func buildOneToOne(p Params) binarynode.Node {
	attrs := baseAttrs(p)
	all := append(append([]EncryptedRecipient{}, p.MeRecipients...), p.OtherRecipients...)
	attrs["phash"] = GenerateParticipantHashV2(recipientJIDs(all))

	n := binarynode.Node{Tag: "message", Attrs: attrs}
	participants := binarynode.Node{Tag: "participants"}
	for _, r := range all {
		participants.AppendChild(toNode(r, p))
	}
	n.AppendChild(participants)
	appendDeviceIdentity(&n, p)
	appendTrailers(&n, p)
	return n
}

// buildGroupOrStatus implements spec §4.6 "Group and status": a single
// skmsg envelope plus pairwise SKDM envelopes for devices outside
// sender-key-memory.
func buildGroupOrStatus(p Params) binarynode.Node {
	attrs := baseAttrs(p)
	if p.GroupAddressing {
		attrs["addressing_mode"] = string(p.AddressingMode)
	}
	if p.Ephemeral > 0 {
		attrs["expiration"] = strconv.FormatUint(uint64(p.Ephemeral), 10)
	}

	n := binarynode.Node{Tag: "message", Attrs: attrs}

	// The group ciphertext travels inline; MeRecipients carries exactly
	// one synthetic entry (the skmsg payload) by convention of the
	// Relay caller.
	for _, r := range p.MeRecipients {
		if r.Type == binarynode.EncSKMsg {
			skAttrs := binarynode.Attrs{"v": "2", "type": string(binarynode.EncSKMsg)}
			applyEncAttrs(skAttrs, p)
			n.AppendChild(binarynode.Node{
				Tag:     "enc",
				Attrs:   skAttrs,
				Content: r.Ciphertext,
			})
		}
	}

	if len(p.OtherRecipients) > 0 {
		participants := binarynode.Node{Tag: "participants"}
		for _, r := range p.OtherRecipients {
			participants.AppendChild(toNode(r, p))
		}
		n.AppendChild(participants)
	}

	appendDeviceIdentity(&n, p)
	appendTrailers(&n, p)
	return n
}

// buildRetryResend implements spec §4.6 "Retry-resend": exactly one
// pairwise <enc count=n> envelope, with routing that differs when the
// target participant is the sender themself or a group member.
func buildRetryResend(p Params) binarynode.Node {
	rp := p.RetryResend
	attrs := binarynode.Attrs{"id": p.ID}
	if p.MessageType != "" {
		attrs["type"] = string(p.MessageType)
	}

	if p.Dest.IsGroup() {
		attrs["to"] = p.Dest.String()
		attrs["participant"] = rp.JID.String()
	} else if rp.JID.SameUser(p.Self) {
		attrs["to"] = p.Self.ToNonAD().String()
		attrs["recipient"] = p.Dest.String()
	} else {
		attrs["to"] = rp.JID.String()
	}

	n := binarynode.Node{Tag: "message", Attrs: attrs}

	var enc EncryptedRecipient
	if len(p.MeRecipients) > 0 {
		enc = p.MeRecipients[0]
	} else if len(p.OtherRecipients) > 0 {
		enc = p.OtherRecipients[0]
	}
	encAttrs := binarynode.Attrs{
		"v":     "2",
		"type":  string(enc.Type),
		"count": strconv.Itoa(rp.Count),
	}
	applyEncAttrs(encAttrs, p)
	n.AppendChild(binarynode.Node{Tag: "enc", Attrs: encAttrs, Content: enc.Ciphertext})
	appendDeviceIdentity(&n, p)
	appendTrailers(&n, p)
	return n
}

// buildPeer implements spec §4.6 "Peer": no <participants> wrapper,
// the <enc> lifted directly under <message>, high push priority.
func buildPeer(p Params) binarynode.Node {
	attrs := baseAttrs(p)
	attrs["category"] = "peer"
	if p.PushPriorityHigh {
		attrs["push_priority"] = "high_force"
	}

	n := binarynode.Node{Tag: "message", Attrs: attrs}

	var enc EncryptedRecipient
	if len(p.MeRecipients) > 0 {
		enc = p.MeRecipients[0]
	} else if len(p.OtherRecipients) > 0 {
		enc = p.OtherRecipients[0]
	}
	peerAttrs := binarynode.Attrs{"v": "2", "type": string(enc.Type)}
	applyEncAttrs(peerAttrs, p)
	n.AppendChild(binarynode.Node{Tag: "enc", Attrs: peerAttrs, Content: enc.Ciphertext})
	appendDeviceIdentity(&n, p)
	appendTrailers(&n, p)
	return n
}

// appendDeviceIdentity attaches the signed device identity node
// whenever any recipient received a fresh-session pkmsg (spec §4.4:
// "the stanza MUST include the signed device identity node").
func appendDeviceIdentity(n *binarynode.Node, p Params) {
	if len(p.DeviceIdentity) == 0 {
		return
	}
	needsIt := false
	for _, group := range [][]EncryptedRecipient{p.MeRecipients, p.OtherRecipients} {
		for _, r := range group {
			if r.Type == binarynode.EncPKMsg {
				needsIt = true
				break
			}
		}
	}
	if needsIt {
		n.AppendChild(binarynode.Node{Tag: "device-identity", Content: p.DeviceIdentity})
	}
}

func appendTrailers(n *binarynode.Node, p Params) {
	if p.BizNode != nil {
		n.AppendChild(*p.BizNode)
	}
	n.Content = append(n.Children(), p.AdditionalNodes...)
}

func toNode(r EncryptedRecipient, p Params) binarynode.Node {
	attrs := binarynode.Attrs{"v": "2", "type": string(r.Type)}
	if r.Count > 0 {
		attrs["count"] = strconv.Itoa(r.Count)
	}
	applyEncAttrs(attrs, p)
	return binarynode.Node{
		Tag:   "to",
		Attrs: binarynode.Attrs{"jid": r.JID.String()},
		Content: []binarynode.Node{{
			Tag:     "enc",
			Attrs:   attrs,
			Content: r.Ciphertext,
		}},
	}
}

func recipientJIDs(rs []EncryptedRecipient) []wireid.JID {
	out := make([]wireid.JID, len(rs))
	for i, r := range rs {
		out[i] = r.JID
	}
	return out
}

// GenerateParticipantHashV2 computes the `phash` attribute: a stable
// hash over the sorted set of wire JID strings, matching the
// participant-set fingerprint scheme the forked whatsmeow send path
// uses to let the server detect a recipient-list mismatch cheaply.
func GenerateParticipantHashV2(jids []wireid.JID) string {
	strs := make([]string, len(jids))
	for i, j := range jids {
		strs[i] = j.String()
	}
	sort.Strings(strs)

	h := sha256.New()
	for _, s := range strs {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return "2:" + encodeHashPrefix(sum[:6])
}

func encodeHashPrefix(b []byte) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = alphabet[v>>4]
		out[i*2+1] = alphabet[v&0x0f]
	}
	return string(out)
}
