// Package receipts composes <receipt> stanzas (spec §6), the
// companion call to Relay for acknowledging inbound messages.
package receipts

import (
	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// Type enumerates the receipt kinds this core can compose.
type Type string

const (
	TypeRead     Type = "read"
	TypeReadSelf Type = "read-self"
	TypeSender   Type = "sender"
	TypePlayed   Type = "played"
)

// Key identifies one message to acknowledge.
type Key struct {
	ChatJID     wireid.JID
	Participant wireid.JID // zero value when not-from-group
	MessageID   string
}

// Build aggregates keys, grouped by (jid, participant), into one
// <receipt> stanza per group: the first id in each group becomes the
// stanza's `id` attribute, the rest populate a <list> of <item>
// children (spec §6). Keys are not filtered by sender: every key
// passed in is acknowledged.
func Build(receiptType Type, keys []Key) []binarynode.Node {
	type groupKey struct {
		jid, participant string
	}
	order := make([]groupKey, 0, len(keys))
	groups := make(map[groupKey][]string)

	for _, k := range keys {
		gk := groupKey{jid: k.ChatJID.String()}
		if !k.Participant.IsEmpty() {
			gk.participant = k.Participant.String()
		}
		if _, ok := groups[gk]; !ok {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], k.MessageID)
	}

	nodes := make([]binarynode.Node, 0, len(order))
	for _, gk := range order {
		ids := groups[gk]
		attrs := binarynode.Attrs{
			"id":   ids[0],
			"to":   gk.jid,
			"type": string(receiptType),
		}
		if gk.participant != "" {
			attrs["participant"] = gk.participant
		}
		n := binarynode.Node{Tag: "receipt", Attrs: attrs}
		if len(ids) > 1 {
			list := binarynode.Node{Tag: "list"}
			for _, id := range ids[1:] {
				list.AppendChild(binarynode.Node{Tag: "item", Attrs: binarynode.Attrs{"id": id}})
			}
			n.AppendChild(list)
		}
		nodes = append(nodes, n)
	}
	return nodes
}
