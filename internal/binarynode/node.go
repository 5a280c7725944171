// Package binarynode models the framed binary-node tree the wire
// transport sends and receives. This core only ever produces
// <message>, <iq>, and <receipt> trees; decoding incoming nodes is an
// external collaborator's job (see spec §1 Non-goals).
package binarynode

import (
	"fmt"
	"strconv"
)

// Attrs is the attribute bag of a Node. Values are pre-stringified by
// the caller; JID-typed attributes are stored via their String() form.
type Attrs map[string]string

// Content is either nil, a child-node list, or a raw byte payload
// (ciphertext, ephemeral metadata, ...).
type Content interface{}

// Node is one element of the binary-node tree.
type Node struct {
	Tag     string
	Attrs   Attrs
	Content Content
}

// Children returns the node's children, or nil if Content isn't a node list.
func (n Node) Children() []Node {
	c, _ := n.Content.([]Node)
	return c
}

// Bytes returns the node's raw byte content, or nil if it isn't bytes.
func (n Node) Bytes() []byte {
	b, _ := n.Content.([]byte)
	return b
}

// GetChildByTag returns the first child with the given tag.
func (n Node) GetChildByTag(tag string) (Node, bool) {
	for _, c := range n.Children() {
		if c.Tag == tag {
			return c, true
		}
	}
	return Node{}, false
}

// AppendChild appends a child node to Content, converting Content to a
// node list first if it was empty or already a list.
func (n *Node) AppendChild(child Node) {
	n.Content = append(n.Children(), child)
}

// SetAttrJID stores a fmt.Stringer-typed JID attribute as its wire string.
func (a Attrs) SetAttrJID(key string, jid fmt.Stringer) {
	a[key] = jid.String()
}

// SetInt stores an integer attribute.
func (a Attrs) SetInt(key string, v int) {
	a[key] = strconv.Itoa(v)
}

// EncType enumerates the <enc type=...> values the relay core emits.
type EncType string

const (
	EncMsg   EncType = "msg"
	EncPKMsg EncType = "pkmsg"
	EncSKMsg EncType = "skmsg"
)

// MediaType enumerates the <enc mediatype=...> values.
type MediaType string

const (
	MediaImage             MediaType = "image"
	MediaVideo             MediaType = "video"
	MediaGIF               MediaType = "gif"
	MediaPTT               MediaType = "ptt"
	MediaAudio             MediaType = "audio"
	MediaVCard             MediaType = "vcard"
	MediaDocument          MediaType = "document"
	MediaContactArray      MediaType = "contact_array"
	MediaLiveLocation      MediaType = "livelocation"
	MediaSticker           MediaType = "sticker"
	MediaList              MediaType = "list"
	MediaListResponse      MediaType = "list_response"
	MediaButtonsResponse   MediaType = "buttons_response"
	MediaOrder             MediaType = "order"
	MediaProduct           MediaType = "product"
	MediaNativeFlowResp    MediaType = "native_flow_response"
	MediaURL               MediaType = "url"
)

// MessageType enumerates the <message type=...> values.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypePoll  MessageType = "poll"
	MessageTypeEvent MessageType = "event"
)

// AddressingMode enumerates the <message addressing_mode=...> values.
type AddressingMode string

const (
	AddressingModePN  AddressingMode = "pn"
	AddressingModeLID AddressingMode = "lid"
)

// EditType enumerates the documented <message edit=...> values.
type EditType string

const (
	EditRegular        EditType = "1"
	EditPin            EditType = "2"
	EditDeleteOwn      EditType = "7"
	EditDeleteAsAdmin  EditType = "8"
)
