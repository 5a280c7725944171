// Package wireproto encodes the two small application-level envelopes
// the relay core needs to build itself: the device-sent-message wrapper
// (so a user's other devices can render their own outgoing message) and
// the sender-key-distribution envelope that carries a group's Signal
// sender key to a single device. Both are encoded as minimal protobuf
// messages via the low-level protowire primitives rather than a full
// generated schema, since the real application message schema (content
// builders) is an explicit external collaborator per spec §1.
package wireproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DeviceSentMessage wraps an outgoing message so the sender's other
// devices can render it without being the addressed peer.
type DeviceSentMessage struct {
	DestinationJID string
	Message        []byte
	Phash          string
}

const (
	fieldDSMDestination = protowire.Number(1)
	fieldDSMMessage     = protowire.Number(2)
	fieldDSMPhash       = protowire.Number(3)
)

// Marshal encodes the DSM envelope.
func (d DeviceSentMessage) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDSMDestination, protowire.BytesType)
	b = protowire.AppendString(b, d.DestinationJID)
	b = protowire.AppendTag(b, fieldDSMMessage, protowire.BytesType)
	b = protowire.AppendBytes(b, d.Message)
	if d.Phash != "" {
		b = protowire.AppendTag(b, fieldDSMPhash, protowire.BytesType)
		b = protowire.AppendString(b, d.Phash)
	}
	return b
}

// UnmarshalDeviceSentMessage decodes a DSM envelope previously produced
// by Marshal. Present for round-trip tests; the core itself never
// decodes incoming stanzas (spec §1 Non-goals).
func UnmarshalDeviceSentMessage(raw []byte) (DeviceSentMessage, error) {
	var out DeviceSentMessage
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return out, fmt.Errorf("wireproto: invalid DSM tag")
		}
		raw = raw[n:]
		switch num {
		case fieldDSMDestination:
			v, n := protowire.ConsumeString(raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid DSM destination field")
			}
			out.DestinationJID = v
			raw = raw[n:]
		case fieldDSMMessage:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid DSM message field")
			}
			out.Message = append([]byte(nil), v...)
			raw = raw[n:]
		case fieldDSMPhash:
			v, n := protowire.ConsumeString(raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid DSM phash field")
			}
			out.Phash = v
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid DSM unknown field")
			}
			raw = raw[n:]
		}
	}
	return out, nil
}

// SenderKeyDistribution wraps a Signal sender-key-distribution message
// for transport to a single device, mirroring the application-level
// envelope WhatsApp places the raw Signal SKDM bytes inside.
type SenderKeyDistribution struct {
	GroupID                       string
	AxolotlSenderKeyDistribution []byte
}

const (
	fieldSKDGroupID  = protowire.Number(1)
	fieldSKDAxolotl  = protowire.Number(2)
)

// Marshal encodes the SKDM envelope.
func (s SenderKeyDistribution) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSKDGroupID, protowire.BytesType)
	b = protowire.AppendString(b, s.GroupID)
	b = protowire.AppendTag(b, fieldSKDAxolotl, protowire.BytesType)
	b = protowire.AppendBytes(b, s.AxolotlSenderKeyDistribution)
	return b
}

// UnmarshalSenderKeyDistribution decodes an SKDM envelope.
func UnmarshalSenderKeyDistribution(raw []byte) (SenderKeyDistribution, error) {
	var out SenderKeyDistribution
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return out, fmt.Errorf("wireproto: invalid SKDM tag")
		}
		raw = raw[n:]
		switch num {
		case fieldSKDGroupID:
			v, n := protowire.ConsumeString(raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid SKDM group id field")
			}
			out.GroupID = v
			raw = raw[n:]
		case fieldSKDAxolotl:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid SKDM axolotl field")
			}
			out.AxolotlSenderKeyDistribution = append([]byte(nil), v...)
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return out, fmt.Errorf("wireproto: invalid SKDM unknown field")
			}
			raw = raw[n:]
		}
	}
	return out, nil
}
