// Package wireid implements the JID addressing model described by the
// wire protocol: phone-number identities, LID identities, groups,
// newsletters and status broadcasts all share one parsed representation.
package wireid

import (
	"fmt"
	"strconv"
	"strings"
)

// Server identifies which identity space a JID's user belongs to.
type Server string

const (
	ServerPN          Server = "s.whatsapp.net"
	ServerLID         Server = "lid"
	ServerGroup       Server = "g.us"
	ServerNewsletter  Server = "newsletter"
	ServerBroadcast   Server = "broadcast"
	ServerHosted      Server = "hosted"
	ServerHostedLID   Server = "hosted.lid"
	ServerLegacyUser  Server = "c.us"
)

// StatusBroadcastUser is the well-known user part of the status feed JID.
const StatusBroadcastUser = "status"

// JID is the parsed form of a wire address: user@server[:device][.agent].
type JID struct {
	User   string
	Agent  uint8
	Device uint16
	Server Server
}

// NewJID builds a device-less JID for the given user/server pair.
func NewJID(user string, server Server) JID {
	return JID{User: user, Server: server}
}

// NewWireJID builds a device-qualified JID.
func NewWireJID(user string, server Server, device uint16) JID {
	return JID{User: user, Server: server, Device: device}
}

// StatusBroadcastJID is the fixed destination for status updates.
func StatusBroadcastJID() JID {
	return JID{User: StatusBroadcastUser, Server: ServerBroadcast}
}

// IsEmpty reports whether j is the zero value.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}

// ToNonAD strips the device suffix, returning the user-level JID used to
// compare "same user" identity regardless of which device sent a stanza.
func (j JID) ToNonAD() JID {
	return JID{User: j.User, Server: j.Server}
}

// SameUser reports whether j and other address the same user, ignoring device.
func (j JID) SameUser(other JID) bool {
	return j.User == other.User && j.Server == other.Server
}

// IsLID reports whether this JID lives in the LID identity space.
func (j JID) IsLID() bool {
	return j.Server == ServerLID || j.Server == ServerHostedLID
}

// IsPN reports whether this JID lives in the phone-number identity space.
func (j JID) IsPN() bool {
	return j.Server == ServerPN || j.Server == ServerHosted || j.Server == ServerLegacyUser
}

// IsGroup reports whether this JID addresses a group chat.
func (j JID) IsGroup() bool {
	return j.Server == ServerGroup
}

// IsBroadcastList reports whether this JID is the status broadcast feed.
func (j JID) IsBroadcastList() bool {
	return j.Server == ServerBroadcast
}

// IsNewsletter reports whether this JID addresses a newsletter/channel.
func (j JID) IsNewsletter() bool {
	return j.Server == ServerNewsletter
}

// SignalAddress is the identifier used to key a Signal-protocol session,
// combining the user and device the way the protocol address space expects.
func (j JID) SignalAddress() string {
	return fmt.Sprintf("%s.%d", j.User, j.Device)
}

// String renders the JID back into wire form.
func (j JID) String() string {
	var sb strings.Builder
	if j.Agent > 0 {
		sb.WriteString(j.User)
		sb.WriteByte('.')
		sb.WriteString(strconv.Itoa(int(j.Agent)))
	} else {
		sb.WriteString(j.User)
	}
	if j.Device > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(j.Device)))
	}
	sb.WriteByte('@')
	sb.WriteString(string(j.Server))
	return sb.String()
}

// Parse decodes a wire-form JID string into its components.
func Parse(raw string) (JID, error) {
	if raw == "" {
		return JID{}, fmt.Errorf("wireid: empty JID")
	}
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return JID{}, fmt.Errorf("wireid: %q has no server part", raw)
	}
	userPart, server := raw[:at], raw[at+1:]
	if server == "" {
		return JID{}, fmt.Errorf("wireid: %q has empty server", raw)
	}

	var device uint16
	if colon := strings.IndexByte(userPart, ':'); colon >= 0 {
		devStr := userPart[colon+1:]
		userPart = userPart[:colon]
		d, err := strconv.ParseUint(devStr, 10, 16)
		if err != nil {
			return JID{}, fmt.Errorf("wireid: %q has invalid device: %w", raw, err)
		}
		device = uint16(d)
	}

	var agent uint8
	if dot := strings.IndexByte(userPart, '.'); dot >= 0 {
		agentStr := userPart[dot+1:]
		userPart = userPart[:dot]
		a, err := strconv.ParseUint(agentStr, 10, 8)
		if err != nil {
			return JID{}, fmt.Errorf("wireid: %q has invalid agent: %w", raw, err)
		}
		agent = uint8(a)
	}

	return JID{User: userPart, Agent: agent, Device: device, Server: Server(server)}, nil
}

// MustParse is Parse but panics on error; only meant for constants/tests.
func MustParse(raw string) JID {
	j, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return j
}

// Device couples a resolved wire JID with its owning user and numeric
// device id, as produced by DeviceResolver.
type Device struct {
	User   string
	Device uint16
	JID    JID
}
