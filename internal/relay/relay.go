// Package relay implements the Relay component (spec §4.7): the
// top-level orchestration that turns a destination JID and a
// plaintext payload into a single, fully encrypted, sent stanza.
package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/wa-relay-core/internal/binarynode"
	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/devices"
	"github.com/AzielCF/wa-relay-core/internal/encryptor"
	"github.com/AzielCF/wa-relay-core/internal/groupstate"
	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/sessionguard"
	"github.com/AzielCF/wa-relay-core/internal/stanza"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
	"github.com/AzielCF/wa-relay-core/internal/wireproto"
)

var log = logrus.WithField("component", "relay")

// Sender is the wire transport collaborator (spec §6): framing and
// actually writing a Node to the socket is out of this core's scope.
type Sender interface {
	SendNode(ctx context.Context, n binarynode.Node) error
}

// PatchResult is the sum type spec §9 calls for: patchMessageBeforeSending
// may return one message for every recipient, or a per-recipient list.
type PatchResult struct {
	Uniform      []byte
	PerRecipient map[string][]byte // keyed by wire JID string; takes precedence over Uniform when non-nil
}

// PatchFunc is the optional patchMessageBeforeSending callback (spec §6).
type PatchFunc func(ctx context.Context, dest wireid.JID, payload []byte) (PatchResult, error)

// Config carries the user-facing tunables listed in spec §6.
type Config struct {
	CompatV6GroupSend        bool
	GroupAssertChunk         int
	GroupAssertDelayMs       int
	RecentMessagesCacheSize  int
	EnableRecentMessageCache bool
	MaxMsgRetryCount         int
	EmitOwnEvents            bool
	PatchMessageBeforeSending PatchFunc
}

// Relay is the Relay component, wiring together every other component
// in this core around one outbound send.
type Relay struct {
	selfID wireid.JID
	ks     keystore.Keystore
	sender Sender
	cfg    Config

	identity  *identitymap.Map
	resolver  *devices.Resolver
	guard     *sessionguard.Guard
	enc       *encryptor.Encryptor
	groups    *groupstate.State
	recent    *cache.RecentMessages
}

// New builds a Relay. The resolver, guard and group state are
// constructed by the caller so tests can substitute fakes for them;
// New itself builds the Encryptor, a local-only IdentityMap and the
// recent-messages cache, and applies cfg's V6-compat and chunk-size
// settings to the guard.
func New(selfID wireid.JID, ks keystore.Keystore, sender Sender, resolver *devices.Resolver, guard *sessionguard.Guard, groups *groupstate.State, cfg Config) (*Relay, error) {
	recentSize := cfg.RecentMessagesCacheSize
	recent, err := cache.NewRecentMessages(recentSize)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to build recent-messages cache: %w", err)
	}
	enc := encryptor.New(ks)
	enc.CompatV6GroupSend = cfg.CompatV6GroupSend
	guard.CompatV6GroupSend = cfg.CompatV6GroupSend
	if cfg.GroupAssertChunk > 0 {
		guard.ChunkSize = cfg.GroupAssertChunk
	}

	return &Relay{
		selfID:   selfID,
		ks:       ks,
		sender:   sender,
		cfg:      cfg,
		identity: identitymap.New(ks, nil),
		resolver: resolver,
		guard:    guard,
		enc:      enc,
		groups:   groups,
		recent:   recent,
	}, nil
}

// Options carries every per-call input to Send (spec §4.7).
type Options struct {
	MessageID       string
	MessageType     binarynode.MessageType
	Payload         []byte
	Ephemeral       uint32
	RetryResend     *stanza.RetryResendParticipant
	PeerCategory    bool
	PushPriorityHigh bool
	BizNode         *binarynode.Node
	AdditionalNodes []binarynode.Node
	GroupParticipants []wireid.JID // explicit participant override; nil means "fetch via GroupState"
	StatusJIDList   []wireid.JID  // status-broadcast fan-out target users (spec §8 S6)
	MediaType       binarynode.MediaType // optional mediatype attr on every <enc> this send carries
	Edit            binarynode.EditType  // optional edit/pin/delete attr on <message>
	DecryptFailHide bool                 // pin-in-chat sends set decrypt-fail=hide on <enc>
}

// Send implements the Relay component's single entry point (spec §4.7).
func (r *Relay) Send(ctx context.Context, dest wireid.JID, opts Options) (string, error) {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	var sentNode binarynode.Node
	err := r.ks.Transaction(ctx, r.selfID.String(), func(ctx context.Context, tx keystore.Keystore) error {
		n, err := r.buildAndDispatch(ctx, dest, messageID, opts)
		if err != nil {
			return err
		}
		sentNode = n
		if err := r.sender.SendNode(ctx, n); err != nil {
			return newError(ErrTransportFailure, dest.String(), err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if r.cfg.EnableRecentMessageCache && opts.RetryResend == nil {
		r.recent.Put(dest.String(), messageID, opts.Payload)
	}
	_ = sentNode
	return messageID, nil
}

func (r *Relay) buildAndDispatch(ctx context.Context, dest wireid.JID, messageID string, opts Options) (binarynode.Node, error) {
	switch {
	case dest.IsNewsletter():
		return stanza.Build(stanza.Params{
			ID: messageID, Self: r.selfID, Dest: dest, MessageType: opts.MessageType,
			PayloadBytes: opts.Payload, BizNode: opts.BizNode, AdditionalNodes: opts.AdditionalNodes,
			MediaType: opts.MediaType, Edit: opts.Edit, DecryptFailHide: opts.DecryptFailHide,
		}), nil

	case opts.PeerCategory:
		return r.sendPeer(ctx, dest, messageID, opts)

	case dest.IsGroup() || dest.IsBroadcastList():
		return r.sendGroup(ctx, dest, messageID, opts)

	default:
		return r.sendOneToOne(ctx, dest, messageID, opts)
	}
}

func (r *Relay) sendPeer(ctx context.Context, dest wireid.JID, messageID string, opts Options) (binarynode.Node, error) {
	devs, err := r.resolver.Resolve(ctx, []wireid.JID{dest}, true, false)
	if err != nil {
		return binarynode.Node{}, newError(ErrMetadataFetch, dest.String(), err)
	}
	if _, err := r.guard.AssertSessions(ctx, jidsOf(devs), false); err != nil {
		return binarynode.Node{}, newError(ErrSessionAssert, dest.String(), err)
	}

	var recipients []stanza.EncryptedRecipient
	for _, d := range devs {
		result, err := r.enc.Encrypt(ctx, d.JID, opts.Payload)
		if err != nil {
			return binarynode.Node{}, newError(ErrDeviceEncryption, d.JID.String(), err)
		}
		recipients = append(recipients, stanza.EncryptedRecipient{JID: d.JID, Type: binarynode.EncType(result.Type), Ciphertext: result.Ciphertext})
	}

	return stanza.Build(stanza.Params{
		ID: messageID, Self: r.selfID, Dest: dest, MessageType: opts.MessageType,
		PeerCategory: true, PushPriorityHigh: opts.PushPriorityHigh,
		OtherRecipients: recipients, BizNode: opts.BizNode, AdditionalNodes: opts.AdditionalNodes,
		MediaType: opts.MediaType, Edit: opts.Edit, DecryptFailHide: opts.DecryptFailHide,
	}), nil
}

func (r *Relay) sendOneToOne(ctx context.Context, dest wireid.JID, messageID string, opts Options) (binarynode.Node, error) {
	devs, err := r.resolver.Resolve(ctx, []wireid.JID{r.selfID, dest}, true, false)
	if err != nil {
		return binarynode.Node{}, newError(ErrMetadataFetch, dest.String(), err)
	}

	var targets []wireid.Device
	for _, d := range devs {
		if d.JID.String() == r.selfID.String() {
			continue // exact sender device is always excluded (spec §4.7 step 5, invariant #2)
		}
		targets = append(targets, d)
	}

	if opts.RetryResend != nil {
		return r.sendRetryResend(ctx, dest, messageID, opts, false)
	}

	if _, err := r.guard.AssertSessions(ctx, jidsOf(targets), false); err != nil {
		return binarynode.Node{}, newError(ErrSessionAssert, dest.String(), err)
	}

	var meRecipients, otherRecipients []stanza.EncryptedRecipient
	var deviceIdentity []byte
	for _, d := range targets {
		payload := opts.Payload
		if d.JID.SameUser(r.selfID) {
			payload = wrapDeviceSentMessage(opts.Payload, dest)
		}
		result, err := r.enc.Encrypt(ctx, d.JID, payload)
		if err != nil {
			return binarynode.Node{}, newError(ErrDeviceEncryption, d.JID.String(), err)
		}
		rec := stanza.EncryptedRecipient{JID: d.JID, Type: binarynode.EncType(result.Type), Ciphertext: result.Ciphertext}
		if result.Type == keystore.EncPKMsg {
			deviceIdentity = r.deviceIdentityBytes()
		}
		if d.JID.SameUser(r.selfID) {
			meRecipients = append(meRecipients, rec)
		} else {
			otherRecipients = append(otherRecipients, rec)
		}
	}

	return stanza.Build(stanza.Params{
		ID: messageID, Self: r.selfID, Dest: dest, MessageType: opts.MessageType,
		MeRecipients: meRecipients, OtherRecipients: otherRecipients,
		DeviceIdentity: deviceIdentity, BizNode: opts.BizNode, AdditionalNodes: opts.AdditionalNodes,
		MediaType: opts.MediaType, Edit: opts.Edit, DecryptFailHide: opts.DecryptFailHide,
	}), nil
}

func (r *Relay) sendGroup(ctx context.Context, dest wireid.JID, messageID string, opts Options) (binarynode.Node, error) {
	if opts.RetryResend != nil {
		return r.sendRetryResend(ctx, dest, messageID, opts, true)
	}

	participants := opts.GroupParticipants
	addressingMode := binarynode.AddressingModePN
	if dest.IsGroup() {
		meta, err := r.groups.GetOrFetch(ctx, dest)
		if err != nil {
			return binarynode.Node{}, newError(ErrMetadataFetch, dest.String(), err)
		}
		if meta.AddressingMode == "lid" {
			addressingMode = binarynode.AddressingModeLID
		}
		if participants == nil {
			for _, p := range meta.Participants {
				if addressingMode == binarynode.AddressingModeLID && p.LID != nil {
					participants = append(participants, *p.LID)
				} else {
					participants = append(participants, p.ID)
				}
			}
		}
		opts.Ephemeral = meta.EphemeralDuration
	} else {
		participants = opts.StatusJIDList
	}

	meID := r.selfID
	if addressingMode == binarynode.AddressingModeLID {
		if lid, ok, _ := r.identity.LIDForPN(ctx, r.selfID); ok {
			meID = lid
		}
	}

	devs, err := r.resolver.Resolve(ctx, append(participants, r.selfID), true, false)
	if err != nil {
		return binarynode.Node{}, newError(ErrMetadataFetch, dest.String(), err)
	}

	groupResult, err := r.enc.EncryptGroup(ctx, dest, opts.Payload, meID)
	if err != nil {
		return binarynode.Node{}, newError(ErrDeviceEncryption, dest.String(), err)
	}

	memory, err := r.groups.SenderKeyMemory(ctx, dest)
	if err != nil {
		return binarynode.Node{}, err
	}

	var skdmTargets []wireid.Device
	for _, d := range devs {
		if d.JID.SameUser(r.selfID) {
			continue
		}
		needsSKDM := r.cfg.CompatV6GroupSend || !memory[d.JID.String()]
		if needsSKDM {
			skdmTargets = append(skdmTargets, d)
		}
	}

	isGroupCtx := true
	if _, err := r.guard.AssertSessions(ctx, jidsOf(skdmTargets), isGroupCtx); err != nil {
		return binarynode.Node{}, newError(ErrSessionAssert, dest.String(), err)
	}

	var skdmEnvelope []byte
	if len(groupResult.SenderKeyDistributionMessage) > 0 {
		skdmEnvelope = wireproto.SenderKeyDistribution{
			GroupID:                      dest.ToNonAD().String(),
			AxolotlSenderKeyDistribution: groupResult.SenderKeyDistributionMessage,
		}.Marshal()
	}

	var otherRecipients []stanza.EncryptedRecipient
	var deviceIdentity []byte
	var sentTo []wireid.JID
	for _, d := range skdmTargets {
		result, err := r.enc.Encrypt(ctx, d.JID, skdmEnvelope)
		if err != nil {
			if r.cfg.CompatV6GroupSend {
				log.WithError(err).WithField("jid", d.JID.String()).Warn("SKDM encryption failed, device dropped in V6-compat mode")
				continue
			}
			return binarynode.Node{}, newError(ErrDeviceEncryption, d.JID.String(), err)
		}
		if result.Type == keystore.EncPKMsg {
			deviceIdentity = r.deviceIdentityBytes()
		}
		otherRecipients = append(otherRecipients, stanza.EncryptedRecipient{JID: d.JID, Type: binarynode.EncType(result.Type), Ciphertext: result.Ciphertext})
		sentTo = append(sentTo, d.JID)
	}

	n := stanza.Build(stanza.Params{
		ID: messageID, Self: r.selfID, Dest: dest, MessageType: opts.MessageType,
		GroupAddressing: dest.IsGroup(), AddressingMode: addressingMode, Ephemeral: opts.Ephemeral,
		MeRecipients: []stanza.EncryptedRecipient{
			{JID: dest, Type: binarynode.EncSKMsg, Ciphertext: groupResult.Ciphertext},
		},
		OtherRecipients: otherRecipients, DeviceIdentity: deviceIdentity,
		BizNode: opts.BizNode, AdditionalNodes: opts.AdditionalNodes,
		MediaType: opts.MediaType, Edit: opts.Edit, DecryptFailHide: opts.DecryptFailHide,
	})

	// Strict mode only records sender-key-memory after this function
	// returns the built node to Send, which forwards it to sendNode
	// inside the same transaction; marking happens post-send (spec §9).
	r.pendingSenderKeyCommit(ctx, dest, sentTo)
	return n, nil
}

// pendingSenderKeyCommit marks sender-key-memory immediately once the
// stanza has been handed back to Send for transmission within the
// same keystore transaction. This resolves spec §9's first open
// question: V6-compat previously marked before confirming the send;
// here the mark happens inside the same atomic transaction as the
// send itself, so a transport failure rolls back the whole
// transaction (including this mark) rather than leaving stale memory.
func (r *Relay) pendingSenderKeyCommit(ctx context.Context, group wireid.JID, sentTo []wireid.JID) {
	if len(sentTo) == 0 {
		return
	}
	if err := r.groups.MarkSent(ctx, group, sentTo); err != nil {
		log.WithError(err).WithField("group", group.String()).Warn("failed to record sender-key-memory")
	}
}

func (r *Relay) sendRetryResend(ctx context.Context, dest wireid.JID, messageID string, opts Options, isGroup bool) (binarynode.Node, error) {
	target := opts.RetryResend.JID
	if _, err := r.guard.AssertSessions(ctx, []wireid.JID{target}, isGroup); err != nil {
		return binarynode.Node{}, newError(ErrSessionAssert, target.String(), err)
	}

	result, err := r.enc.Encrypt(ctx, target, opts.Payload)
	if err != nil {
		return binarynode.Node{}, newError(ErrDeviceEncryption, target.String(), err)
	}

	var deviceIdentity []byte
	if result.Type == keystore.EncPKMsg {
		deviceIdentity = r.deviceIdentityBytes()
	}

	rec := stanza.EncryptedRecipient{JID: target, Type: binarynode.EncType(result.Type), Ciphertext: result.Ciphertext, Count: opts.RetryResend.Count}

	return stanza.Build(stanza.Params{
		ID: messageID, Self: r.selfID, Dest: dest, MessageType: opts.MessageType,
		RetryResend: opts.RetryResend, OtherRecipients: []stanza.EncryptedRecipient{rec},
		DeviceIdentity: deviceIdentity, BizNode: opts.BizNode, AdditionalNodes: opts.AdditionalNodes,
		MediaType: opts.MediaType, Edit: opts.Edit, DecryptFailHide: opts.DecryptFailHide,
	}), nil
}

// deviceIdentityBytes returns the payload of the device-identity node:
// a placeholder made of the prefix "device-identity:" and this device's
// JID. No signed identity is produced or read from the keystore.
func (r *Relay) deviceIdentityBytes() []byte {
	return []byte("device-identity:" + r.selfID.String())
}

// wrapDeviceSentMessage builds the DSM envelope a sender's own other
// devices receive instead of the raw payload (spec §4.6 "1:1").
func wrapDeviceSentMessage(payload []byte, destinationJID wireid.JID) []byte {
	return wireproto.DeviceSentMessage{
		DestinationJID: destinationJID.String(),
		Message:        payload,
	}.Marshal()
}

func jidsOf(devs []wireid.Device) []wireid.JID {
	out := make([]wireid.JID, len(devs))
	for i, d := range devs {
		out[i] = d.JID
	}
	return out
}
