// Package devices implements the DeviceResolver component (spec
// §4.2): turning a batch of user-level or explicit-device JIDs into
// the concrete wire JIDs the server currently advertises for them,
// backed by a USync query and a short-TTL per-user cache.
package devices

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/wa-relay-core/internal/cache"
	"github.com/AzielCF/wa-relay-core/internal/identitymap"
	"github.com/AzielCF/wa-relay-core/internal/keystore"
	"github.com/AzielCF/wa-relay-core/internal/wireid"
)

// CacheTTL is the user-devices cache freshness window (spec §4.2).
const CacheTTL = 5 * time.Minute

var log = logrus.WithField("component", "devices")

// USyncQuerier issues the <iq type=get xmlns=usync> device/LID
// discovery query against the wire transport. It is an external
// collaborator (spec §6): this core never frames the query itself.
type USyncQuerier interface {
	QueryDevices(ctx context.Context, users []wireid.JID) ([]USyncDeviceResult, error)
}

// USyncDeviceResult is one row of a USync response: a user's current
// device list plus, when the server opted the user into LID
// addressing, the LID mapping for that user.
type USyncDeviceResult struct {
	User        wireid.JID
	Devices     []uint16
	OriginalJID *wireid.JID // set when the device's wire JID differs from user@server:device
	LIDMapping  *wireid.JID // set when the response carried an opt-in PN->LID mapping
}

// Resolver is the DeviceResolver component.
type Resolver struct {
	querier  USyncQuerier
	identity *identitymap.Map
	ks       keystore.Keystore
	cache    *cache.Tiered[[]wireid.Device]
}

// New builds a Resolver. distributed is the optional Valkey-backed
// tier for multi-process deployments (spec §5's "process-wide" user-
// devices cache); pass nil to run with the local tier only.
func New(querier USyncQuerier, identity *identitymap.Map, ks keystore.Keystore, distributed *cache.ValkeyTTLCache) *Resolver {
	return &Resolver{
		querier:  querier,
		identity: identity,
		ks:       ks,
		cache:    cache.NewTiered(cache.NewTTLCache[[]wireid.Device](CacheTTL), distributed),
	}
}

// Resolve expands jids into concrete devices. Explicit-device inputs
// (Device != 0) are passed through unchanged; the rest are resolved
// via cache or USync.
// ignoreZeroDevices suppresses each user's primary (device 0) entry,
// used by fan-out modes that never want the phone itself addressed.
func (r *Resolver) Resolve(ctx context.Context, jids []wireid.JID, useCache, ignoreZeroDevices bool) ([]wireid.Device, error) {
	if len(jids) == 0 {
		return nil, nil
	}

	var explicit []wireid.Device
	userSet := make(map[string]wireid.JID)
	for _, j := range jids {
		if j.Device != 0 {
			explicit = append(explicit, wireid.Device{User: j.User, Device: j.Device, JID: j})
			continue
		}
		userSet[j.ToNonAD().String()] = j.ToNonAD()
	}

	var toFetch []wireid.JID
	result := explicit
	for key, user := range userSet {
		if useCache {
			if devs, ok := r.cache.Get(ctx, key); ok {
				result = append(result, filterZero(devs, ignoreZeroDevices)...)
				continue
			}
		}
		toFetch = append(toFetch, user)
	}

	if len(toFetch) == 0 {
		return result, nil
	}

	rows, err := r.querier.QueryDevices(ctx, toFetch)
	if err != nil {
		return nil, err
	}

	var mappings [][2]wireid.JID
	for _, row := range rows {
		if row.LIDMapping != nil {
			mappings = append(mappings, [2]wireid.JID{row.User.ToNonAD(), row.LIDMapping.ToNonAD()})
		}
	}
	if len(mappings) > 0 {
		if err := r.identity.StoreMappings(ctx, mappings); err != nil {
			log.WithError(err).Warn("failed to persist LID mappings extracted from USync response")
		}
	}

	deviceListByUser := make(map[string][]wireid.Device, len(rows))
	for _, row := range rows {
		devs := make([]wireid.Device, 0, len(row.Devices))
		for _, d := range row.Devices {
			wireJID := row.User
			if row.OriginalJID != nil {
				wireJID = *row.OriginalJID
			}
			wireJID.Device = d
			devs = append(devs, wireid.Device{User: row.User.User, Device: d, JID: wireJID})
		}
		deviceListByUser[row.User.ToNonAD().String()] = devs
		r.cache.Set(ctx, row.User.ToNonAD().String(), devs)
		result = append(result, filterZero(devs, ignoreZeroDevices)...)
	}

	if err := r.persistDeviceLists(ctx, deviceListByUser); err != nil {
		log.WithError(err).Warn("failed to persist device lists to keystore")
	}

	return result, nil
}

func filterZero(devs []wireid.Device, ignoreZero bool) []wireid.Device {
	if !ignoreZero {
		return devs
	}
	out := devs[:0:0]
	for _, d := range devs {
		if d.Device != 0 {
			out = append(out, d)
		}
	}
	return out
}

// persistDeviceLists writes each user's resolved device list under the
// device-list namespace for bulk migration by other components (spec §4.2 step 5).
func (r *Resolver) persistDeviceLists(ctx context.Context, byUser map[string][]wireid.Device) error {
	data := map[keystore.Namespace]map[string]any{
		keystore.NamespaceDeviceList: {},
	}
	for user, devs := range byUser {
		data[keystore.NamespaceDeviceList][user] = devs
	}
	return r.ks.Set(ctx, data)
}
