package device

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// The functions in this file mutate a Device the caller owns exclusively,
// the registry's private clone inside its critical section. They collect
// Change and OnlineEvent records; the registry emits those only after the
// clone has been swapped in and the lock released. None of them do I/O.

// absorption pins the bookkeeping for one absorb batch: where the data came
// from, the notification's own timestamp for change records, and the local
// receive time for freshness tracking.
type absorption struct {
	source Source
	ts     time.Time
	now    time.Time
}

// subListing is one authoritative sub-device row, from either the hub's own
// SubdeviceList or the cloud endpoint. Only the cloud rows carry names.
type subListing struct {
	features.SubDeviceInfo
	Name   string
	IconID string
}

// fromDescriptor builds an uninitialized shell from one cloud listing row.
func fromDescriptor(row cloud.DeviceDescriptor, now time.Time) *Device {
	return &Device{
		UUID:            row.UUID,
		Name:            row.Name,
		Type:            row.Type,
		SubType:         row.SubType,
		HardwareVersion: row.HardwareVersion,
		FirmwareVersion: row.FirmwareVersion,
		Region:          row.Region,
		Domain:          row.Domain,
		ReservedDomain:  row.ReservedDomain,
		Channels:        channelsFromDescriptor(row.Channels),
		OnlineStatus:    features.OnlineStatus(row.OnlineStatus),
		OnlineUpdatedAt: now,
	}
}

// channelsFromDescriptor converts listing channel rows. A device with no
// rows still has its master channel.
func channelsFromDescriptor(rows []cloud.ChannelDef) []ChannelInfo {
	if len(rows) == 0 {
		return []ChannelInfo{{Index: 0, IsMaster: true}}
	}
	out := make([]ChannelInfo, len(rows))
	for i, row := range rows {
		out[i] = ChannelInfo{Index: i, Name: row.Name, Type: row.Type, IsMaster: i == 0}
	}
	return out
}

// applyDescriptor refreshes listing-owned metadata on an existing entry.
// Availability is only taken from the listing while the device has no
// broker session; after that the broker is the authority.
func (d *Device) applyDescriptor(row cloud.DeviceDescriptor, now time.Time) {
	d.Name = row.Name
	d.SubType = row.SubType
	d.Region = row.Region
	d.Domain = row.Domain
	d.ReservedDomain = row.ReservedDomain
	if len(row.Channels) > 0 {
		d.Channels = channelsFromDescriptor(row.Channels)
	}
	if !d.Initialized {
		d.Type = row.Type
		d.HardwareVersion = row.HardwareVersion
		d.FirmwareVersion = row.FirmwareVersion
		d.OnlineStatus = features.OnlineStatus(row.OnlineStatus)
		d.OnlineUpdatedAt = now
	}
}

// toChanges lifts reducer field diffs into change records.
func toChanges(uuid, subID, feature string, channel int, diffs []features.FieldChange, a absorption) []Change {
	if len(diffs) == 0 {
		return nil
	}
	out := make([]Change, 0, len(diffs))
	for _, fc := range diffs {
		out = append(out, Change{
			DeviceUUID:  uuid,
			SubDeviceID: subID,
			Type:        feature + "." + fc.Field,
			Channel:     channel,
			Old:         fc.Old,
			New:         fc.New,
			Source:      a.source,
			Timestamp:   a.ts,
		})
	}
	return out
}

// applyEntry reduces one entry into the device's own state table.
func (d *Device) applyEntry(def *features.FeatureDef, entry json.RawMessage, a absorption) ([]Change, error) {
	channel := features.ChannelOf(entry)
	next, diffs, err := def.Reduce(d.State(def.Name, channel), entry)
	if err != nil {
		return nil, err
	}
	d.setState(def.Name, channel, next)
	d.touch(def.Name, a.now)
	return toChanges(d.UUID, "", def.Name, channel, diffs, a), nil
}

// reduceDevice applies a device-level entry list. Availability entries take
// the transition path instead of the state tables.
func reduceDevice(d *Device, def *features.FeatureDef, entries []json.RawMessage, a absorption) (changes []Change, online []OnlineEvent, errs []error) {
	if def.Name == features.FeatureOnline {
		return nil, deviceOnline(d, entries, a), nil
	}
	if def.Reduce == nil {
		return nil, nil, nil
	}
	for _, entry := range entries {
		chs, err := d.applyEntry(def, entry, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changes = append(changes, chs...)
	}
	return changes, nil, errs
}

func deviceOnline(d *Device, entries []json.RawMessage, a absorption) []OnlineEvent {
	var events []OnlineEvent
	for _, entry := range entries {
		status, ok := features.EntryOnline(entry)
		if !ok {
			continue
		}
		if ev, moved := transitionDevice(d, status, a); moved {
			events = append(events, ev)
		}
	}
	return events
}

// transitionDevice moves the device's availability forward. Notifications
// older than the last applied transition are dropped, so status never moves
// backwards in notification time.
func transitionDevice(d *Device, status features.OnlineStatus, a absorption) (OnlineEvent, bool) {
	if a.ts.Before(d.OnlineUpdatedAt) || status == d.OnlineStatus {
		return OnlineEvent{}, false
	}
	prev := d.OnlineStatus
	d.OnlineStatus = status
	d.OnlineUpdatedAt = a.ts
	d.setState(features.FeatureOnline, 0, features.OnlineState{Status: status})
	return OnlineEvent{
		DeviceUUID: d.UUID,
		Previous:   prev,
		Current:    status,
		Timestamp:  a.ts,
	}, true
}

func transitionSub(hubUUID string, sd *SubDevice, status features.OnlineStatus, a absorption) (OnlineEvent, bool) {
	if a.ts.Before(sd.OnlineUpdatedAt) || status == sd.OnlineStatus {
		return OnlineEvent{}, false
	}
	prev := sd.OnlineStatus
	sd.OnlineStatus = status
	sd.OnlineUpdatedAt = a.ts
	sd.setState(features.FeatureOnline, 0, features.OnlineState{Status: status})
	return OnlineEvent{
		DeviceUUID:  hubUUID,
		SubDeviceID: sd.ID,
		Previous:    prev,
		Current:     status,
		Timestamp:   a.ts,
	}, true
}

// fanOutHub routes per-entry hub traffic to sub-device state tables by the
// id each entry carries. Entries for ids the hub has not listed are
// reported back for logging and dropped; adoption only ever happens through
// the sub-device listing.
func fanOutHub(d *Device, ns string, entries []json.RawMessage, a absorption) (changes []Change, online []OnlineEvent, unknown []string, errs []error) {
	for _, entry := range entries {
		id := features.SubDeviceID(entry)
		if id == "" {
			errs = append(errs, merr.Newf(merr.KindParseError, "hub entry without id in %s", ns))
			continue
		}
		sd, ok := d.SubDevices[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}

		if ns == protocol.NamespaceHubOnline {
			if status, ok := features.EntryOnline(entry); ok {
				if ev, moved := transitionSub(d.UUID, sd, status, a); moved {
					online = append(online, ev)
				}
			}
			continue
		}

		if sd.Features == nil {
			continue
		}
		def, active := sd.Features.ByNamespace(ns)
		if !active || def.Reduce == nil {
			continue
		}
		next, diffs, err := def.Reduce(sd.State(def.Name, 0), entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sd.setState(def.Name, 0, next)
		sd.LastSeen = a.now
		d.touch(def.Name, a.now)
		changes = append(changes, toChanges(d.UUID, id, def.Name, 0, diffs, a)...)
	}
	return changes, online, unknown, errs
}

// reconcileSubDevices syncs the hub's children to an authoritative listing.
// New ids are adopted with a feature set filtered from the hub's own, ids
// missing from the listing are dropped, and per-row status goes through the
// usual availability transition.
func reconcileSubDevices(d *Device, rows []subListing, a absorption) (added, removed []string, online []OnlineEvent) {
	if d.SubDevices == nil {
		d.SubDevices = make(map[string]*SubDevice, len(rows))
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		seen[row.ID] = true
		sd, ok := d.SubDevices[row.ID]
		if !ok {
			sd = &SubDevice{ID: row.ID, HubUUID: d.UUID}
			d.SubDevices[row.ID] = sd
			added = append(added, row.ID)
		}
		if row.Type != "" && row.Type != sd.Type {
			sd.Type = row.Type
			sd.Features = nil
		}
		if sd.Features == nil {
			sd.Features = features.ForSubDevice(sd.Type, d.Features)
		}
		if row.Name != "" {
			sd.Name = row.Name
		}
		if row.IconID != "" {
			sd.IconID = row.IconID
		}
		if row.LastSeen > 0 {
			sd.LastSeen = time.Unix(row.LastSeen, 0)
		}
		if ev, moved := transitionSub(d.UUID, sd, row.Status, a); moved {
			online = append(online, ev)
		}
	}
	for id := range d.SubDevices {
		if !seen[id] {
			delete(d.SubDevices, id)
			removed = append(removed, id)
		}
	}
	return added, removed, online
}

// absorbSystemAll applies one full snapshot: identity and network metadata
// straight onto the device, the online block through the availability
// transition, and each digest section through its feature reducer.
func absorbSystemAll(d *Device, sys *features.SystemAll, a absorption) (changes []Change, online []OnlineEvent, errs []error) {
	if sys.Hardware.UUID != "" && sys.Hardware.UUID != d.UUID {
		return nil, nil, []error{merr.Newf(merr.KindParseError,
			"system snapshot for %s does not match device %s", sys.Hardware.UUID, d.UUID)}
	}

	if sys.Hardware.Type != "" {
		d.Type = sys.Hardware.Type
	}
	if sys.Hardware.SubType != "" {
		d.SubType = sys.Hardware.SubType
	}
	if sys.Hardware.Version != "" {
		d.HardwareVersion = sys.Hardware.Version
	}
	if sys.Hardware.MACAddress != "" {
		d.MACAddress = sys.Hardware.MACAddress
	}

	fw := sys.Firmware
	if fw.Version != "" {
		d.FirmwareVersion = fw.Version
	}
	if fw.InnerIP != "" {
		d.LANIP = fw.InnerIP
	}
	if fw.Server != "" {
		d.MQTTHost = fw.Server
		d.MQTTPort = fw.Port
	}
	if fw.UserID != 0 {
		d.UserID = fw.UserID
	}
	if fw.SSID != "" {
		d.SSID = fw.DecodedSSID()
	}

	if ev, moved := transitionDevice(d, sys.Online.Status, a); moved {
		online = append(online, ev)
	}

	if d.Features != nil {
		routes, err := d.Features.DigestRoutes(sys.Digest)
		if err != nil {
			errs = append(errs, err)
		}
		for _, rt := range routes {
			if rt.Def.Reduce == nil {
				continue
			}
			for _, entry := range rt.Entries {
				chs, err := d.applyEntry(rt.Def, entry, a)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				changes = append(changes, chs...)
			}
		}
	}

	d.LastFullUpdate = a.now
	d.StateUpdatedAt = a.now
	return changes, online, errs
}

// dispatch applies one notification to the owned copy, picking the path by
// namespace shape: full snapshot, sub-device listing, hub fan-out, or a
// plain device-level reduce.
func dispatch(d *Device, n features.Notification, a absorption) (changes []Change, online []OnlineEvent, unknown []string, errs []error) {
	switch {
	case n.Namespace == protocol.NamespaceSystemAll:
		sys, err := features.ParseSystemAll(n.Payload)
		if err != nil {
			return nil, nil, nil, []error{err}
		}
		changes, online, errs = absorbSystemAll(d, sys, a)
		return changes, online, nil, errs

	case n.Namespace == protocol.NamespaceHubSubdeviceList:
		infos, err := features.ParseSubDeviceList(n.Payload)
		if err != nil {
			return nil, nil, nil, []error{err}
		}
		_, _, online = reconcileSubDevices(d, wrapInfos(infos), a)
		return nil, online, nil, nil

	case n.IsHub():
		return fanOutHub(d, n.Namespace, n.Entries, a)

	default:
		if d.Features == nil {
			// Push before initialization finished; nothing to reduce into.
			return nil, nil, nil, nil
		}
		def, ok := d.Features.ByNamespace(n.Namespace)
		if !ok {
			return nil, nil, nil, nil
		}
		changes, online, errs = reduceDevice(d, def, n.Entries, a)
		return changes, online, nil, errs
	}
}

func wrapInfos(infos []features.SubDeviceInfo) []subListing {
	out := make([]subListing, len(infos))
	for i, info := range infos {
		out[i] = subListing{SubDeviceInfo: info}
	}
	return out
}

// headerTime converts the envelope's epoch-second stamp, falling back to
// the local clock for firmware that leaves it zero.
func headerTime(h protocol.Header, fallback time.Time) time.Time {
	if h.Timestamp <= 0 {
		return fallback
	}
	return time.Unix(h.Timestamp, int64(h.TimestampMs)*int64(time.Millisecond))
}
