package device

import (
	"time"

	"github.com/nerrad567/meross-core/internal/features"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// Source identifies what produced an observed state transition.
type Source string

// Transition sources, in the order the library prefers them: a push is the
// device speaking up, a poll is a subscription tick, a response is a direct
// command round trip or a SET echo.
const (
	SourcePush     Source = "push"
	SourcePoll     Source = "poll"
	SourceResponse Source = "response"
)

// Change is one observed transition of a single projected field on one
// channel. Type joins the feature family and field with a dot, for example
// "toggle.isOn" or "mts100.targetTemp". Old is nil on the first observation
// of a field.
type Change struct {
	DeviceUUID  string    `json:"deviceUuid"`
	SubDeviceID string    `json:"subDeviceId,omitempty"`
	Type        string    `json:"type"`
	Channel     int       `json:"channel"`
	Old         any       `json:"old,omitempty"`
	New         any       `json:"new"`
	Source      Source    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// OnlineEvent describes one availability transition.
type OnlineEvent struct {
	DeviceUUID  string                `json:"deviceUuid"`
	SubDeviceID string                `json:"subDeviceId,omitempty"`
	Previous    features.OnlineStatus `json:"previous"`
	Current     features.OnlineStatus `json:"current"`
	Timestamp   time.Time             `json:"timestamp"`
}

// ErrorEvent is the payload of the error event: a failure on a background
// path that has no caller to return to.
type ErrorEvent struct {
	DeviceUUID string `json:"deviceUuid"`
	Op         string `json:"op"`
	Err        error  `json:"-"`
}

// RawEvent carries one wire-level envelope for debugging taps.
type RawEvent struct {
	DeviceUUID string    `json:"deviceUuid"`
	Body       []byte    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// UpdateEvent summarizes one absorb batch: the changes it produced plus a
// snapshot of the per-feature state tables after the swap.
type UpdateEvent struct {
	DeviceUUID string                            `json:"deviceUuid"`
	Source     Source                            `json:"source"`
	Timestamp  time.Time                         `json:"timestamp"`
	State      map[string]map[int]features.State `json:"state"`
	Changes    []Change                          `json:"changes,omitempty"`
}

// ChannelInfo describes one controllable channel. Index 0 is the master
// channel on multi-outlet hardware; the vendor lists it first, usually as
// an empty object.
type ChannelInfo struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	IsMaster bool   `json:"isMaster"`
}

// Device is one registry entry. The registry hands out deep copies and
// mutates only a private clone inside its critical section, swapping the
// clone in whole. A snapshot handed to a caller therefore never changes
// underneath them.
//
// Feature sets and ciphers are immutable once built and shared across
// copies; everything else is owned per copy.
type Device struct {
	UUID            string `json:"uuid"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	SubType         string `json:"subType,omitempty"`
	HardwareVersion string `json:"hardwareVersion,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	Region          string `json:"region,omitempty"`
	Domain          string `json:"domain,omitempty"`
	ReservedDomain  string `json:"reservedDomain,omitempty"`

	Channels  []ChannelInfo `json:"channels"`
	Abilities []string      `json:"abilities,omitempty"`

	MACAddress string `json:"macAddress,omitempty"`
	LANIP      string `json:"lanIp,omitempty"`
	MQTTHost   string `json:"mqttHost,omitempty"`
	MQTTPort   int    `json:"mqttPort,omitempty"`
	UserID     int    `json:"userId,omitempty"`
	SSID       string `json:"ssid,omitempty"`

	OnlineStatus    features.OnlineStatus `json:"onlineStatus"`
	OnlineUpdatedAt time.Time             `json:"-"`

	// Initialized flips once the device has answered System.Ability and
	// System.All; commands are refused before that.
	Initialized         bool `json:"initialized"`
	EncryptionSupported bool `json:"encryptionSupported,omitempty"`

	LastFullUpdate time.Time `json:"lastFullUpdate"`
	StateUpdatedAt time.Time `json:"stateUpdatedAt"`

	Features *features.FeatureSet   `json:"-"`
	Cipher   *protocol.DeviceCipher `json:"-"`

	// States is the per-feature, per-channel cache the reducers write.
	States  map[string]map[int]features.State `json:"states,omitempty"`
	FreshAt map[string]time.Time              `json:"-"`

	SubDevices map[string]*SubDevice `json:"subDevices,omitempty"`
}

// SubDevice is one hub child, keyed per hub by its id. It has no broker
// topic of its own; everything it says and hears goes through the hub. Its
// feature set is the hub's filtered down by sub-device model.
type SubDevice struct {
	ID      string `json:"id"`
	HubUUID string `json:"hubUuid"`
	Type    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
	IconID  string `json:"iconId,omitempty"`

	OnlineStatus    features.OnlineStatus `json:"onlineStatus"`
	OnlineUpdatedAt time.Time             `json:"-"`
	LastSeen        time.Time             `json:"lastSeen"`

	Features *features.FeatureSet              `json:"-"`
	States   map[string]map[int]features.State `json:"states,omitempty"`
}

// DeepCopy returns an independent copy. State values are flat structs, so
// rebuilding the maps is enough for full isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	out := *d
	out.Channels = append([]ChannelInfo(nil), d.Channels...)
	out.Abilities = append([]string(nil), d.Abilities...)
	out.States = copyStates(d.States)
	out.FreshAt = copyTimes(d.FreshAt)
	if d.SubDevices != nil {
		out.SubDevices = make(map[string]*SubDevice, len(d.SubDevices))
		for id, sd := range d.SubDevices {
			out.SubDevices[id] = sd.DeepCopy()
		}
	}
	return &out
}

// DeepCopy returns an independent copy of the sub-device.
func (s *SubDevice) DeepCopy() *SubDevice {
	if s == nil {
		return nil
	}
	out := *s
	out.States = copyStates(s.States)
	return &out
}

func copyStates(in map[string]map[int]features.State) map[string]map[int]features.State {
	if in == nil {
		return nil
	}
	out := make(map[string]map[int]features.State, len(in))
	for feature, byChannel := range in {
		inner := make(map[int]features.State, len(byChannel))
		for ch, st := range byChannel {
			inner[ch] = st
		}
		out[feature] = inner
	}
	return out
}

func copyTimes(in map[string]time.Time) map[string]time.Time {
	if in == nil {
		return nil
	}
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsOnline reports whether the device is currently reachable.
func (d *Device) IsOnline() bool {
	return d.OnlineStatus.IsOnline()
}

// State returns the cached value for one feature and channel, or nil when
// nothing has been observed yet.
func (d *Device) State(feature string, channel int) features.State {
	return stateAt(d.States, feature, channel)
}

// State returns the cached value for one feature and channel.
func (s *SubDevice) State(feature string, channel int) features.State {
	return stateAt(s.States, feature, channel)
}

func stateAt(states map[string]map[int]features.State, feature string, channel int) features.State {
	byChannel, ok := states[feature]
	if !ok {
		return nil
	}
	return byChannel[channel]
}

// setState writes one cache slot. Only the registry calls this, and only on
// a copy it owns exclusively.
func (d *Device) setState(feature string, channel int, st features.State) {
	if d.States == nil {
		d.States = make(map[string]map[int]features.State)
	}
	byChannel, ok := d.States[feature]
	if !ok {
		byChannel = make(map[int]features.State)
		d.States[feature] = byChannel
	}
	byChannel[channel] = st
}

func (s *SubDevice) setState(feature string, channel int, st features.State) {
	if s.States == nil {
		s.States = make(map[string]map[int]features.State)
	}
	byChannel, ok := s.States[feature]
	if !ok {
		byChannel = make(map[int]features.State)
		s.States[feature] = byChannel
	}
	byChannel[channel] = st
}

// touch marks one feature's cache slot fresh as of now.
func (d *Device) touch(feature string, now time.Time) {
	if d.FreshAt == nil {
		d.FreshAt = make(map[string]time.Time)
	}
	d.FreshAt[feature] = now
	d.StateUpdatedAt = now
}
