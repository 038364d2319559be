package cloud

import "time"

// OnlineStatus is the vendor's device availability state, as reported by the
// device list endpoint and by System.Online pushes.
type OnlineStatus int

// Online status values used by the vendor API.
const (
	StatusNotOnline OnlineStatus = 0
	StatusOnline    OnlineStatus = 1
	StatusOffline   OnlineStatus = 2
	StatusUpgrading OnlineStatus = 3
	StatusUnknown   OnlineStatus = -1
)

// String returns a human-readable form for logs.
func (s OnlineStatus) String() string {
	switch s {
	case StatusNotOnline:
		return "not_online"
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusUpgrading:
		return "upgrading"
	default:
		return "unknown"
	}
}

// IsOnline reports whether the device is reachable through the cloud broker.
func (s OnlineStatus) IsOnline() bool {
	return s == StatusOnline
}

// Credentials is the per-account secret material returned by Login or loaded
// from the credential store. Immutable after creation; the key is the shared
// secret used to sign device messages and never leaves the process except as
// an MD5 ingredient.
type Credentials struct {
	Token      string    `json:"token"`
	Key        string    `json:"key"`
	UserID     string    `json:"userId"`
	UserEmail  string    `json:"userEmail"`
	HTTPDomain string    `json:"httpDomain"`
	MQTTDomain string    `json:"mqttDomain"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// ChannelDef is one entry of a descriptor's channel list. The master channel
// is the first entry and usually arrives as an empty object.
type ChannelDef struct {
	Type string `json:"type,omitempty"`
	Name string `json:"devName,omitempty"`
}

// DeviceDescriptor is one device row from /v1/Device/devList. Field names
// follow the vendor's wire format (devName, fmwareVersion and friends).
// Immutable once handed to the registry.
type DeviceDescriptor struct {
	UUID            string       `json:"uuid"`
	Name            string       `json:"devName"`
	Type            string       `json:"deviceType"`
	SubType         string       `json:"subType,omitempty"`
	HardwareVersion string       `json:"hdwareVersion,omitempty"`
	FirmwareVersion string       `json:"fmwareVersion,omitempty"`
	OnlineStatus    OnlineStatus `json:"onlineStatus"`
	Domain          string       `json:"domain,omitempty"`
	ReservedDomain  string       `json:"reservedDomain,omitempty"`
	DeviceClass     string       `json:"deviceClass,omitempty"`
	Region          string       `json:"region,omitempty"`
	BindTime        int64        `json:"bindTime,omitempty"`
	Channels        []ChannelDef `json:"channels,omitempty"`
}

// SubDeviceDescriptor is one row from /v1/Hub/getSubDevices for a hub.
type SubDeviceDescriptor struct {
	ID     string `json:"subDeviceId"`
	Type   string `json:"subDeviceType"`
	Vendor string `json:"subDeviceVendor,omitempty"`
	Name   string `json:"subDeviceName,omitempty"`
	IconID string `json:"subDeviceIconId,omitempty"`
}

// ActivityInfo is the client metadata posted to /log/user after login.
// The vendor app sends it once per session; failures are swallowed.
type ActivityInfo struct {
	UUID    string         `json:"uuid"`
	Vendor  string         `json:"vendor"`
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Version string         `json:"version"`
	Extra   map[string]any `json:"extra"`
}
