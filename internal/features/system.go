package features

import (
	"encoding/json"
	"sort"

	"github.com/nerrad567/meross-core/internal/merr"
	"github.com/nerrad567/meross-core/internal/protocol"
)

// Hardware identifies the physical device from a System.All reply.
type Hardware struct {
	Type       string `json:"type"`
	SubType    string `json:"subType"`
	Version    string `json:"version"`
	ChipType   string `json:"chipType"`
	UUID       string `json:"uuid"`
	MACAddress string `json:"macAddress"`
}

// Firmware carries the network identity of a device: where it is on the LAN
// and which broker it is pinned to.
type Firmware struct {
	Version      string `json:"version"`
	CompileTime  string `json:"compileTime"`
	WifiMAC      string `json:"wifiMac"`
	InnerIP      string `json:"innerIp"`
	Server       string `json:"server"`
	Port         int    `json:"port"`
	SecondServer string `json:"secondServer"`
	SecondPort   int    `json:"secondPort"`
	UserID       int    `json:"userId"`
	SSID         string `json:"ssid"`
}

// DecodedSSID returns the network name in clear text. Firmware reports it
// base64 encoded, except on models that never learned to.
func (f Firmware) DecodedSSID() string {
	return protocol.DecodeSSID(f.SSID)
}

// SystemAll is the decoded header of an Appliance.System.All reply. Digest
// keeps the per-feature sections raw; DigestRoutes on the feature set turns
// them into reducible entries.
type SystemAll struct {
	Hardware  Hardware
	Firmware  Firmware
	Online    OnlineState
	Timestamp int64
	Timezone  string
	Digest    map[string]json.RawMessage
}

// ParseSystemAll decodes the reply payload of a System.All GET.
func ParseSystemAll(payload json.RawMessage) (*SystemAll, error) {
	var in struct {
		All *struct {
			System struct {
				Hardware Hardware `json:"hardware"`
				Firmware Firmware `json:"firmware"`
				Online   struct {
					Status *int `json:"status"`
				} `json:"online"`
				Time struct {
					Timestamp int64  `json:"timestamp"`
					Timezone  string `json:"timezone"`
				} `json:"time"`
			} `json:"system"`
			Digest map[string]json.RawMessage `json:"digest"`
		} `json:"all"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, merr.Newf(merr.KindParseError, "system all: %v", err)
	}
	if in.All == nil {
		return nil, merr.Newf(merr.KindParseError, "system all: missing all section")
	}
	out := &SystemAll{
		Hardware:  in.All.System.Hardware,
		Firmware:  in.All.System.Firmware,
		Online:    OnlineState{Status: OnlineStatusUnknown},
		Timestamp: in.All.System.Time.Timestamp,
		Timezone:  in.All.System.Time.Timezone,
		Digest:    in.All.Digest,
	}
	if in.All.System.Online.Status != nil {
		out.Online.Status = OnlineStatus(*in.All.System.Online.Status)
	}
	return out, nil
}

// ParseAbilities extracts the namespace names from a System.Ability reply,
// sorted for stable composition and logging.
func ParseAbilities(payload json.RawMessage) ([]string, error) {
	var in struct {
		Ability map[string]json.RawMessage `json:"ability"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, merr.Newf(merr.KindParseError, "ability map: %v", err)
	}
	if in.Ability == nil {
		return nil, merr.Newf(merr.KindParseError, "ability map: missing ability section")
	}
	out := make([]string, 0, len(in.Ability))
	for ns := range in.Ability {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// DNDPayload builds the SET body for the status LED do-not-disturb flag.
func DNDPayload(on bool) any {
	return map[string]any{
		"DNDMode": map[string]int{"mode": onoff(on)},
	}
}

// ParseDND decodes a DNDMode reply into whether the LED is suppressed.
func ParseDND(payload json.RawMessage) (bool, error) {
	var in struct {
		DNDMode *struct {
			Mode int `json:"mode"`
		} `json:"DNDMode"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return false, merr.Newf(merr.KindParseError, "dnd mode: %v", err)
	}
	if in.DNDMode == nil {
		return false, merr.Newf(merr.KindParseError, "dnd mode: missing DNDMode section")
	}
	return in.DNDMode.Mode != 0, nil
}
