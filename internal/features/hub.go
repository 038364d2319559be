package features

import (
	"encoding/json"
	"sort"

	"github.com/nerrad567/meross-core/internal/merr"
)

// SubDeviceInfo is one row of a hub's sub-device list. Type is the model
// token ("ms100", "mts100v3"), which the hub encodes as the name of an
// extra per-model object on the entry rather than as a field.
type SubDeviceInfo struct {
	ID       string
	Status   OnlineStatus
	LastSeen int64
	Type     string
	Extra    json.RawMessage
}

// subdeviceCommonFields are the entry keys that are not model tokens.
var subdeviceCommonFields = map[string]bool{
	"id":             true,
	"status":         true,
	"time":           true,
	"onoff":          true,
	"lastActiveTime": true,
}

// ParseSubDeviceList decodes an Appliance.Hub.SubdeviceList reply.
func ParseSubDeviceList(payload json.RawMessage) ([]SubDeviceInfo, error) {
	entries, err := PayloadEntries(payload, "subdevice")
	if err != nil {
		return nil, err
	}
	out := make([]SubDeviceInfo, 0, len(entries))
	for _, raw := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, merr.Newf(merr.KindParseError, "subdevice entry: %v", err)
		}
		var head struct {
			ID     string `json:"id"`
			Status int    `json:"status"`
			Time   int64  `json:"time"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, merr.Newf(merr.KindParseError, "subdevice entry: %v", err)
		}
		info := SubDeviceInfo{
			ID:       head.ID,
			Status:   OnlineStatus(head.Status),
			LastSeen: head.Time,
		}
		// Model keys are scanned in sorted order so repeated parses agree.
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if subdeviceCommonFields[k] {
				continue
			}
			info.Type = k
			info.Extra = fields[k]
			break
		}
		out = append(out, info)
	}
	return out, nil
}

// HubQueryPayload builds the GET body that addresses hub namespaces at a
// set of sub-devices, for example {"all":[{"id":"x"}]} for Hub.Sensor.All.
func HubQueryPayload(key string, ids ...string) any {
	entries := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]string{"id": id})
	}
	return map[string]any{key: entries}
}

// EntryOnline digs the online status out of a hub entry, flat or nested.
func EntryOnline(entry json.RawMessage) (OnlineStatus, bool) {
	var in struct {
		Status *int `json:"status"`
		Online *struct {
			Status *int `json:"status"`
		} `json:"online"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return OnlineStatusUnknown, false
	}
	if in.Online != nil && in.Online.Status != nil {
		return OnlineStatus(*in.Online.Status), true
	}
	if in.Status != nil {
		return OnlineStatus(*in.Status), true
	}
	return OnlineStatusUnknown, false
}

// reduceOnline folds a reachability report. System.Online carries a bare
// status object; Hub.Online entries carry the same fields plus the id.
func reduceOnline(old State, entry json.RawMessage) (State, []FieldChange, error) {
	status, ok := EntryOnline(entry)
	if !ok {
		if len(entry) > 0 && !json.Valid(entry) {
			return old, nil, merr.Newf(merr.KindParseError, "online entry: invalid json")
		}
		return old, nil, nil
	}
	prev, had := old.(OnlineState)
	next := prev
	var changes []FieldChange
	if !had || status != prev.Status {
		next.Status = status
		changes = append(changes, FieldChange{Field: "status", Old: was(had, prev.Status), New: status})
	}
	return next, changes, nil
}

func reduceBattery(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Value *int `json:"value"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "battery entry: %v", err)
	}
	prev, had := old.(BatteryState)
	next := prev
	var changes []FieldChange
	if in.Value != nil && (!had || *in.Value != prev.Level) {
		next.Level = *in.Value
		changes = append(changes, FieldChange{Field: "battery", Old: was(had, prev.Level), New: *in.Value})
	}
	return next, changes, nil
}

// reduceTempHum folds a live environment sample. Battery voltage rides
// along and updates silently.
func reduceTempHum(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Temperature *int `json:"latestTemperature"`
		Humidity    *int `json:"latestHumidity"`
		Voltage     *int `json:"voltage"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "tempHum entry: %v", err)
	}
	prev, had := old.(TempHumState)
	next := prev
	var changes []FieldChange
	if in.Temperature != nil && (!had || *in.Temperature != prev.Temperature) {
		next.Temperature = *in.Temperature
		changes = append(changes, FieldChange{Field: "temperature", Old: was(had, prev.Temperature), New: *in.Temperature})
	}
	if in.Humidity != nil && (!had || *in.Humidity != prev.Humidity) {
		next.Humidity = *in.Humidity
		changes = append(changes, FieldChange{Field: "humidity", Old: was(had, prev.Humidity), New: *in.Humidity})
	}
	if in.Voltage != nil {
		next.Voltage = *in.Voltage
	}
	return next, changes, nil
}

// reduceSensorAll folds a Hub.Sensor.All entry, which nests the latest
// sample under temperature and humidity objects.
func reduceSensorAll(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Temperature *struct {
			Latest *int `json:"latest"`
		} `json:"temperature"`
		Humidity *struct {
			Latest *int `json:"latest"`
		} `json:"humidity"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "sensor all entry: %v", err)
	}
	prev, had := old.(TempHumState)
	next := prev
	var changes []FieldChange
	if in.Temperature != nil && in.Temperature.Latest != nil && (!had || *in.Temperature.Latest != prev.Temperature) {
		next.Temperature = *in.Temperature.Latest
		changes = append(changes, FieldChange{Field: "temperature", Old: was(had, prev.Temperature), New: *in.Temperature.Latest})
	}
	if in.Humidity != nil && in.Humidity.Latest != nil && (!had || *in.Humidity.Latest != prev.Humidity) {
		next.Humidity = *in.Humidity.Latest
		changes = append(changes, FieldChange{Field: "humidity", Old: was(had, prev.Humidity), New: *in.Humidity.Latest})
	}
	return next, changes, nil
}

func reduceSmoke(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Status    *int `json:"status"`
		Interconn *int `json:"interConn"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "smoke entry: %v", err)
	}
	prev, had := old.(SmokeState)
	next := prev
	var changes []FieldChange
	if in.Status != nil && (!had || *in.Status != prev.Status) {
		next.Status = *in.Status
		changes = append(changes, FieldChange{Field: "status", Old: was(had, prev.Status), New: *in.Status})
	}
	if in.Interconn != nil {
		next.Interconn = *in.Interconn
	}
	return next, changes, nil
}
