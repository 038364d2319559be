package features

import (
	"encoding/json"

	"github.com/nerrad567/meross-core/internal/merr"
)

// ConsumptionEntry is one day of metered energy. Value is watt hours; Date
// is the device-local day it covers.
type ConsumptionEntry struct {
	Date  string `json:"date"`
	Time  int64  `json:"time"`
	Value int    `json:"value"`
}

// ParseConsumption decodes a ConsumptionX reply into its daily entries. The
// list is returned as the device sent it, oldest first on every firmware
// seen so far.
func ParseConsumption(payload json.RawMessage) ([]ConsumptionEntry, error) {
	entries, err := PayloadEntries(payload, "consumptionx")
	if err != nil {
		return nil, err
	}
	out := make([]ConsumptionEntry, 0, len(entries))
	for _, raw := range entries {
		var e ConsumptionEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, merr.Newf(merr.KindParseError, "consumption entry: %v", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// reduceElectricity folds an instantaneous power reading. These only arrive
// from polls, never as pushes.
func reduceElectricity(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Power   *int `json:"power"`
		Current *int `json:"current"`
		Voltage *int `json:"voltage"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "electricity entry: %v", err)
	}
	prev, had := old.(ElectricityState)
	next := prev
	var changes []FieldChange
	if in.Power != nil && (!had || *in.Power != prev.Power) {
		next.Power = *in.Power
		changes = append(changes, FieldChange{Field: "power", Old: was(had, prev.Power), New: *in.Power})
	}
	if in.Current != nil && (!had || *in.Current != prev.Current) {
		next.Current = *in.Current
		changes = append(changes, FieldChange{Field: "current", Old: was(had, prev.Current), New: *in.Current})
	}
	if in.Voltage != nil && (!had || *in.Voltage != prev.Voltage) {
		next.Voltage = *in.Voltage
		changes = append(changes, FieldChange{Field: "voltage", Old: was(had, prev.Voltage), New: *in.Voltage})
	}
	return next, changes, nil
}
