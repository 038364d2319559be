package features

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// Mts100Mode selects which preset a radiator valve follows.
type Mts100Mode int

const (
	Mts100ModeCustom  Mts100Mode = 0
	Mts100ModeComfort Mts100Mode = 1
	Mts100ModeEconomy Mts100Mode = 2
	Mts100ModeAuto    Mts100Mode = 3
)

func (m Mts100Mode) String() string {
	switch m {
	case Mts100ModeCustom:
		return "custom"
	case Mts100ModeComfort:
		return "comfort"
	case Mts100ModeEconomy:
		return "economy"
	case Mts100ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valve set points live in tenths of a degree on the wire.
const (
	Mts100MinSetPoint = 50
	Mts100MaxSetPoint = 350
)

// Mts100AdjustLimit bounds the calibration offset, which the Adjust
// namespace carries in hundredths of a degree.
const Mts100AdjustLimit = 500

// Mts100ModePayload builds the SET body that switches a valve preset.
func Mts100ModePayload(id string, mode Mts100Mode) (any, error) {
	if mode < Mts100ModeCustom || mode > Mts100ModeAuto {
		return nil, merr.Validation("mode", fmt.Sprintf("%d is not a valve mode", int(mode)))
	}
	return map[string]any{
		"mode": []map[string]any{
			{"id": id, "state": int(mode)},
		},
	}, nil
}

// Mts100SetPointPayload builds the SET body for the custom set point, in
// tenths of a degree.
func Mts100SetPointPayload(id string, tenths int) (any, error) {
	if tenths < Mts100MinSetPoint || tenths > Mts100MaxSetPoint {
		return nil, merr.Validation("targetTemp",
			fmt.Sprintf("%d tenths is outside %d-%d", tenths, Mts100MinSetPoint, Mts100MaxSetPoint))
	}
	return map[string]any{
		"temperature": []map[string]any{
			{"id": id, "custom": tenths},
		},
	}, nil
}

// Mts100AdjustPayload builds the SET body for the calibration offset, in
// hundredths of a degree.
func Mts100AdjustPayload(id string, hundredths int) (any, error) {
	if hundredths < -Mts100AdjustLimit || hundredths > Mts100AdjustLimit {
		return nil, merr.Validation("adjust",
			fmt.Sprintf("%d is outside ±%d", hundredths, Mts100AdjustLimit))
	}
	return map[string]any{
		"adjust": []map[string]any{
			{"id": id, "temperature": hundredths},
		},
	}, nil
}

// mts100Temperature is the temperature block shared by the All reply and
// the Temperature push.
type mts100Temperature struct {
	Room       *int `json:"room"`
	CurrentSet *int `json:"currentSet"`
	Custom     *int `json:"custom"`
	Comfort    *int `json:"comfort"`
	Economy    *int `json:"economy"`
	Away       *int `json:"away"`
	Min        *int `json:"min"`
	Max        *int `json:"max"`
	Heating    *int `json:"heating"`
	OpenWindow *int `json:"openWindow"`
}

// applyMts100Temperature folds the shared temperature block and returns the
// headline changes.
func applyMts100Temperature(prev Mts100State, had bool, next *Mts100State, t mts100Temperature) []FieldChange {
	var changes []FieldChange
	if t.Room != nil && (!had || *t.Room != prev.CurrentTemp) {
		next.CurrentTemp = *t.Room
		changes = append(changes, FieldChange{Field: "currentTemp", Old: was(had, prev.CurrentTemp), New: *t.Room})
	}
	if t.CurrentSet != nil && (!had || *t.CurrentSet != prev.TargetTemp) {
		next.TargetTemp = *t.CurrentSet
		changes = append(changes, FieldChange{Field: "targetTemp", Old: was(had, prev.TargetTemp), New: *t.CurrentSet})
	}
	if t.Custom != nil {
		next.Custom = *t.Custom
	}
	if t.Comfort != nil {
		next.Comfort = *t.Comfort
	}
	if t.Economy != nil {
		next.Economy = *t.Economy
	}
	if t.Away != nil {
		next.Away = *t.Away
	}
	if t.Min != nil {
		next.MinTemp = *t.Min
	}
	if t.Max != nil {
		next.MaxTemp = *t.Max
	}
	if t.Heating != nil {
		heating := *t.Heating != 0
		if !had || heating != prev.Heating {
			next.Heating = heating
			changes = append(changes, FieldChange{Field: "heating", Old: was(had, prev.Heating), New: heating})
		}
	}
	if t.OpenWindow != nil {
		next.WindowOpen = *t.OpenWindow != 0
	}
	return changes
}

// reduceMts100All folds one valve entry from a Hub.Mts100.All reply.
func reduceMts100All(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		ToggleX *struct {
			Onoff *int `json:"onoff"`
		} `json:"togglex"`
		Mode *struct {
			State *int `json:"state"`
		} `json:"mode"`
		Temperature *mts100Temperature `json:"temperature"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "mts100 all entry: %v", err)
	}
	prev, had := old.(Mts100State)
	next := prev
	var changes []FieldChange
	if in.ToggleX != nil && in.ToggleX.Onoff != nil {
		on := *in.ToggleX.Onoff != 0
		if !had || on != prev.IsOn {
			next.IsOn = on
			changes = append(changes, FieldChange{Field: "isOn", Old: was(had, prev.IsOn), New: on})
		}
	}
	if in.Mode != nil && in.Mode.State != nil {
		mode := Mts100Mode(*in.Mode.State)
		if !had || mode != prev.Mode {
			next.Mode = mode
			changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: mode})
		}
	}
	if in.Temperature != nil {
		changes = append(changes, applyMts100Temperature(prev, had, &next, *in.Temperature)...)
	}
	return next, changes, nil
}

// reduceMts100Temperature folds a Temperature push, which carries the same
// block flattened onto the entry next to the id.
func reduceMts100Temperature(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var t mts100Temperature
	if err := json.Unmarshal(entry, &t); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "mts100 temperature entry: %v", err)
	}
	prev, had := old.(Mts100State)
	next := prev
	changes := applyMts100Temperature(prev, had, &next, t)
	return next, changes, nil
}

func reduceMts100Mode(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		State *int `json:"state"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "mts100 mode entry: %v", err)
	}
	prev, had := old.(Mts100State)
	next := prev
	var changes []FieldChange
	if in.State != nil {
		mode := Mts100Mode(*in.State)
		if !had || mode != prev.Mode {
			next.Mode = mode
			changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: mode})
		}
	}
	return next, changes, nil
}

func reduceMts100Adjust(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Temperature *int `json:"temperature"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "mts100 adjust entry: %v", err)
	}
	prev, had := old.(Mts100State)
	next := prev
	var changes []FieldChange
	if in.Temperature != nil && (!had || *in.Temperature != prev.Adjust) {
		next.Adjust = *in.Temperature
		changes = append(changes, FieldChange{Field: "adjust", Old: was(had, prev.Adjust), New: *in.Temperature})
	}
	return next, changes, nil
}
