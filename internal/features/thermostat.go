package features

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// ThermostatMode selects which set point a wall thermostat follows.
type ThermostatMode int

const (
	ThermostatModeManual  ThermostatMode = 0
	ThermostatModeHeat    ThermostatMode = 1
	ThermostatModeCool    ThermostatMode = 2
	ThermostatModeAuto    ThermostatMode = 3
	ThermostatModeEconomy ThermostatMode = 4
)

func (m ThermostatMode) String() string {
	switch m {
	case ThermostatModeManual:
		return "manual"
	case ThermostatModeHeat:
		return "heat"
	case ThermostatModeCool:
		return "cool"
	case ThermostatModeAuto:
		return "auto"
	case ThermostatModeEconomy:
		return "economy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ThermostatModePayload builds the SET body that switches the working mode.
func ThermostatModePayload(channel int, mode ThermostatMode) (any, error) {
	if mode < ThermostatModeManual || mode > ThermostatModeEconomy {
		return nil, merr.Validation("mode", fmt.Sprintf("%d is not a thermostat mode", int(mode)))
	}
	return map[string]any{
		"mode": []map[string]int{
			{"channel": channel, "mode": int(mode)},
		},
	}, nil
}

// ThermostatOnOffPayload builds the SET body that powers the channel.
// Thermostats accept onoff through the mode namespace as well as ToggleX.
func ThermostatOnOffPayload(channel int, on bool) any {
	return map[string]any{
		"mode": []map[string]int{
			{"channel": channel, "onoff": onoff(on)},
		},
	}
}

// ThermostatTargetPayload builds the SET body for the manual set point, in
// tenths of a degree. The firmware clamps to the min and max it reports in
// its digest, so only gross garbage is rejected here.
func ThermostatTargetPayload(channel, tenths int) (any, error) {
	if tenths < -500 || tenths > 1000 {
		return nil, merr.Validation("targetTemp", fmt.Sprintf("%d tenths is not a plausible set point", tenths))
	}
	return map[string]any{
		"mode": []map[string]int{
			{"channel": channel, "manualTemp": tenths},
		},
	}, nil
}

// reduceThermostatMode folds one mode entry from a push, a poll reply, or
// the System.All digest. Only the headline fields raise changes; the set
// point table and limits update silently.
func reduceThermostatMode(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Onoff       *int `json:"onoff"`
		Mode        *int `json:"mode"`
		State       *int `json:"state"`
		CurrentTemp *int `json:"currentTemp"`
		TargetTemp  *int `json:"targetTemp"`
		HeatTemp    *int `json:"heatTemp"`
		CoolTemp    *int `json:"coolTemp"`
		EcoTemp     *int `json:"ecoTemp"`
		ManualTemp  *int `json:"manualTemp"`
		Min         *int `json:"min"`
		Max         *int `json:"max"`
		Warning     *int `json:"warning"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "thermostat entry: %v", err)
	}
	prev, had := old.(ThermostatState)
	next := prev
	var changes []FieldChange
	if in.Mode != nil {
		mode := ThermostatMode(*in.Mode)
		if !had || mode != prev.Mode {
			next.Mode = mode
			changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: mode})
		}
	}
	if in.State != nil && (!had || *in.State != prev.State) {
		next.State = *in.State
		changes = append(changes, FieldChange{Field: "state", Old: was(had, prev.State), New: *in.State})
	}
	if in.TargetTemp != nil && (!had || *in.TargetTemp != prev.TargetTemp) {
		next.TargetTemp = *in.TargetTemp
		changes = append(changes, FieldChange{Field: "targetTemp", Old: was(had, prev.TargetTemp), New: *in.TargetTemp})
	}
	if in.CurrentTemp != nil && (!had || *in.CurrentTemp != prev.CurrentTemp) {
		next.CurrentTemp = *in.CurrentTemp
		changes = append(changes, FieldChange{Field: "currentTemp", Old: was(had, prev.CurrentTemp), New: *in.CurrentTemp})
	}
	if in.Onoff != nil {
		next.IsOn = *in.Onoff != 0
	}
	if in.HeatTemp != nil {
		next.HeatTemp = *in.HeatTemp
	}
	if in.CoolTemp != nil {
		next.CoolTemp = *in.CoolTemp
	}
	if in.EcoTemp != nil {
		next.EcoTemp = *in.EcoTemp
	}
	if in.ManualTemp != nil {
		next.ManualTemp = *in.ManualTemp
	}
	if in.Min != nil {
		next.MinTemp = *in.Min
	}
	if in.Max != nil {
		next.MaxTemp = *in.Max
	}
	if in.Warning != nil {
		next.Warning = *in.Warning != 0
	}
	return next, changes, nil
}

// reduceThermostatWindow folds an open window detection entry into the same
// channel state the mode namespace feeds.
func reduceThermostatWindow(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "window entry: %v", err)
	}
	prev, had := old.(ThermostatState)
	next := prev
	var changes []FieldChange
	if in.Status != nil {
		open := *in.Status != 0
		if !had || open != prev.WindowOpen {
			next.WindowOpen = open
			changes = append(changes, FieldChange{Field: "windowOpen", Old: was(had, prev.WindowOpen), New: open})
		}
	}
	return next, changes, nil
}
