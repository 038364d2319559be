package features

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// Capacity flags tell the firmware which light fields a SET carries. A bulb
// ignores fields whose flag is absent even when they are present in the
// body.
const (
	CapacityRGB         = 1
	CapacityTemperature = 2
	CapacityLuminance   = 4
)

// LightColorPayload builds the SET body that puts a channel into color mode.
func LightColorPayload(channel int, color RGB, luminance int) (any, error) {
	if err := checkLuminance(luminance); err != nil {
		return nil, err
	}
	return map[string]any{
		"light": map[string]int{
			"channel":   channel,
			"capacity":  CapacityRGB | CapacityLuminance,
			"rgb":       RGBToInt(color),
			"luminance": luminance,
		},
	}, nil
}

// LightTemperaturePayload builds the SET body for white mode. Temperature is
// the warmth scale 1 (cold) to 100 (warm), not kelvin.
func LightTemperaturePayload(channel, temperature, luminance int) (any, error) {
	if temperature < 1 || temperature > 100 {
		return nil, merr.Validation("temperature", fmt.Sprintf("%d is outside 1-100", temperature))
	}
	if err := checkLuminance(luminance); err != nil {
		return nil, err
	}
	return map[string]any{
		"light": map[string]int{
			"channel":     channel,
			"capacity":    CapacityTemperature | CapacityLuminance,
			"temperature": temperature,
			"luminance":   luminance,
		},
	}, nil
}

// LightLuminancePayload builds the SET body that only dims a channel.
func LightLuminancePayload(channel, luminance int) (any, error) {
	if err := checkLuminance(luminance); err != nil {
		return nil, err
	}
	return map[string]any{
		"light": map[string]int{
			"channel":   channel,
			"capacity":  CapacityLuminance,
			"luminance": luminance,
		},
	}, nil
}

func checkLuminance(luminance int) error {
	if luminance < 1 || luminance > 100 {
		return merr.Validation("luminance", fmt.Sprintf("%d is outside 1-100", luminance))
	}
	return nil
}

// reduceLight folds a light entry. Pushes carry only the fields that moved,
// so absent fields keep their cached values.
func reduceLight(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Onoff       *int `json:"onoff"`
		RGB         *int `json:"rgb"`
		Temperature *int `json:"temperature"`
		Luminance   *int `json:"luminance"`
		Capacity    *int `json:"capacity"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "light entry: %v", err)
	}
	prev, had := old.(LightState)
	next := prev
	var changes []FieldChange
	if in.Onoff != nil {
		on := *in.Onoff != 0
		if !had || on != prev.IsOn {
			next.IsOn = on
			changes = append(changes, FieldChange{Field: "isOn", Old: was(had, prev.IsOn), New: on})
		}
	}
	if in.Luminance != nil && (!had || *in.Luminance != prev.Brightness) {
		next.Brightness = *in.Luminance
		changes = append(changes, FieldChange{Field: "brightness", Old: was(had, prev.Brightness), New: *in.Luminance})
	}
	if in.RGB != nil && (!had || *in.RGB != prev.RGB) {
		next.RGB = *in.RGB
		changes = append(changes, FieldChange{Field: "rgb", Old: was(had, prev.RGB), New: *in.RGB})
	}
	if in.Temperature != nil && (!had || *in.Temperature != prev.Temperature) {
		next.Temperature = *in.Temperature
		changes = append(changes, FieldChange{Field: "temperature", Old: was(had, prev.Temperature), New: *in.Temperature})
	}
	if in.Capacity != nil && (!had || *in.Capacity != prev.Mode) {
		next.Mode = *in.Capacity
		changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: *in.Capacity})
	}
	return next, changes, nil
}
