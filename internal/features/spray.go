package features

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// SprayMode is a humidifier output setting.
type SprayMode int

const (
	SprayModeOff          SprayMode = 0
	SprayModeContinuous   SprayMode = 1
	SprayModeIntermittent SprayMode = 2
)

func (m SprayMode) String() string {
	switch m {
	case SprayModeOff:
		return "off"
	case SprayModeContinuous:
		return "continuous"
	case SprayModeIntermittent:
		return "intermittent"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SprayPayload builds the SET body for a humidifier channel.
func SprayPayload(channel int, mode SprayMode) (any, error) {
	if mode < SprayModeOff || mode > SprayModeIntermittent {
		return nil, merr.Validation("mode", fmt.Sprintf("%d is not a spray mode", int(mode)))
	}
	return map[string]any{
		"spray": map[string]int{"channel": channel, "mode": int(mode)},
	}, nil
}

// DiffuserSprayPayload builds the SET body for a diffuser mist channel.
// Diffusers use their own namespace with an entry list even for one channel.
func DiffuserSprayPayload(channel, mode int) any {
	return map[string]any{
		"spray": []map[string]int{
			{"channel": channel, "mode": mode},
		},
	}
}

// DiffuserLightPayload builds the SET body for a diffuser lamp ring.
func DiffuserLightPayload(channel int, on bool, mode int, color RGB, luminance int) (any, error) {
	if err := checkLuminance(luminance); err != nil {
		return nil, err
	}
	return map[string]any{
		"light": []map[string]int{
			{
				"channel":   channel,
				"onoff":     onoff(on),
				"mode":      mode,
				"rgb":       RGBToInt(color),
				"luminance": luminance,
			},
		},
	}, nil
}

func reduceSpray(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Mode *int `json:"mode"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "spray entry: %v", err)
	}
	prev, had := old.(SprayState)
	next := prev
	var changes []FieldChange
	if in.Mode != nil {
		mode := SprayMode(*in.Mode)
		if !had || mode != prev.Mode {
			next.Mode = mode
			changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: mode})
		}
	}
	return next, changes, nil
}

func reduceDiffuserSpray(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Mode *int `json:"mode"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "diffuser spray entry: %v", err)
	}
	prev, had := old.(DiffuserSprayState)
	next := prev
	var changes []FieldChange
	if in.Mode != nil && (!had || *in.Mode != prev.Mode) {
		next.Mode = *in.Mode
		changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: *in.Mode})
	}
	return next, changes, nil
}

func reduceDiffuserLight(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Onoff     *int `json:"onoff"`
		Mode      *int `json:"mode"`
		Luminance *int `json:"luminance"`
		RGB       *int `json:"rgb"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "diffuser light entry: %v", err)
	}
	prev, had := old.(DiffuserLightState)
	next := prev
	var changes []FieldChange
	if in.Onoff != nil {
		on := *in.Onoff != 0
		if !had || on != prev.IsOn {
			next.IsOn = on
			changes = append(changes, FieldChange{Field: "isOn", Old: was(had, prev.IsOn), New: on})
		}
	}
	if in.Mode != nil && (!had || *in.Mode != prev.Mode) {
		next.Mode = *in.Mode
		changes = append(changes, FieldChange{Field: "mode", Old: was(had, prev.Mode), New: *in.Mode})
	}
	if in.Luminance != nil && (!had || *in.Luminance != prev.Brightness) {
		next.Brightness = *in.Luminance
		changes = append(changes, FieldChange{Field: "brightness", Old: was(had, prev.Brightness), New: *in.Luminance})
	}
	if in.RGB != nil && (!had || *in.RGB != prev.RGB) {
		next.RGB = *in.RGB
		changes = append(changes, FieldChange{Field: "rgb", Old: was(had, prev.RGB), New: *in.RGB})
	}
	return next, changes, nil
}
