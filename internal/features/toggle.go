package features

import (
	"encoding/json"

	"github.com/nerrad567/meross-core/internal/merr"
)

func onoff(on bool) int {
	if on {
		return 1
	}
	return 0
}

// TogglePayload builds the SET body for the legacy single-channel namespace.
func TogglePayload(on bool) any {
	return map[string]any{
		"toggle": map[string]int{"onoff": onoff(on)},
	}
}

// ToggleXPayload builds the SET body for one channel of a multi-channel
// device. Channel 0 addresses the whole device on multi-gang models.
func ToggleXPayload(channel int, on bool) any {
	return map[string]any{
		"togglex": map[string]int{"channel": channel, "onoff": onoff(on)},
	}
}

// HubToggleXPayload builds the SET body that switches a hub sub-device.
func HubToggleXPayload(id string, on bool) any {
	return map[string]any{
		"togglex": []map[string]any{
			{"channel": 0, "id": id, "onoff": onoff(on)},
		},
	}
}

// reduceToggle folds a toggle or togglex entry. Base namespace entries carry
// no channel field; hub entries carry an id, which the caller resolves
// before reducing.
func reduceToggle(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Onoff *int `json:"onoff"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "toggle entry: %v", err)
	}
	prev, had := old.(ToggleState)
	next := prev
	var changes []FieldChange
	if in.Onoff != nil {
		on := *in.Onoff != 0
		if !had || on != prev.IsOn {
			next.IsOn = on
			changes = append(changes, FieldChange{Field: "isOn", Old: was(had, prev.IsOn), New: on})
		}
	}
	return next, changes, nil
}
