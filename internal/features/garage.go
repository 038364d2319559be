package features

import (
	"encoding/json"

	"github.com/nerrad567/meross-core/internal/merr"
)

// GarageDoorPayload builds the SET body that opens or closes a door. Newer
// firmware checks the uuid echo, so it rides along in the entry.
func GarageDoorPayload(channel int, open bool, deviceUUID string) any {
	return map[string]any{
		"state": map[string]any{
			"channel": channel,
			"open":    onoff(open),
			"uuid":    deviceUUID,
		},
	}
}

func reduceGarage(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Open *int `json:"open"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "garage entry: %v", err)
	}
	prev, had := old.(GarageState)
	next := prev
	var changes []FieldChange
	if in.Open != nil {
		open := *in.Open != 0
		if !had || open != prev.Open {
			next.Open = open
			changes = append(changes, FieldChange{Field: "open", Old: was(had, prev.Open), New: open})
		}
	}
	return next, changes, nil
}
