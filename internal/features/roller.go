package features

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// Roller motor states as reported on the state namespace.
const (
	RollerIdle    = 0
	RollerOpening = 1
	RollerClosing = 2
)

// RollerPositionStop is the position value that halts a moving shutter.
const RollerPositionStop = -1

// RollerPositionPayload builds the SET body that drives a shutter to a
// position, 0 closed through 100 open, or stops it.
func RollerPositionPayload(channel, position int) (any, error) {
	if position != RollerPositionStop && (position < 0 || position > 100) {
		return nil, merr.Validation("position", fmt.Sprintf("%d is outside -1..100", position))
	}
	return map[string]any{
		"position": map[string]int{"channel": channel, "position": position},
	}, nil
}

func reduceRollerState(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		State *int `json:"state"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "roller state entry: %v", err)
	}
	prev, had := old.(RollerState)
	next := prev
	var changes []FieldChange
	if in.State != nil && (!had || *in.State != prev.State) {
		next.State = *in.State
		changes = append(changes, FieldChange{Field: "state", Old: was(had, prev.State), New: *in.State})
	}
	return next, changes, nil
}

func reduceRollerPosition(old State, entry json.RawMessage) (State, []FieldChange, error) {
	var in struct {
		Position *int `json:"position"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return old, nil, merr.Newf(merr.KindParseError, "roller position entry: %v", err)
	}
	prev, had := old.(RollerState)
	next := prev
	var changes []FieldChange
	if in.Position != nil && (!had || *in.Position != prev.Position) {
		next.Position = *in.Position
		changes = append(changes, FieldChange{Field: "position", Old: was(had, prev.Position), New: *in.Position})
	}
	return next, changes, nil
}
