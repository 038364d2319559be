package features

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meross-core/internal/merr"
)

// Firmware is inconsistent about cardinality: the same field arrives as a
// bare object on some models and as an array of channel entries on others.
// Entries normalizes both shapes to a slice so reducers see one entry at a
// time.
func Entries(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, merr.Newf(merr.KindParseError, "entry list: %v", err)
		}
		return list, nil
	case '{':
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, merr.Newf(merr.KindParseError, "entry is neither object nor array: %.32s", trimmed)
	}
}

// PayloadEntries extracts the named field from a message payload and
// normalizes it. A missing field is not an error; pushes routinely omit
// sections, and the caller treats an empty slice as nothing to apply.
func PayloadEntries(payload json.RawMessage, key string) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, merr.Newf(merr.KindParseError, "payload: %v", err)
	}
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	entries, err := Entries(raw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return entries, nil
}

// ChannelOf reads the channel number from an entry. Single-channel devices
// omit it, which means channel 0.
func ChannelOf(entry json.RawMessage) int {
	var in struct {
		Channel *int `json:"channel"`
	}
	if err := json.Unmarshal(entry, &in); err != nil || in.Channel == nil {
		return 0
	}
	return *in.Channel
}

// SubDeviceID reads the sub-device id from a hub entry, or "" when the
// entry addresses the device itself.
func SubDeviceID(entry json.RawMessage) string {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(entry, &in); err != nil {
		return ""
	}
	return in.ID
}
