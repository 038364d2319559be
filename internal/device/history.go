package device

import (
	"context"
	"encoding/json"
	"time"
)

// History query limits. Queries are clamped rather than rejected.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryEntry is one persisted change record, values kept as the JSON they
// were stored with.
type HistoryEntry struct {
	ID          int64           `json:"id"`
	DeviceUUID  string          `json:"deviceUuid"`
	SubDeviceID string          `json:"subDeviceId,omitempty"`
	Type        string          `json:"type"`
	Channel     int             `json:"channel"`
	Old         json.RawMessage `json:"old,omitempty"`
	New         json.RawMessage `json:"new"`
	Source      Source          `json:"source"`
	RecordedAt  time.Time       `json:"recordedAt"`
}

// HistoryQuery narrows DeviceHistory results. DeviceUUID is required;
// everything else is optional. Limit 0 means DefaultHistoryLimit.
type HistoryQuery struct {
	DeviceUUID  string
	SubDeviceID string
	Type        string
	Since       time.Time
	Limit       int
}

// HistoryRepository persists the registry's change stream. Implementations
// must be safe for concurrent use; the registry records from the broker
// goroutine while callers query.
type HistoryRepository interface {
	// RecordChange appends one change record.
	RecordChange(ctx context.Context, change Change) error

	// DeviceHistory returns records newest first.
	DeviceHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error)

	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
