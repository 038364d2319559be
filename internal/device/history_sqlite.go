package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/meross-core/internal/merr"
)

// SQLiteHistory implements HistoryRepository on the shared SQLite handle.
// The state_history schema ships with the embedded migrations.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory wraps an open database. The caller owns the handle.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// RecordChange appends one change record. Old and new values are stored as
// JSON so queries get them back exactly as observed.
func (s *SQLiteHistory) RecordChange(ctx context.Context, change Change) error {
	newJSON, err := json.Marshal(change.New)
	if err != nil {
		return fmt.Errorf("marshaling new value: %w", err)
	}

	var oldJSON any
	if change.Old != nil {
		b, err := json.Marshal(change.Old)
		if err != nil {
			return fmt.Errorf("marshaling old value: %w", err)
		}
		oldJSON = string(b)
	}

	recordedAt := change.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	query := `
		INSERT INTO state_history (device_uuid, subdevice_id, type, channel, old_value, new_value, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		change.DeviceUUID,
		change.SubDeviceID,
		change.Type,
		change.Channel,
		oldJSON,
		string(newJSON),
		string(change.Source),
		recordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// DeviceHistory returns records newest first. Limit is clamped to
// MaxHistoryLimit; zero or negative means DefaultHistoryLimit.
func (s *SQLiteHistory) DeviceHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	if q.DeviceUUID == "" {
		return nil, merr.Validation("deviceUuid", "must not be empty")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, device_uuid, subdevice_id, type, channel, old_value, new_value, source, recorded_at
		FROM state_history
		WHERE device_uuid = ?
	`)
	args := []any{q.DeviceUUID}
	if q.SubDeviceID != "" {
		sb.WriteString(" AND subdevice_id = ?")
		args = append(args, q.SubDeviceID)
	}
	if q.Type != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, q.Type)
	}
	if !q.Since.IsZero() {
		sb.WriteString(" AND recorded_at >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	sb.WriteString(" ORDER BY recorded_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor.

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			oldValue   sql.NullString
			source     string
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.DeviceUUID, &e.SubDeviceID, &e.Type, &e.Channel,
			&oldValue, &e.New, &source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history row: %w", err)
		}
		if oldValue.Valid {
			e.Old = json.RawMessage(oldValue.String)
		}
		e.Source = Source(source)
		e.RecordedAt = parseHistoryTimestamp(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history rows: %w", err)
	}
	return entries, nil
}

// Prune deletes records older than before and reports how many went.
func (s *SQLiteHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return deleted, nil
}

// parseHistoryTimestamp tolerates both the nano format we write and the
// second-resolution stamps older databases may hold.
func parseHistoryTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
