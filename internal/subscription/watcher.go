package subscription

import (
	"context"
	"time"

	"github.com/nerrad567/meross-core/internal/cloud"
	"github.com/nerrad567/meross-core/internal/merr"
)

// lister is the cloud listing surface the watcher polls. *cloud.Client
// satisfies it.
type lister interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceDescriptor, error)
}

// DeviceListEvent describes how the account's cloud listing moved between
// two consecutive polls.
type DeviceListEvent struct {
	Added     []cloud.DeviceDescriptor `json:"added,omitempty"`
	Removed   []cloud.DeviceDescriptor `json:"removed,omitempty"`
	Changed   []cloud.DeviceDescriptor `json:"changed,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// empty reports whether the poll observed no difference.
func (e DeviceListEvent) empty() bool {
	return len(e.Added) == 0 && len(e.Removed) == 0 && len(e.Changed) == 0
}

// WatchDeviceList polls the account's device listing at the given interval
// and emits an EventDeviceList whenever it differs from the previous
// snapshot. The first successful poll only establishes the baseline.
// Watching twice is an error; Close stops the watcher with everything
// else.
func (m *Manager) WatchDeviceList(client lister, interval time.Duration) error {
	select {
	case <-m.done:
		return merr.New(merr.KindValidation, "subscription manager closed")
	default:
	}
	if interval <= 0 {
		return merr.Validation("interval", "device list interval must be positive")
	}

	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return merr.New(merr.KindValidation, "device list watcher already running")
	}
	m.watching = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchLoop(client, interval)
	m.logger.Info("device list watcher started", "interval", interval)
	return nil
}

func (m *Manager) watchLoop(client lister, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var previous map[string]cloud.DeviceDescriptor
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.defaults.PollTimeout)
			rows, err := client.ListDevices(ctx)
			cancel()
			if err != nil {
				m.tickError("", "poll device list", err)
				continue
			}

			current := snapshotByUUID(rows)
			if previous != nil {
				if ev := diffListings(previous, current); !ev.empty() {
					m.emitter.Emit(EventDeviceList, ev)
				}
			}
			previous = current

		case <-m.done:
			return
		}
	}
}

func snapshotByUUID(rows []cloud.DeviceDescriptor) map[string]cloud.DeviceDescriptor {
	out := make(map[string]cloud.DeviceDescriptor, len(rows))
	for _, row := range rows {
		if row.UUID != "" {
			out[row.UUID] = row
		}
	}
	return out
}

// diffListings compares two listing snapshots. A row counts as changed
// when the fields an application would react to move: name, availability,
// firmware, or region domains.
func diffListings(previous, current map[string]cloud.DeviceDescriptor) DeviceListEvent {
	ev := DeviceListEvent{Timestamp: time.Now()}
	for uuid, row := range current {
		old, ok := previous[uuid]
		switch {
		case !ok:
			ev.Added = append(ev.Added, row)
		case descriptorChanged(old, row):
			ev.Changed = append(ev.Changed, row)
		}
	}
	for uuid, row := range previous {
		if _, ok := current[uuid]; !ok {
			ev.Removed = append(ev.Removed, row)
		}
	}
	return ev
}

func descriptorChanged(old, next cloud.DeviceDescriptor) bool {
	return old.Name != next.Name ||
		old.OnlineStatus != next.OnlineStatus ||
		old.FirmwareVersion != next.FirmwareVersion ||
		old.Domain != next.Domain ||
		old.ReservedDomain != next.ReservedDomain
}
