package command

import (
	"sync"
	"time"
)

// budgetState tracks LAN health for one device.
type budgetState struct {
	remaining     int
	disabledUntil time.Time
}

// budgetTable is the per-device LAN error budget. Failures spend units,
// success refills, and an empty budget disables LAN until the cooldown
// passes, after which a single probe unit is granted.
type budgetTable struct {
	mu       sync.Mutex
	size     int
	cooldown time.Duration
	devices  map[string]*budgetState

	now func() time.Time
}

func newBudgetTable(size int, cooldown time.Duration) *budgetTable {
	if size < 1 {
		size = 1
	}
	return &budgetTable{
		size:     size,
		cooldown: cooldown,
		devices:  make(map[string]*budgetState),
		now:      time.Now,
	}
}

func (b *budgetTable) state(uuid string) *budgetState {
	s, ok := b.devices[uuid]
	if !ok {
		s = &budgetState{remaining: b.size}
		b.devices[uuid] = s
	}
	return s
}

// allow reports whether a LAN attempt may be made for the device. probe is
// true when this is the first attempt after a cooldown expired.
func (b *budgetTable) allow(uuid string) (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state(uuid)
	if s.remaining > 0 {
		return true, false
	}
	if b.now().Before(s.disabledUntil) {
		return false, false
	}

	// Cooldown expired: grant one unit so a single failure re-disables.
	s.remaining = 1
	s.disabledUntil = time.Time{}
	return true, true
}

// fail spends one budget unit and returns the remaining balance. Reaching
// zero starts the cooldown.
func (b *budgetTable) fail(uuid string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state(uuid)
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 && s.disabledUntil.IsZero() {
		s.disabledUntil = b.now().Add(b.cooldown)
	}
	return s.remaining
}

// succeed restores the full budget.
func (b *budgetTable) succeed(uuid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state(uuid)
	s.remaining = b.size
	s.disabledUntil = time.Time{}
}

// forget drops all tracking for the device.
func (b *budgetTable) forget(uuid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, uuid)
}

// snapshot returns the current balance and disable deadline for the device
// without creating an entry.
func (b *budgetTable) snapshot(uuid string) (remaining int, disabledUntil time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.devices[uuid]
	if !ok {
		return b.size, time.Time{}
	}
	return s.remaining, s.disabledUntil
}
