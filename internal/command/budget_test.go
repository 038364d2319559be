package command

import (
	"testing"
	"time"
)

func frozenBudget(size int, cooldown time.Duration) (*budgetTable, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := newBudgetTable(size, cooldown)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBudgetLifecycle(t *testing.T) {
	b, now := frozenBudget(2, time.Minute)
	const uuid = "dev-1"

	ok, probe := b.allow(uuid)
	if !ok || probe {
		t.Fatalf("fresh device: allow = (%v, %v), want (true, false)", ok, probe)
	}

	if rem := b.fail(uuid); rem != 1 {
		t.Fatalf("after first failure: remaining = %d, want 1", rem)
	}
	if rem := b.fail(uuid); rem != 0 {
		t.Fatalf("after second failure: remaining = %d, want 0", rem)
	}

	if ok, _ := b.allow(uuid); ok {
		t.Fatal("allow = true during cooldown")
	}

	*now = now.Add(59 * time.Second)
	if ok, _ := b.allow(uuid); ok {
		t.Fatal("allow = true one second before cooldown expiry")
	}

	*now = now.Add(2 * time.Second)
	ok, probe = b.allow(uuid)
	if !ok || !probe {
		t.Fatalf("after cooldown: allow = (%v, %v), want (true, true)", ok, probe)
	}
	if rem, _ := b.snapshot(uuid); rem != 1 {
		t.Fatalf("probe budget = %d, want 1", rem)
	}

	// A failed probe re-disables immediately.
	if rem := b.fail(uuid); rem != 0 {
		t.Fatalf("after failed probe: remaining = %d, want 0", rem)
	}
	if ok, _ := b.allow(uuid); ok {
		t.Fatal("allow = true right after a failed probe")
	}

	// A successful probe restores the full budget.
	*now = now.Add(61 * time.Second)
	if ok, _ := b.allow(uuid); !ok {
		t.Fatal("allow = false after second cooldown")
	}
	b.succeed(uuid)
	rem, disabledUntil := b.snapshot(uuid)
	if rem != 2 || !disabledUntil.IsZero() {
		t.Fatalf("after success: (%d, %v), want full budget and no cooldown", rem, disabledUntil)
	}
}

func TestBudgetSuccessRefillsMidway(t *testing.T) {
	b, _ := frozenBudget(5, time.Minute)
	const uuid = "dev-2"

	b.fail(uuid)
	b.fail(uuid)
	b.succeed(uuid)

	if rem, _ := b.snapshot(uuid); rem != 5 {
		t.Errorf("remaining = %d, want 5", rem)
	}
}

func TestBudgetIsPerDevice(t *testing.T) {
	b, _ := frozenBudget(1, time.Minute)

	b.fail("dev-a")
	if ok, _ := b.allow("dev-a"); ok {
		t.Error("dev-a: allow = true with spent budget")
	}
	if ok, _ := b.allow("dev-b"); !ok {
		t.Error("dev-b: allow = false, budgets must be independent")
	}
}

func TestBudgetForget(t *testing.T) {
	b, _ := frozenBudget(1, time.Minute)
	const uuid = "dev-3"

	b.fail(uuid)
	b.forget(uuid)

	if ok, probe := b.allow(uuid); !ok || probe {
		t.Errorf("after forget: allow = (%v, %v), want a fresh (true, false)", ok, probe)
	}
}

func TestBudgetMinimumSize(t *testing.T) {
	b := newBudgetTable(0, time.Minute)
	if b.size != 1 {
		t.Errorf("size = %d, want clamped to 1", b.size)
	}
}
