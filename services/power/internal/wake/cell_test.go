package wake

import (
	"testing"
	"time"

	"sleepcore-go/types"
)

func waitWake(t *testing.T, c *Cell, d time.Duration) bool {
	t.Helper()
	select {
	case <-c.Wakeups():
		return true
	case <-time.After(d):
		return false
	}
}

func TestCellSetAndTake(t *testing.T) {
	c := NewCell()
	c.Set(types.WakePeriodic)

	if !waitWake(t, c, 100*time.Millisecond) {
		t.Fatal("expected a wakeup after Set")
	}
	if got := c.Take(); got != types.WakePeriodic {
		t.Fatalf("unexpected reason: %v", got)
	}
	if got := c.Take(); got != types.WakeNone {
		t.Fatalf("Take must clear the cell, got %v", got)
	}
}

func TestCellCoalescesConcurrentSetters(t *testing.T) {
	c := NewCell()
	c.Set(types.WakePeriodic)
	c.Set(types.WakeEdgeTrigger)

	if !waitWake(t, c, 100*time.Millisecond) {
		t.Fatal("expected a wakeup")
	}
	if got := c.Take(); got != types.WakeEdgeTrigger {
		t.Fatalf("expected the last writer to win, got %v", got)
	}
	select {
	case <-c.Wakeups():
		t.Fatal("expected the two notifications to coalesce into one")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCellPokeIsSpurious(t *testing.T) {
	c := NewCell()
	c.Poke()

	if !waitWake(t, c, 100*time.Millisecond) {
		t.Fatal("expected a wakeup after Poke")
	}
	if got := c.Take(); got != types.WakeNone {
		t.Fatalf("poke must not carry a reason, got %v", got)
	}
}
