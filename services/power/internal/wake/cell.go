// Package wake holds the shared wake cell and the wake sources of the
// power controller. Code here that runs in interrupt context follows one
// discipline: store state, notify without blocking, return.
package wake

import (
	"sync/atomic"

	"sleepcore-go/types"
)

// Cell is the wake handoff between interrupt context and the main loop: an
// atomic pending reason plus a capacity-1 notification channel. Sources
// only set; the main loop is the only consumer and the only clearer, so
// exactly one reason is visible per wake cycle.
type Cell struct {
	reason  atomic.Int32
	wakeups chan struct{}
}

func NewCell() *Cell {
	return &Cell{wakeups: make(chan struct{}, 1)}
}

// Set stores reason and notifies. Non-blocking, safe in interrupt context.
// Concurrent setters coalesce: the last writer wins and a single wakeup
// is delivered.
func (c *Cell) Set(reason types.WakeReason) {
	c.reason.Store(int32(reason))
	c.Poke()
}

// Poke notifies without recording a reason. A consumer waking to an empty
// cell treats it as a spurious wake.
func (c *Cell) Poke() {
	select {
	case c.wakeups <- struct{}{}:
	default:
	}
}

// Take atomically swaps the pending reason for WakeNone and returns it.
// Main loop only.
func (c *Cell) Take() types.WakeReason {
	return types.WakeReason(c.reason.Swap(int32(types.WakeNone)))
}

// Wakeups is the suspension point the main loop blocks on.
func (c *Cell) Wakeups() <-chan struct{} { return c.wakeups }
