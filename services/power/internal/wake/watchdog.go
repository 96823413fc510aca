package wake

import (
	"context"
	"sync"
	"time"

	"sleepcore-go/platform"
	"sleepcore-go/types"
)

// Watchdog is the budgeted periodic wake source. A single timer is armed
// for one period at a time; each expiry runs fire in interrupt context,
// which decrements the budget, records a periodic wake on the cell, and
// re-arms only while budget remains. Once the budget reaches zero the
// source never fires again, regardless of elapsed time.
//
// Lifecycle: armed once, disabled once. DISABLED is terminal; there is no
// re-arm. Disable is idempotent and callable from any goroutine at any
// moment. fire and Disable share a critical section; the original hardware
// ran the expiry handler with interrupts cleared, and the mutex is the
// moral equivalent.
type Watchdog struct {
	cell   *Cell
	flag   platform.ResetFlag
	period time.Duration

	mu       sync.Mutex
	budget   int
	armed    bool
	disabled bool
	timer    *time.Timer
	quit     chan struct{}
}

func NewWatchdog(cell *Cell, flag platform.ResetFlag, period time.Duration, budget int) *Watchdog {
	return &Watchdog{
		cell:   cell,
		flag:   flag,
		period: period,
		budget: budget,
		quit:   make(chan struct{}),
	}
}

// Arm starts periodic wake generation. Only the first call does anything.
func (w *Watchdog) Arm(ctx context.Context) {
	w.mu.Lock()
	if w.armed || w.disabled {
		w.mu.Unlock()
		return
	}
	w.armed = true
	w.timer = time.NewTimer(w.period)
	timer := w.timer
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.quit:
				return
			case <-timer.C:
				if !w.fire() {
					return
				}
			}
		}
	}()
}

// fire runs in interrupt context (the timer goroutine). It reports whether
// the timer was re-armed.
func (w *Watchdog) fire() bool {
	w.mu.Lock()
	if w.disabled || w.budget <= 0 {
		w.mu.Unlock()
		return false
	}
	w.budget--
	rearm := w.budget > 0
	if rearm {
		w.timer.Reset(w.period)
	}
	w.mu.Unlock()

	w.cell.Set(types.WakePeriodic)
	return rearm
}

// Disable stops generation for good. The reset-cause flag is cleared
// first, then the timer stops and the state becomes DISABLED. Safe to
// invoke repeatedly and before Arm.
func (w *Watchdog) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disabled {
		return
	}
	w.flag.Clear()
	w.disabled = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.quit)
}

// Remaining returns the unspent budget.
func (w *Watchdog) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.budget
}

// Exhausted reports whether the budget has been fully spent.
func (w *Watchdog) Exhausted() bool { return w.Remaining() <= 0 }

// Disabled reports whether Disable has run.
func (w *Watchdog) Disabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disabled
}
