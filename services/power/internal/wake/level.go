package wake

import (
	"context"
	"time"

	"sleepcore-go/platform"
	"sleepcore-go/types"
)

// LevelTrigger models a level interrupt: while the active-low input is
// held, wake events are generated continuously at the refire cadence, so
// the controller cannot settle back into uninterrupted sleep until the
// line clears. The debounce gate is consulted on the trailing edge only:
// the first fire is immediate, and release is confirmed once the line has
// stayed inactive for a full window. A bounce back inside the window
// resumes the same hold.
type LevelTrigger struct {
	cell   *Cell
	pin    platform.IRQPin
	gate   *Gate
	refire time.Duration
	kick   chan struct{}
}

func NewLevelTrigger(cell *Cell, pin platform.IRQPin, debounce, refire time.Duration) *LevelTrigger {
	if refire <= 0 {
		refire = 25 * time.Millisecond
	}
	return &LevelTrigger{
		cell:   cell,
		pin:    pin,
		gate:   NewGate(debounce),
		refire: refire,
		kick:   make(chan struct{}, 1),
	}
}

// Arm configures the input, registers the asserting-edge IRQ and starts
// the hold pump. The pump stands in for the hardware re-entering a level
// interrupt for as long as the line is asserted.
func (l *LevelTrigger) Arm(ctx context.Context) error {
	if err := l.pin.ConfigureInput(platform.PullUp); err != nil {
		return err
	}
	if err := l.pin.SetIRQ(platform.EdgeFalling, l.onAssert); err != nil {
		return err
	}
	go l.pump(ctx)
	return nil
}

// onAssert runs in interrupt context.
func (l *LevelTrigger) onAssert() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *LevelTrigger) fire() { l.cell.Set(types.WakeLevelTrigger) }

func (l *LevelTrigger) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.kick:
			for {
				l.fire() // immediate: trailing-only debounce never delays the assert
				l.hold(ctx)
				if ctx.Err() != nil {
					return
				}
				// Release bounce may have queued a stale kick; the
				// trailing window already confirmed this release.
				select {
				case <-l.kick:
				default:
				}
				if l.pin.Get() {
					break // inactive for real
				}
			}
		}
	}
}

// hold samples the line every refire interval: active keeps firing,
// inactive must stay quiet for a full debounce window to finish the hold.
func (l *LevelTrigger) hold(ctx context.Context) {
	tick := time.NewTicker(l.refire)
	defer tick.Stop()
	l.gate.Touch(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if !l.pin.Get() { // still asserted (active low)
				l.gate.Touch(now)
				l.fire()
			} else if l.gate.Quiet(now) {
				return
			}
		}
	}
}

func (l *LevelTrigger) Disarm() error { return l.pin.ClearIRQ() }
