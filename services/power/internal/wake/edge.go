package wake

import (
	"time"

	"sleepcore-go/platform"
	"sleepcore-go/types"
)

// EdgeTrigger turns presses of an active-low input into single wake
// events: one press, one event, releases are never registered. The IRQ
// handler is minimal: debounce check, cell store, return.
type EdgeTrigger struct {
	cell *Cell
	pin  platform.IRQPin
	gate *Gate
}

func NewEdgeTrigger(cell *Cell, pin platform.IRQPin, debounce time.Duration) *EdgeTrigger {
	return &EdgeTrigger{cell: cell, pin: pin, gate: NewGate(debounce)}
}

// Arm configures the input with a pull-up and registers the falling-edge
// IRQ. The leading debounce window opens at each accepted press; the first
// press is never delayed.
func (e *EdgeTrigger) Arm() error {
	if err := e.pin.ConfigureInput(platform.PullUp); err != nil {
		return err
	}
	return e.pin.SetIRQ(platform.EdgeFalling, e.onPress)
}

// onPress runs in interrupt context.
func (e *EdgeTrigger) onPress() {
	if !e.gate.Accept(time.Now()) {
		return
	}
	e.cell.Set(types.WakeEdgeTrigger)
}

func (e *EdgeTrigger) Disarm() error { return e.pin.ClearIRQ() }
