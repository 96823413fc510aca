// Package platform abstracts the pins and the reset-cause latch the sleep
// controller runs against. Backends: in-memory simulation (any OS), Linux
// GPIO character device, and the RP2 machine port under TinyGo build tags.
package platform

import "sync"

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Toggle()
	Number() int
}

// IRQPin extends GPIOPin with edge interrupts. Handlers run in interrupt
// context: they must not block and must return quickly.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory supplies GPIO pins by the configured number scheme. Pins are
// acquired and configured once at service start-up.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

// ResetFlag models the reset-cause latch of the reference hardware: it
// reports whether the last reset was watchdog-caused and can be cleared.
// The controller clears it at start-up; the watchdog source clears it again
// immediately before disabling itself.
type ResetFlag interface {
	WatchdogCaused() bool
	Clear()
}

// LatchResetFlag is a RAM-backed ResetFlag. It serves every backend here:
// neither a Linux process nor the RP2 wake path exposes a hardware latch
// for this, so the cause is tracked where the firmware would keep it.
type LatchResetFlag struct {
	mu     sync.Mutex
	caused bool
}

func (f *LatchResetFlag) WatchdogCaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caused
}

func (f *LatchResetFlag) Clear() {
	f.mu.Lock()
	f.caused = false
	f.mu.Unlock()
}

// Latch marks the next reset as watchdog-caused (tests, boot probing).
func (f *LatchResetFlag) Latch() {
	f.mu.Lock()
	f.caused = true
	f.mu.Unlock()
}
