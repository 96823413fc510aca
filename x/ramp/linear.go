// Package ramp walks an integer level toward a target over a fixed wall
// time. The status LED uses it to fade out after each signal pulse instead
// of snapping dark.
package ramp

import (
	"time"

	"sleepcore-go/x/mathx"
)

// Step applies a new level in [0..top].
type Step func(level uint16)

// Tick blocks for d and reports whether the ramp should continue.
type Tick func(d time.Duration) bool

// StartLinear moves the level from cur to to over durationMs in the given
// number of steps, calling set on every change. The caller drives timing
// through tick, which doubles as the cancellation path: a false return stops
// the ramp where it stands. Zero steps or duration snaps straight to the
// target. Remainders are carried between steps so the walk stays even when
// the span does not divide cleanly.
func StartLinear(cur, to, top uint16, durationMs uint32, steps uint16, tick Tick, set Step) {
	target := mathx.Min(to, top)
	if steps == 0 || durationMs == 0 {
		set(target)
		return
	}

	interval := time.Duration(mathx.Max(durationMs/uint32(steps), 1)) * time.Millisecond
	span := int32(target) - int32(cur)
	level := int32(cur)
	carry := int32(0)

	for i := uint16(1); i < steps; i++ {
		if !tick(interval) {
			return
		}
		carry += span
		if delta := carry / int32(steps); delta != 0 {
			carry -= delta * int32(steps)
			level = mathx.Clamp(level+delta, 0, int32(top))
			set(uint16(level))
		}
	}
	if tick(interval) {
		set(target)
	}
}
