package wake

import (
	"sync"
	"time"
)

// Gate is a non-blocking debounce filter built on timestamps instead of
// delay loops, so interrupt context can consult it without waiting.
//
// Two modes share one window:
//   - Accept: leading-edge suppression. The first transition always passes;
//     later ones pass only a full window after the last accepted one.
//   - Touch/Quiet: trailing-edge confirmation. Touch records raw activity;
//     Quiet reports a full window of silence since the last Touch.
//
// A zero window disables filtering entirely.
type Gate struct {
	window time.Duration
	mu     sync.Mutex
	last   time.Time // last accepted instant
	touch  time.Time // last raw activity
}

func NewGate(window time.Duration) *Gate { return &Gate{window: window} }

// Accept reports whether a transition at now clears the suppression window
// and records it when it does. Never blocks, never delays the first
// transition.
func (g *Gate) Accept(now time.Time) bool {
	if g.window <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && now.Sub(g.last) < g.window {
		return false
	}
	g.last = now
	return true
}

// Touch records raw activity at now for trailing-edge filtering.
func (g *Gate) Touch(now time.Time) {
	g.mu.Lock()
	g.touch = now
	g.mu.Unlock()
}

// Quiet reports whether a full window has elapsed since the last Touch.
// With nothing touched yet it is trivially true.
func (g *Gate) Quiet(now time.Time) bool {
	if g.window <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.touch.IsZero() || now.Sub(g.touch) >= g.window
}
