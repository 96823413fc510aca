package types

import "sleepcore-go/x/mathx"

// Power and signal configuration, supplied retained on "config/power" and
// "config/signal". Durations are plain milliseconds so build-tag profiles
// stay TinyGo-friendly and YAML overlays stay obvious.

// Defaults applied by Normalize when a field is left zero.
const (
	DefaultPeriodMs    uint32 = 8000
	DefaultBudget      int    = 10
	DefaultDebounceMs  uint16 = 50
	DefaultRefireMs    uint16 = 25
	DefaultPulseMs     uint16 = 200
	DefaultSelfTestMs  uint16 = 1000
	DefaultQueue       int    = 8
	DefaultHeartbeatMs uint32 = 10_000
)

type WatchdogConfig struct {
	PeriodMs uint32 `json:"period_ms" yaml:"period_ms"`
	Budget   int    `json:"budget" yaml:"budget"`
}

type TriggerConfig struct {
	Pin        int    `json:"pin" yaml:"pin"`
	DebounceMs uint16 `json:"debounce_ms" yaml:"debounce_ms"`
}

type LevelConfig struct {
	Pin        int    `json:"pin" yaml:"pin"`
	DebounceMs uint16 `json:"debounce_ms" yaml:"debounce_ms"`
	RefireMs   uint16 `json:"refire_ms" yaml:"refire_ms"`
}

type PowerConfig struct {
	Watchdog WatchdogConfig `json:"watchdog" yaml:"watchdog"`
	Edge     TriggerConfig  `json:"edge" yaml:"edge"`
	Level    LevelConfig    `json:"level" yaml:"level"`
}

type SignalConfig struct {
	WatchdogPin  int    `json:"watchdog_pin" yaml:"watchdog_pin"`
	InterruptPin int    `json:"interrupt_pin" yaml:"interrupt_pin"`
	PulseMs      uint16 `json:"pulse_ms" yaml:"pulse_ms"`
	SelfTestMs   uint16 `json:"self_test_ms" yaml:"self_test_ms"`
	Queue        int    `json:"queue" yaml:"queue"`
}

type HeartbeatConfig struct {
	IntervalMs uint32 `json:"interval_ms" yaml:"interval_ms"`
}

// Normalize fills zero fields with defaults and clamps the rest to sane
// bounds. Out-of-range values are coerced, not rejected; a sleep controller
// with an odd period is more useful than one that refuses to start.
// A zero debounce is meaningful (filtering disabled) and is left alone.
func (c *PowerConfig) Normalize() {
	if c.Watchdog.PeriodMs == 0 {
		c.Watchdog.PeriodMs = DefaultPeriodMs
	}
	if c.Watchdog.Budget == 0 {
		c.Watchdog.Budget = DefaultBudget
	}
	if c.Level.RefireMs == 0 {
		c.Level.RefireMs = DefaultRefireMs
	}
	c.Watchdog.PeriodMs = mathx.Clamp(c.Watchdog.PeriodMs, 100, 3_600_000)
	c.Watchdog.Budget = mathx.Clamp(c.Watchdog.Budget, 1, 1000)
	c.Edge.DebounceMs = mathx.Clamp(c.Edge.DebounceMs, 0, 5000)
	c.Level.DebounceMs = mathx.Clamp(c.Level.DebounceMs, 0, 5000)
	c.Level.RefireMs = mathx.Clamp(c.Level.RefireMs, 5, 1000)
}

// Normalize fills zero fields with defaults and clamps the rest.
func (c *SignalConfig) Normalize() {
	if c.PulseMs == 0 {
		c.PulseMs = DefaultPulseMs
	}
	if c.SelfTestMs == 0 {
		c.SelfTestMs = DefaultSelfTestMs
	}
	if c.Queue == 0 {
		c.Queue = DefaultQueue
	}
	c.PulseMs = mathx.Clamp(c.PulseMs, 10, 5000)
	c.SelfTestMs = mathx.Clamp(c.SelfTestMs, 10, 10_000)
	c.Queue = mathx.Clamp(c.Queue, 1, 64)
}

// Normalize fills a zero interval with the default and clamps the rest.
func (c *HeartbeatConfig) Normalize() {
	if c.IntervalMs == 0 {
		c.IntervalMs = DefaultHeartbeatMs
	}
	c.IntervalMs = mathx.Clamp(c.IntervalMs, 250, 3_600_000)
}
