package types

import "sleepcore-go/errcode"

// ------------------------
// Wake/sleep vocabulary
// ------------------------

// WakeReason identifies what pulled the controller out of sleep.
type WakeReason uint8

const (
	WakeNone WakeReason = iota
	WakePeriodic
	WakeEdgeTrigger
	WakeLevelTrigger
)

func (r WakeReason) String() string {
	switch r {
	case WakeNone:
		return "none"
	case WakePeriodic:
		return "periodic"
	case WakeEdgeTrigger:
		return "edge_trigger"
	case WakeLevelTrigger:
		return "level_trigger"
	default:
		return "unknown"
	}
}

// SleepState is owned by the power service loop; nothing else mutates it.
type SleepState string

const (
	StateSleeping SleepState = "sleeping"
	StateAwake    SleepState = "awake"
)

// Channel selects one of the two signaling outputs.
type Channel uint8

const (
	ChannelWatchdogTimeout Channel = iota
	ChannelSleepInterrupt
)

func (c Channel) String() string {
	switch c {
	case ChannelWatchdogTimeout:
		return "watchdog_timeout"
	case ChannelSleepInterrupt:
		return "sleep_interrupt"
	default:
		return "unknown"
	}
}

// ParseChannel maps the wire form back to a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch s {
	case "watchdog_timeout":
		return ChannelWatchdogTimeout, true
	case "sleep_interrupt":
		return ChannelSleepInterrupt, true
	}
	return 0, false
}

// ------------------------
// Power service payloads
// ------------------------

// PowerState is published retained on "power/state".
type PowerState struct {
	State  SleepState `json:"state"`
	Detail string     `json:"detail,omitempty"` // short code, e.g. "awaiting_config"
	TS     int64      `json:"ts_ms"`
}

// WakeEvent is published on "power/wake" for every non-spurious wake.
type WakeEvent struct {
	Reason     string `json:"reason"`
	Seq        uint32 `json:"seq"`
	BudgetLeft int    `json:"budget_left"`
	TS         int64  `json:"ts_ms"`
}

// WatchdogState is published retained on "power/watchdog".
type WatchdogState struct {
	BudgetLeft int   `json:"budget_left"`
	Disabled   bool  `json:"disabled"`
	TS         int64 `json:"ts_ms"`
}

// PowerStatus answers the power "status" control verb.
type PowerStatus struct {
	State         SleepState `json:"state"`
	Configured    bool       `json:"configured"`
	PeriodicWakes uint32     `json:"periodic_wakes"`
	EdgeWakes     uint32     `json:"edge_wakes"`
	LevelWakes    uint32     `json:"level_wakes"`
	SpuriousWakes uint32     `json:"spurious_wakes"`
	BudgetLeft    int        `json:"budget_left"`
	WatchdogOff   bool       `json:"watchdog_off"`
	SignalDrops   uint32     `json:"signal_drops"`
}

// ------------------------
// Signal service payloads
// ------------------------

// SignalEvent is published on "signal/event" per executed request.
type SignalEvent struct {
	Channel string `json:"channel"`
	Pulses  int    `json:"pulses"`
	TS      int64  `json:"ts_ms"`
}

// SignalRequest is the payload of the signal "pulse" control verb.
type SignalRequest struct {
	Channel string `json:"channel"`
	Pulses  int    `json:"pulses"`
}

// ------------------------
// Heartbeat
// ------------------------

// Heartbeat is published retained on "system/heartbeat" as a liveness and
// memory-pressure beacon. On a device that spends most of its time asleep
// it is often the only periodic traffic on the bus.
type Heartbeat struct {
	Seq      uint32 `json:"seq"`
	UptimeMs int64  `json:"uptime_ms"`
	Alloc    uint64 `json:"alloc_bytes"`
	TS       int64  `json:"ts_ms"`
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type ErrorReply struct {
	OK    bool         `json:"ok"`
	Error errcode.Code `json:"error"`
}
