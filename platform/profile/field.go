//go:build profile_field

package profile

import "sleepcore-go/types"

// Field set: deployed units carry twice the bench watchdog budget.
var selected = Profile{
	Name: "field",
	Power: types.PowerConfig{
		Watchdog: types.WatchdogConfig{PeriodMs: types.DefaultPeriodMs, Budget: 20},
		Edge:     types.TriggerConfig{Pin: 4, DebounceMs: types.DefaultDebounceMs},
		Level: types.LevelConfig{
			Pin:        5,
			DebounceMs: types.DefaultDebounceMs,
			RefireMs:   types.DefaultRefireMs,
		},
	},
	Signal: types.SignalConfig{
		WatchdogPin:  2,
		InterruptPin: 3,
		PulseMs:      types.DefaultPulseMs,
		SelfTestMs:   types.DefaultSelfTestMs,
		Queue:        types.DefaultQueue,
	},
}
