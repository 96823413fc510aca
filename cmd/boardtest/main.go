//go:build rp2040 || rp2350

// Command boardtest proves out a sleep controller carrier before the real
// firmware goes on. Each cycle walks the two signal channel pins so a probe,
// buzzer or downstream input can be checked, then waits for the operator to
// press both trigger buttons. Verdict goes to the console and the WS2812:
// double short green for pass, single long red for fail.
package main

import (
	"image/color"
	"machine"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers/ws2812"

	"sleepcore-go/platform"
	"sleepcore-go/platform/profile"
)

const (
	ledPin = machine.GPIO16 // WS2812 data line, same spot as pico-sleep

	channelPulses = 3
	pulseOn       = 300 * time.Millisecond
	pulseOff      = 200 * time.Millisecond

	pressWindow = 10 * time.Second
	cyclePause  = 2 * time.Second

	// Cycles: 0 = loop forever.
	cyclesToRun = 0
)

func main() {
	time.Sleep(3 * time.Second)
	prof := profile.Selected()
	println("[boardtest] profile:", prof.Name)

	pins := platform.NewRP2Factory()

	wd := mustPin(pins, prof.Signal.WatchdogPin, "watchdog channel")
	ir := mustPin(pins, prof.Signal.InterruptPin, "interrupt channel")
	_ = wd.ConfigureOutput(false)
	_ = ir.ConfigureOutput(false)

	edge := mustIRQ(pins, prof.Power.Edge.Pin, "edge trigger")
	level := mustIRQ(pins, prof.Power.Level.Pin, "level trigger")
	_ = edge.ConfigureInput(platform.PullUp)
	_ = level.ConfigureInput(platform.PullUp)

	var edgePresses, levelPresses atomic.Uint32
	_ = edge.SetIRQ(platform.EdgeFalling, func() { edgePresses.Add(1) })
	_ = level.SetIRQ(platform.EdgeFalling, func() { levelPresses.Add(1) })

	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led := ws2812.New(ledPin)

	cycle := 0
	for {
		cycle++
		println("=== boardtest: cycle", cycle, "===")

		println("[boardtest] walking watchdog channel, pin", wd.Number())
		walkChannel(wd)
		println("[boardtest] walking interrupt channel, pin", ir.Number())
		walkChannel(ir)

		edgePresses.Store(0)
		levelPresses.Store(0)
		println("[boardtest] press both triggers within", int(pressWindow/time.Second), "s …")
		time.Sleep(pressWindow)

		e, l := edgePresses.Load(), levelPresses.Load()
		println("[boardtest] edge presses:", e, "level presses:", l)

		pass := e > 0 && l > 0
		if pass {
			println("[PASS] channels walked; both triggers seen")
		} else {
			println("[FAIL] missing trigger activity")
		}
		flashVerdict(led, pass)

		if cyclesToRun > 0 && cycle >= cyclesToRun {
			println("[boardtest] completed", cycle, "cycles; halting")
			return
		}
		time.Sleep(cyclePause)
	}
}

// walkChannel pulses an output pin in a pattern slow enough to follow by eye.
func walkChannel(p platform.GPIOPin) {
	for i := 0; i < channelPulses; i++ {
		p.Set(true)
		time.Sleep(pulseOn)
		p.Set(false)
		time.Sleep(pulseOff)
	}
}

func flashVerdict(led ws2812.Device, pass bool) {
	off := []color.RGBA{{}}
	if pass {
		for i := 0; i < 2; i++ {
			_ = led.WriteColors([]color.RGBA{{G: 0x30}})
			time.Sleep(120 * time.Millisecond)
			_ = led.WriteColors(off)
			time.Sleep(200 * time.Millisecond)
		}
		return
	}
	_ = led.WriteColors([]color.RGBA{{R: 0x30}})
	time.Sleep(400 * time.Millisecond)
	_ = led.WriteColors(off)
	time.Sleep(200 * time.Millisecond)
}

func mustPin(pins platform.RP2Factory, n int, what string) platform.GPIOPin {
	p, ok := pins.ByNumber(n)
	if !ok {
		halt(what, n)
	}
	return p
}

func mustIRQ(pins platform.RP2Factory, n int, what string) platform.IRQPin {
	p, ok := pins.ByNumber(n)
	if !ok {
		halt(what, n)
	}
	irq, ok := p.(platform.IRQPin)
	if !ok {
		halt(what, n)
	}
	return irq
}

// halt loops forever printing the bad pin so the console shows the cause
// even if attached late.
func halt(what string, n int) {
	for {
		println("[boardtest] bad pin for", what, ":", n)
		time.Sleep(2 * time.Second)
	}
}
