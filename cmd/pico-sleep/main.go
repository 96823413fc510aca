//go:build rp2040 || rp2350

package main

import (
	"context"
	"image/color"
	"machine"
	"runtime"
	"strconv"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers/ws2812"

	"sleepcore-go/bus"
	"sleepcore-go/platform"
	"sleepcore-go/platform/profile"
	"sleepcore-go/services/heartbeat"
	"sleepcore-go/services/power"
	"sleepcore-go/services/signal"
	"sleepcore-go/types"
	"sleepcore-go/x/ramp"
	"sleepcore-go/x/timex"
)

// Carrier wiring. The profile owns the signaling and trigger pins; these
// three are bench conveniences local to this binary.
const (
	ledPin    = machine.GPIO16 // WS2812 data line
	traceTX   = machine.GPIO0  // uart0
	traceRX   = machine.GPIO1
	traceBaud = 115200

	ledPeak      = 0x28
	ledFadeMs    = 300
	ledFadeSteps = 12
)

func main() {
	time.Sleep(3 * time.Second) // let USB CDC come up before the first println

	ctx := context.Background()
	prof := profile.Selected()
	println("[main] sleepcore profile:", prof.Name)

	pins := platform.NewRP2Factory()
	reset := &platform.LatchResetFlag{}
	println("[main] watchdog-caused reset:", reset.WatchdogCaused())

	b := bus.NewBus(8)

	wdPin, ok := pins.ByNumber(prof.Signal.WatchdogPin)
	if !ok {
		println("[main] bad watchdog pin:", prof.Signal.WatchdogPin)
		return
	}
	irPin, ok := pins.ByNumber(prof.Signal.InterruptPin)
	if !ok {
		println("[main] bad interrupt pin:", prof.Signal.InterruptPin)
		return
	}

	sig, err := signal.New(b.NewConnection("signal"), wdPin, irPin, prof.Signal)
	if err != nil {
		println("[main] signal service:", err.Error())
		return
	}

	println("[main] self-test: both channels …")
	if err := sig.SelfTest(ctx); err != nil {
		println("[main] self-test failed:", err.Error())
		return
	}
	println("[main] self-test done")

	pow := power.New(b.NewConnection("power"), pins, reset, sig)
	hb := heartbeat.New(b.NewConnection("heartbeat"))

	go statusLED(b.NewConnection("led"), prof.Signal)
	go traceConsole(b.NewConnection("trace"))

	println("[main] starting services …")
	go sig.Run(ctx)
	go pow.Run(ctx)
	go hb.Run(ctx)

	// Retained, strongly-typed config. The power service arms its wake
	// sources on receipt; the signal copy is a bench-visible record of the
	// values baked into this build.
	conn := b.NewConnection("main")
	conn.Publish(conn.NewMessage(bus.T("config", "signal"), prof.Signal, true))
	conn.Publish(conn.NewMessage(bus.T("config", "power"), prof.Power, true))
	conn.Publish(conn.NewMessage(bus.T("config", "heartbeat"),
		types.HeartbeatConfig{IntervalMs: types.DefaultHeartbeatMs}, true))
	println("[main] config published …")

	time.Sleep(250 * time.Millisecond)

	status := bus.T("power", "control", "status")
	if reply, err := conn.RequestWait(ctx, conn.NewMessage(status, nil, false)); err != nil {
		println("[main] status error:", err.Error())
	} else if st, ok := reply.Payload.(types.PowerStatus); ok {
		println("[main] configured:", st.Configured, "budget left:", st.BudgetLeft)
	}
	println("[main] controller live")

	for {
		time.Sleep(30 * time.Second)
		printMem()
	}
}

// statusLED mirrors executed signal trains on the carrier's WS2812: red for
// the watchdog channel, green for sleep interrupts, with a short fade-out
// so back-to-back events stay distinguishable.
func statusLED(conn *bus.Connection, cfg types.SignalConfig) {
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led := ws2812.New(ledPin)
	show := func(red bool, level uint8) {
		c := color.RGBA{G: level}
		if red {
			c = color.RGBA{R: level}
		}
		_ = led.WriteColors([]color.RGBA{c})
	}
	show(false, 0)

	hold := timex.DurMs(cfg.PulseMs)
	tick := func(d time.Duration) bool { time.Sleep(d); return true }
	sub := conn.Subscribe(bus.T("signal", "event"))
	for m := range sub.Channel() {
		ev, ok := m.Payload.(types.SignalEvent)
		if !ok {
			continue
		}
		red := ev.Channel == types.ChannelWatchdogTimeout.String()
		show(red, ledPeak)
		time.Sleep(hold)
		ramp.StartLinear(ledPeak, 0, ledPeak, ledFadeMs, ledFadeSteps, tick, func(level uint16) {
			show(red, uint8(level))
		})
	}
}

// traceConsole streams one-line records of power/# traffic on uart0 so a
// bench probe can follow the controller without USB. Heartbeats are traced
// too; between wakes they are the only sign of life on the wire.
func traceConsole(conn *bus.Connection) {
	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{BaudRate: traceBaud, TX: traceTX, RX: traceRX}); err != nil {
		println("[trace] uart configure:", err.Error())
		return
	}

	powerSub := conn.Subscribe(bus.T("power", "#"))
	beatSub := conn.Subscribe(bus.T("system", "heartbeat"))
	line := make([]byte, 0, 96)
	for {
		line = line[:0]
		select {
		case m := <-powerSub.Channel():
			switch p := m.Payload.(type) {
			case types.PowerState:
				line = append(line, "state "...)
				line = append(line, string(p.State)...)
				if p.Detail != "" {
					line = append(line, ' ')
					line = append(line, p.Detail...)
				}
			case types.WakeEvent:
				line = append(line, "wake "...)
				line = append(line, p.Reason...)
				line = append(line, " seq="...)
				line = strconv.AppendUint(line, uint64(p.Seq), 10)
				line = append(line, " budget="...)
				line = strconv.AppendInt(line, int64(p.BudgetLeft), 10)
			case types.WatchdogState:
				line = append(line, "watchdog budget="...)
				line = strconv.AppendInt(line, int64(p.BudgetLeft), 10)
				if p.Disabled {
					line = append(line, " disabled"...)
				}
			default:
				continue
			}
		case m := <-beatSub.Channel():
			hb, ok := m.Payload.(types.Heartbeat)
			if !ok {
				continue
			}
			line = append(line, "hb seq="...)
			line = strconv.AppendUint(line, uint64(hb.Seq), 10)
			line = append(line, " up="...)
			line = strconv.AppendInt(line, hb.UptimeMs/1000, 10)
			line = append(line, "s alloc="...)
			line = strconv.AppendUint(line, hb.Alloc, 10)
		}
		line = append(line, '\r', '\n')
		_, _ = u.Write(line)
	}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
// Uses builtin println to avoid fmt overhead/allocations.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"heapSys:", uint32(ms.HeapSys),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
