// Command sleepcore runs the sleep controller on a host: boot self-test,
// retained config publish, then the power and signal services against a
// simulated or real GPIO backend until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"sleepcore-go/bus"
	"sleepcore-go/config"
	"sleepcore-go/errcode"
	"sleepcore-go/platform"
	"sleepcore-go/platform/profile"
	"sleepcore-go/services/heartbeat"
	"sleepcore-go/services/power"
	"sleepcore-go/services/signal"
	"sleepcore-go/types"
	"sleepcore-go/x/strx"
)

func main() {
	configPath := flag.String("config", "", "YAML config overlaying the built-in profile")
	logLevel := flag.String("log-level", "", "error, warn, info or debug (default from config)")
	backend := flag.String("backend", "sim", "pin backend: sim or gpiocdev")
	chip := flag.String("chip", "gpiochip0", "GPIO character device (gpiocdev backend)")
	selfTest := flag.Bool("self-test", true, "hold each signal channel on at boot")
	demo := flag.Bool("demo", false, "tap and hold the trigger pins on a schedule (sim backend)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sleepcore:", err)
		os.Exit(1)
	}
	level, err := parseLogLevel(strx.Coalesce(*logLevel, cfg.Logging.Level))
	if err != nil {
		fmt.Fprintln(os.Stderr, "sleepcore:", err)
		os.Exit(1)
	}
	logger := setupLogger(level)

	if err := run(logger, cfg, *backend, *chip, *selfTest, *demo); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.File, backend, chip string, selfTest, demo bool) error {
	var (
		pins platform.PinFactory
		sim  *platform.SimFactory
	)
	switch backend {
	case "sim":
		sim = platform.NewSimFactory()
		pins = sim
	case "gpiocdev":
		cf, err := platform.NewChipFactory(chip)
		if err != nil {
			return fmt.Errorf("open gpio chip: %w", err)
		}
		defer cf.Close()
		pins = cf
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}
	if demo && sim == nil {
		return errors.New("-demo needs the sim backend")
	}

	reset := &platform.LatchResetFlag{}
	logger.Info("boot",
		"profile", profile.Selected().Name,
		"backend", backend,
		"watchdog_reset", reset.WatchdogCaused())

	b := bus.NewBus(16)

	wdPin, ok := pins.ByNumber(cfg.Signal.WatchdogPin)
	if !ok {
		return fmt.Errorf("watchdog channel pin %d: %w", cfg.Signal.WatchdogPin, errcode.UnknownPin)
	}
	irPin, ok := pins.ByNumber(cfg.Signal.InterruptPin)
	if !ok {
		return fmt.Errorf("interrupt channel pin %d: %w", cfg.Signal.InterruptPin, errcode.UnknownPin)
	}
	sigSvc, err := signal.New(b.NewConnection("signal"), wdPin, irPin, cfg.Signal)
	if err != nil {
		return fmt.Errorf("signal service: %w", err)
	}
	powerSvc := power.New(b.NewConnection("power"), pins, reset, sigSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCtx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if selfTest {
		logger.Info("self-test", "hold_ms", cfg.Signal.SelfTestMs)
		if err := sigSvc.SelfTest(sigCtx); err != nil {
			return fmt.Errorf("self-test interrupted: %w", err)
		}
	}

	hbSvc := heartbeat.New(b.NewConnection("heartbeat"))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); sigSvc.Run(ctx) }()
	go func() { defer wg.Done(); powerSvc.Run(ctx) }()
	go func() { defer wg.Done(); hbSvc.Run(ctx) }()

	go monitor(ctx, logger, b.NewConnection("monitor"))

	conn := b.NewConnection("main")
	conn.Publish(conn.NewMessage(bus.Topic{"config", "signal"}, cfg.Signal, true))
	conn.Publish(conn.NewMessage(bus.Topic{"config", "power"}, cfg.Power, true))
	conn.Publish(conn.NewMessage(bus.Topic{"config", "heartbeat"}, cfg.Heartbeat, true))
	logger.Info("configured",
		"period_ms", cfg.Power.Watchdog.PeriodMs,
		"budget", cfg.Power.Watchdog.Budget,
		"edge_pin", cfg.Power.Edge.Pin,
		"level_pin", cfg.Power.Level.Pin)

	if demo {
		go runDemo(ctx, logger, sim, cfg.Power)
	}

	<-sigCtx.Done()
	logger.Info("shutting down")
	logFinalStatus(logger, conn)
	cancel()
	wg.Wait()
	return nil
}

// monitor mirrors bus telemetry into the log: wake events and watchdog
// transitions at info, state churn and heartbeats at debug.
func monitor(ctx context.Context, logger *slog.Logger, conn *bus.Connection) {
	powerSub := conn.Subscribe(bus.Topic{"power", "#"})
	eventSub := conn.Subscribe(bus.Topic{"signal", "event"})
	beatSub := conn.Subscribe(bus.Topic{"system", "heartbeat"})
	defer conn.Unsubscribe(powerSub)
	defer conn.Unsubscribe(eventSub)
	defer conn.Unsubscribe(beatSub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-powerSub.Channel():
			switch p := msg.Payload.(type) {
			case types.PowerState:
				logger.Debug("power state", "state", p.State, "detail", p.Detail)
			case types.WakeEvent:
				logger.Info("wake", "reason", p.Reason, "seq", p.Seq, "budget_left", p.BudgetLeft)
			case types.WatchdogState:
				logger.Info("watchdog", "budget_left", p.BudgetLeft, "disabled", p.Disabled)
			}
		case msg := <-eventSub.Channel():
			if ev, ok := msg.Payload.(types.SignalEvent); ok {
				logger.Info("signal", "channel", ev.Channel, "pulses", ev.Pulses)
			}
		case msg := <-beatSub.Channel():
			if hb, ok := msg.Payload.(types.Heartbeat); ok {
				logger.Debug("heartbeat", "seq", hb.Seq, "uptime_ms", hb.UptimeMs, "alloc", hb.Alloc)
			}
		}
	}
}

func logFinalStatus(logger *slog.Logger, conn *bus.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := conn.RequestWait(ctx, conn.NewMessage(bus.Topic{"power", "control", "status"}, nil, false))
	if err != nil {
		logger.Warn("status query failed", "err", err)
		return
	}
	st, ok := reply.Payload.(types.PowerStatus)
	if !ok {
		return
	}
	logger.Info("final status",
		"periodic", st.PeriodicWakes,
		"edge", st.EdgeWakes,
		"level", st.LevelWakes,
		"spurious", st.SpuriousWakes,
		"budget_left", st.BudgetLeft,
		"watchdog_off", st.WatchdogOff,
		"signal_drops", st.SignalDrops)
}

// runDemo exercises the sim pins so the daemon shows life without hardware:
// a short tap on the edge pin every few seconds, a one-second hold on the
// level pin now and then. Active low, like the real wiring.
func runDemo(ctx context.Context, logger *slog.Logger, sim *platform.SimFactory, cfg types.PowerConfig) {
	edge := sim.Pin(cfg.Edge.Pin)
	level := sim.Pin(cfg.Level.Pin)

	tap := time.NewTicker(7 * time.Second)
	hold := time.NewTicker(20 * time.Second)
	defer tap.Stop()
	defer hold.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tap.C:
			logger.Info("demo: tap edge pin", "pin", edge.Number())
			edge.Set(false)
			if !pause(ctx, 80*time.Millisecond) {
				return
			}
			edge.Set(true)
		case <-hold.C:
			logger.Info("demo: hold level pin", "pin", level.Number())
			level.Set(false)
			if !pause(ctx, time.Second) {
				return
			}
			level.Set(true)
		}
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
