// Package power runs the sleep/wake controller. The service loop is the
// main context of the system: it blocks on the wake cell, reads and clears
// the pending reason, performs all signaling and bus traffic, and is the
// only writer of the sleep state. Wake sources run in interrupt context and
// only ever store into the cell.
package power

import (
	"context"

	"sleepcore-go/bus"
	"sleepcore-go/errcode"
	"sleepcore-go/platform"
	"sleepcore-go/services/power/internal/wake"
	"sleepcore-go/services/signal"
	"sleepcore-go/types"
	"sleepcore-go/x/timex"
)

var (
	topicConfigPower = bus.Topic{"config", "power"}
	topicCtrl        = bus.Topic{"power", "control", "+"}
	topicState       = bus.Topic{"power", "state"}
	topicWake        = bus.Topic{"power", "wake"}
	topicWatchdog    = bus.Topic{"power", "watchdog"}
)

// dropCounter is the optional part of the signaler surface; the status
// verb reports drops when the implementation tracks them.
type dropCounter interface {
	Drops() uint32
}

type Service struct {
	conn *bus.Connection
	pins platform.PinFactory
	flag platform.ResetFlag
	sig  signal.Signaler

	cell  *wake.Cell
	wd    *wake.Watchdog
	edge  *wake.EdgeTrigger
	level *wake.LevelTrigger

	state      types.SleepState
	configured bool
	wdOffSent  bool

	seq      uint32
	periodic uint32
	edges    uint32
	levels   uint32
	spurious uint32
}

func New(conn *bus.Connection, pins platform.PinFactory, flag platform.ResetFlag, sig signal.Signaler) *Service {
	return &Service{
		conn:  conn,
		pins:  pins,
		flag:  flag,
		sig:   sig,
		cell:  wake.NewCell(),
		state: types.StateAwake,
	}
}

// Run is the controller loop. Pins are resolved and armed on the first
// config message; after that the loop is event-driven until ctx ends.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigPower)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	// A stale watchdog-caused latch from the previous run must not leak
	// into this one.
	s.flag.Clear()
	s.setState(types.StateAwake, "awaiting_config")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case msg := <-cfgSub.Channel():
			s.handleConfig(ctx, msg)
		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)
		case <-s.cell.Wakeups():
			s.handleWake()
		}
	}
}

func (s *Service) handleConfig(ctx context.Context, msg *bus.Message) {
	if s.configured {
		// Pins are acquired once at start-up; later config is acknowledged
		// and ignored.
		s.replyOK(msg, "config_locked")
		return
	}
	cfg, ok := msg.Payload.(types.PowerConfig)
	if !ok {
		s.setState(s.state, "config_wrong_type")
		s.replyErr(msg, errcode.InvalidPayload)
		return
	}
	cfg.Normalize()
	if err := s.applyConfig(ctx, cfg); err != nil {
		s.setState(s.state, "apply_config_failed")
		s.replyErr(msg, errcode.Of(err))
		return
	}
	s.configured = true
	s.publishWatchdog()
	s.replyOK(msg, "configured")
	s.setState(types.StateSleeping, "configured")
}

func (s *Service) applyConfig(ctx context.Context, cfg types.PowerConfig) error {
	if cfg.Edge.Pin == cfg.Level.Pin {
		return errcode.InvalidParams
	}
	edgePin, err := s.irqPin(cfg.Edge.Pin)
	if err != nil {
		return err
	}
	levelPin, err := s.irqPin(cfg.Level.Pin)
	if err != nil {
		return err
	}

	s.wd = wake.NewWatchdog(s.cell, s.flag, timex.DurMs(cfg.Watchdog.PeriodMs), cfg.Watchdog.Budget)
	s.edge = wake.NewEdgeTrigger(s.cell, edgePin, timex.DurMs(cfg.Edge.DebounceMs))
	s.level = wake.NewLevelTrigger(s.cell, levelPin, timex.DurMs(cfg.Level.DebounceMs), timex.DurMs(cfg.Level.RefireMs))

	if err := s.edge.Arm(); err != nil {
		return err
	}
	if err := s.level.Arm(ctx); err != nil {
		s.edge.Disarm()
		return err
	}
	s.wd.Arm(ctx)
	return nil
}

func (s *Service) irqPin(n int) (platform.IRQPin, error) {
	pin, ok := s.pins.ByNumber(n)
	if !ok {
		return nil, errcode.UnknownPin
	}
	irq, ok := pin.(platform.IRQPin)
	if !ok {
		return nil, errcode.PinUnavailable
	}
	return irq, nil
}

// handleWake services one wakeup notification: read and clear the reason,
// dispatch signaling, publish the wake event, then settle back to sleep.
// A notification with no pending reason is a spurious wake and stays silent.
func (s *Service) handleWake() {
	s.setState(types.StateAwake, "wake")
	reason := s.cell.Take()

	switch reason {
	case types.WakeNone:
		s.spurious++
	case types.WakePeriodic:
		s.periodic++
		s.sig.Signal(types.ChannelWatchdogTimeout, 1)
		s.sig.Signal(types.ChannelSleepInterrupt, 1)
	case types.WakeEdgeTrigger:
		s.edges++
		s.sig.Signal(types.ChannelSleepInterrupt, 1)
	case types.WakeLevelTrigger:
		s.levels++
		s.sig.Signal(types.ChannelSleepInterrupt, 1)
	}

	if reason != types.WakeNone {
		s.seq++
		budget := 0
		if s.wd != nil {
			budget = s.wd.Remaining()
		}
		s.conn.Publish(s.conn.NewMessage(topicWake, types.WakeEvent{
			Reason:     reason.String(),
			Seq:        s.seq,
			BudgetLeft: budget,
			TS:         timex.NowMs(),
		}, false))
	}

	// The exhaustion check runs on every wake, not just periodic ones: the
	// final fire can coalesce with a trigger in the cell, and the budget
	// must still be retired promptly.
	s.maybeRetireWatchdog()
	s.setState(types.StateSleeping, reason.String())
}

func (s *Service) maybeRetireWatchdog() {
	if s.wd == nil || s.wdOffSent || !s.wd.Exhausted() {
		return
	}
	s.wd.Disable()
	s.publishWatchdog()
	s.wdOffSent = true
}

func (s *Service) handleControl(msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	verb, ok := msg.Topic[2].(string)
	if !ok {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	switch verb {
	case "status":
		st := types.PowerStatus{
			State:         s.state,
			Configured:    s.configured,
			PeriodicWakes: s.periodic,
			EdgeWakes:     s.edges,
			LevelWakes:    s.levels,
			SpuriousWakes: s.spurious,
		}
		if s.wd != nil {
			st.BudgetLeft = s.wd.Remaining()
			st.WatchdogOff = s.wd.Disabled()
		}
		if dc, ok := s.sig.(dropCounter); ok {
			st.SignalDrops = dc.Drops()
		}
		s.reply(msg, st)

	case "disable-watchdog":
		if s.wd != nil {
			s.wd.Disable()
			if !s.wdOffSent {
				s.publishWatchdog()
				s.wdOffSent = true
			}
		}
		s.replyOK(msg, "")

	case "poke":
		s.cell.Poke()
		s.replyOK(msg, "")

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

func (s *Service) shutdown() {
	if s.edge != nil {
		s.edge.Disarm()
	}
	if s.level != nil {
		s.level.Disarm()
	}
	if s.wd != nil {
		s.wd.Disable()
	}
	s.setState(types.StateAwake, "stopped")
}

// ---- bus helpers ----

func (s *Service) setState(st types.SleepState, detail string) {
	s.state = st
	s.conn.Publish(s.conn.NewMessage(topicState, types.PowerState{
		State:  st,
		Detail: detail,
		TS:     timex.NowMs(),
	}, true))
}

func (s *Service) publishWatchdog() {
	if s.wd == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(topicWatchdog, types.WatchdogState{
		BudgetLeft: s.wd.Remaining(),
		Disabled:   s.wd.Disabled(),
		TS:         timex.NowMs(),
	}, true))
}

func (s *Service) reply(msg *bus.Message, payload any) {
	if !msg.CanReply() {
		return
	}
	s.conn.Reply(msg, payload, false)
}

func (s *Service) replyOK(msg *bus.Message, detail string) {
	s.reply(msg, types.OKReply{OK: true, Detail: detail})
}

func (s *Service) replyErr(msg *bus.Message, code errcode.Code) {
	s.reply(msg, types.ErrorReply{OK: false, Error: code})
}
