// Package signal owns the two acknowledgment outputs (watchdog-timeout and
// sleep-interrupt channels) and executes pulse trains on them. Requests are
// queued so callers, including interrupt-adjacent code, never block on a
// pulse in progress.
package signal

import (
	"context"
	"sync/atomic"
	"time"

	"sleepcore-go/bus"
	"sleepcore-go/errcode"
	"sleepcore-go/platform"
	"sleepcore-go/types"
	"sleepcore-go/x/timex"
)

// Signaler is the dispatch surface the power service depends on.
// Implementations must return without blocking.
type Signaler interface {
	Signal(ch types.Channel, pulses int)
}

var (
	topicSignalCtrl  = bus.Topic{"signal", "control", "+"}
	topicSignalEvent = bus.Topic{"signal", "event"}
)

type request struct {
	ch     types.Channel
	pulses int
}

type Service struct {
	conn      *bus.Connection
	watchdog  platform.GPIOPin
	interrupt platform.GPIOPin
	cfg       types.SignalConfig

	reqQ  chan request
	drops atomic.Uint32
}

// New configures both channel pins as outputs, off. The config is
// normalized here so the worker never sees a zero pulse width.
func New(conn *bus.Connection, watchdogPin, interruptPin platform.GPIOPin, cfg types.SignalConfig) (*Service, error) {
	cfg.Normalize()
	if watchdogPin.Number() == interruptPin.Number() {
		return nil, errcode.InvalidParams
	}
	if err := watchdogPin.ConfigureOutput(false); err != nil {
		return nil, err
	}
	if err := interruptPin.ConfigureOutput(false); err != nil {
		return nil, err
	}
	return &Service{
		conn:      conn,
		watchdog:  watchdogPin,
		interrupt: interruptPin,
		cfg:       cfg,
		reqQ:      make(chan request, cfg.Queue),
	}, nil
}

// Signal enqueues a pulse train without blocking. When the queue is full the
// request is dropped and counted; a held level trigger can outpace the
// 200 ms trains by an order of magnitude and must not stall the wake loop.
func (s *Service) Signal(ch types.Channel, pulses int) {
	if pulses <= 0 {
		pulses = 1
	}
	select {
	case s.reqQ <- request{ch: ch, pulses: pulses}:
	default:
		s.drops.Add(1)
	}
}

// Drops counts requests discarded because the queue was full.
func (s *Service) Drops() uint32 { return s.drops.Load() }

// SelfTest holds each channel fully on in turn, watchdog first, so a bench
// observer can confirm both outputs before any wake source is armed. It
// blocks for two hold periods and is meant for boot, before Run.
func (s *Service) SelfTest(ctx context.Context) error {
	hold := timex.DurMs(s.cfg.SelfTestMs)
	for _, pin := range []platform.GPIOPin{s.watchdog, s.interrupt} {
		pin.Set(true)
		ok := sleep(ctx, hold)
		pin.Set(false)
		if !ok {
			return ctx.Err()
		}
	}
	return nil
}

// Run executes queued requests and serves control verbs on a single worker
// goroutine, so trains never interleave. Returns when ctx ends, outputs off.
func (s *Service) Run(ctx context.Context) {
	ctrlSub := s.conn.Subscribe(topicSignalCtrl)
	defer s.conn.Unsubscribe(ctrlSub)

	for {
		select {
		case <-ctx.Done():
			s.watchdog.Set(false)
			s.interrupt.Set(false)
			return
		case req := <-s.reqQ:
			s.pulseTrain(ctx, req)
		case msg := <-ctrlSub.Channel():
			s.handleControl(ctx, msg)
		}
	}
}

// pulseTrain drives one request to completion: output on for PulseMs, off
// for PulseMs between pulses. Publishes the event once the train is done.
// A cancelled context leaves the pin off.
func (s *Service) pulseTrain(ctx context.Context, req request) {
	pin := s.pin(req.ch)
	if pin == nil {
		return
	}
	phase := timex.DurMs(s.cfg.PulseMs)
	for i := 0; i < req.pulses; i++ {
		if i > 0 {
			if !sleep(ctx, phase) {
				return
			}
		}
		pin.Set(true)
		ok := sleep(ctx, phase)
		pin.Set(false)
		if !ok {
			return
		}
	}
	s.conn.Publish(s.conn.NewMessage(topicSignalEvent, types.SignalEvent{
		Channel: req.ch.String(),
		Pulses:  req.pulses,
		TS:      timex.NowMs(),
	}, false))
}

func (s *Service) handleControl(ctx context.Context, msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	verb, ok := msg.Topic[2].(string)
	if !ok {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	switch verb {
	case "test":
		s.conn.Reply(msg, types.OKReply{OK: true, Detail: "self_test"}, false)
		_ = s.SelfTest(ctx)
	case "pulse":
		req, ok := msg.Payload.(types.SignalRequest)
		if !ok {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		ch, ok := types.ParseChannel(req.Channel)
		if !ok {
			s.replyErr(msg, errcode.UnknownChannel)
			return
		}
		pulses := req.Pulses
		if pulses <= 0 {
			pulses = 1
		}
		select {
		case s.reqQ <- request{ch: ch, pulses: pulses}:
			s.conn.Reply(msg, types.OKReply{OK: true}, false)
		default:
			s.replyErr(msg, errcode.Busy)
		}
	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

func (s *Service) pin(ch types.Channel) platform.GPIOPin {
	switch ch {
	case types.ChannelWatchdogTimeout:
		return s.watchdog
	case types.ChannelSleepInterrupt:
		return s.interrupt
	default:
		return nil
	}
}

func (s *Service) replyErr(msg *bus.Message, code errcode.Code) {
	if !msg.CanReply() {
		return
	}
	s.conn.Reply(msg, types.ErrorReply{OK: false, Error: code}, false)
}

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
