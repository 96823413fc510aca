package power

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sleepcore-go/bus"
	"sleepcore-go/errcode"
	"sleepcore-go/platform"
	"sleepcore-go/types"
)

type sigCall struct {
	ch     types.Channel
	pulses int
}

// fakeSignaler records dispatches instead of driving pins.
type fakeSignaler struct {
	mu    sync.Mutex
	calls []sigCall
	drops atomic.Uint32
}

func (f *fakeSignaler) Signal(ch types.Channel, pulses int) {
	f.mu.Lock()
	f.calls = append(f.calls, sigCall{ch: ch, pulses: pulses})
	f.mu.Unlock()
}

func (f *fakeSignaler) Drops() uint32 { return f.drops.Load() }

func (f *fakeSignaler) count(ch types.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.ch == ch {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSignaler) snapshot() []sigCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sigCall(nil), f.calls...)
}

type rig struct {
	pins *platform.SimFactory
	flag *platform.LatchResetFlag
	sig  *fakeSignaler
	conn *bus.Connection
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b := bus.NewBus(32)
	r := &rig{
		pins: platform.NewSimFactory(),
		flag: &platform.LatchResetFlag{},
		sig:  &fakeSignaler{},
		conn: b.NewConnection("test"),
	}
	svc := New(b.NewConnection("power"), r.pins, r.flag, r.sig)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	// The first retained state lands after the loop has subscribed its
	// topics, so control and config traffic is safe from here on.
	sub := r.conn.Subscribe(topicState)
	defer r.conn.Unsubscribe(sub)
	waitStateDetail(t, sub, "awaiting_config")
	return r
}

func testConfig() types.PowerConfig {
	return types.PowerConfig{
		Watchdog: types.WatchdogConfig{PeriodMs: 3_600_000, Budget: 3},
		Edge:     types.TriggerConfig{Pin: 4, DebounceMs: 10},
		Level:    types.LevelConfig{Pin: 5, DebounceMs: 30, RefireMs: 10},
	}
}

func (r *rig) configure(t *testing.T, cfg types.PowerConfig) {
	t.Helper()
	sub := r.conn.Subscribe(topicState)
	defer r.conn.Unsubscribe(sub)
	r.conn.Publish(r.conn.NewMessage(topicConfigPower, cfg, true))
	waitStateDetail(t, sub, "configured")
}

func (r *rig) verb(t *testing.T, verb string, payload any) *bus.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := r.conn.RequestWait(ctx, r.conn.NewMessage(bus.Topic{"power", "control", verb}, payload, false))
	if err != nil {
		t.Fatalf("%s request: %v", verb, err)
	}
	return reply
}

func (r *rig) status(t *testing.T) types.PowerStatus {
	t.Helper()
	reply := r.verb(t, "status", nil)
	st, ok := reply.Payload.(types.PowerStatus)
	if !ok {
		t.Fatalf("unexpected status payload: %+v", reply.Payload)
	}
	return st
}

func waitStateDetail(t *testing.T, sub *bus.Subscription, detail string) types.PowerState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.PowerState); ok && st.Detail == detail {
				return st
			}
		case <-deadline:
			t.Fatalf("timeout waiting for power state %q", detail)
		}
	}
}

func waitWakeEvent(t *testing.T, sub *bus.Subscription) types.WakeEvent {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		ev, ok := msg.Payload.(types.WakeEvent)
		if !ok {
			t.Fatalf("unexpected payload on wake topic: %+v", msg.Payload)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for wake event")
		return types.WakeEvent{}
	}
}

func waitWatchdogState(t *testing.T, sub *bus.Subscription) types.WatchdogState {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		st, ok := msg.Payload.(types.WatchdogState)
		if !ok {
			t.Fatalf("unexpected payload on watchdog topic: %+v", msg.Payload)
		}
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for watchdog state")
		return types.WatchdogState{}
	}
}

func expectQuiet(t *testing.T, sub *bus.Subscription, d time.Duration) {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message: %+v", msg.Payload)
	case <-time.After(d):
	}
}

func TestWatchdogBudgetRunsDownAndRetires(t *testing.T) {
	r := newRig(t)
	wdSub := r.conn.Subscribe(topicWatchdog)
	defer r.conn.Unsubscribe(wdSub)
	wakeSub := r.conn.Subscribe(topicWake)
	defer r.conn.Unsubscribe(wakeSub)

	cfg := testConfig()
	cfg.Watchdog = types.WatchdogConfig{PeriodMs: 100, Budget: 3}
	r.configure(t, cfg)

	st := waitWatchdogState(t, wdSub)
	if st.Disabled || st.BudgetLeft != 3 {
		t.Fatalf("initial watchdog state: %+v", st)
	}

	for i, want := range []int{2, 1, 0} {
		ev := waitWakeEvent(t, wakeSub)
		if ev.Reason != "periodic" {
			t.Fatalf("wake %d reason = %q, want periodic", i+1, ev.Reason)
		}
		if ev.Seq != uint32(i+1) || ev.BudgetLeft != want {
			t.Fatalf("wake %d = %+v, want seq %d budget %d", i+1, ev, i+1, want)
		}
	}

	st = waitWatchdogState(t, wdSub)
	if !st.Disabled || st.BudgetLeft != 0 {
		t.Fatalf("expected retired watchdog, got %+v", st)
	}

	if got := r.sig.count(types.ChannelWatchdogTimeout); got != 3 {
		t.Fatalf("watchdog-timeout signals = %d, want 3", got)
	}
	if got := r.sig.count(types.ChannelSleepInterrupt); got != 3 {
		t.Fatalf("sleep-interrupt signals = %d, want 3", got)
	}
	for _, c := range r.sig.snapshot() {
		if c.pulses != 1 {
			t.Fatalf("dispatch used %d pulses, want 1", c.pulses)
		}
	}

	// Two and a half further periods: the retired source must stay silent.
	time.Sleep(250 * time.Millisecond)
	if got := r.sig.count(types.ChannelWatchdogTimeout); got != 3 {
		t.Fatalf("watchdog signaled after retirement: %d", got)
	}

	status := r.status(t)
	if status.PeriodicWakes != 3 || !status.WatchdogOff || status.BudgetLeft != 0 {
		t.Fatalf("status after retirement: %+v", status)
	}
}

func TestEdgePressSignalsExactlyOnce(t *testing.T) {
	r := newRig(t)
	r.configure(t, testConfig())

	wakeSub := r.conn.Subscribe(topicWake)
	defer r.conn.Unsubscribe(wakeSub)

	pin := r.pins.Pin(4)
	pin.Set(false) // press, active low
	ev := waitWakeEvent(t, wakeSub)
	if ev.Reason != "edge_trigger" {
		t.Fatalf("wake reason = %q, want edge_trigger", ev.Reason)
	}
	pin.Set(true) // release must not register

	expectQuiet(t, wakeSub, 100*time.Millisecond)
	if got := r.sig.count(types.ChannelSleepInterrupt); got != 1 {
		t.Fatalf("sleep-interrupt signals = %d, want 1", got)
	}
	if got := r.sig.count(types.ChannelWatchdogTimeout); got != 0 {
		t.Fatalf("watchdog-timeout signals = %d, want 0", got)
	}

	status := r.status(t)
	if status.EdgeWakes != 1 || status.State != types.StateSleeping {
		t.Fatalf("status after press: %+v", status)
	}
}

func TestLevelHoldStreamsUntilRelease(t *testing.T) {
	r := newRig(t)
	r.configure(t, testConfig()) // level: debounce 30 ms, refire 10 ms

	pin := r.pins.Pin(5)
	pin.Set(false)
	time.Sleep(150 * time.Millisecond)
	pin.Set(true)

	// Allow the trailing debounce plus ample scheduling slack to pass.
	time.Sleep(150 * time.Millisecond)
	n := r.sig.count(types.ChannelSleepInterrupt)
	if n < 3 {
		t.Fatalf("sleep-interrupt signals during hold = %d, want at least 3", n)
	}

	time.Sleep(100 * time.Millisecond)
	if got := r.sig.count(types.ChannelSleepInterrupt); got != n {
		t.Fatalf("signals kept flowing after release: %d -> %d", n, got)
	}

	status := r.status(t)
	if status.LevelWakes < 3 || status.State != types.StateSleeping {
		t.Fatalf("status after hold: %+v", status)
	}
}

func TestPokeIsSpuriousAndSilent(t *testing.T) {
	r := newRig(t)
	r.configure(t, testConfig())

	wakeSub := r.conn.Subscribe(topicWake)
	defer r.conn.Unsubscribe(wakeSub)

	reply := r.verb(t, "poke", nil)
	if ok, _ := reply.Payload.(types.OKReply); !ok.OK {
		t.Fatalf("poke reply: %+v", reply.Payload)
	}

	expectQuiet(t, wakeSub, 100*time.Millisecond)
	if got := r.sig.total(); got != 0 {
		t.Fatalf("spurious wake dispatched %d signals", got)
	}

	status := r.status(t)
	if status.SpuriousWakes != 1 {
		t.Fatalf("status after poke: %+v", status)
	}
}

func TestConfigLockedAfterFirstApply(t *testing.T) {
	r := newRig(t)
	r.configure(t, testConfig())

	second := testConfig()
	second.Edge.Pin = 6
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := r.conn.RequestWait(ctx, r.conn.NewMessage(topicConfigPower, second, false))
	if err != nil {
		t.Fatalf("second config request: %v", err)
	}
	if ok, _ := reply.Payload.(types.OKReply); !ok.OK || ok.Detail != "config_locked" {
		t.Fatalf("second config reply: %+v", reply.Payload)
	}

	wakeSub := r.conn.Subscribe(topicWake)
	defer r.conn.Unsubscribe(wakeSub)

	r.pins.Pin(6).Set(false) // the rejected pin must not be armed
	expectQuiet(t, wakeSub, 50*time.Millisecond)

	r.pins.Pin(4).Set(false) // the original pin still is
	ev := waitWakeEvent(t, wakeSub)
	if ev.Reason != "edge_trigger" {
		t.Fatalf("wake reason = %q, want edge_trigger", ev.Reason)
	}
}

func TestConfigRejectsSharedTriggerPin(t *testing.T) {
	r := newRig(t)

	bad := testConfig()
	bad.Level.Pin = bad.Edge.Pin
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := r.conn.RequestWait(ctx, r.conn.NewMessage(topicConfigPower, bad, false))
	if err != nil {
		t.Fatalf("bad config request: %v", err)
	}
	if er, _ := reply.Payload.(types.ErrorReply); er.Error != errcode.InvalidParams {
		t.Fatalf("bad config reply: %+v", reply.Payload)
	}

	// A failed apply must not lock configuration.
	r.configure(t, testConfig())
}

func TestManualDisableClearsResetFlagAndRetires(t *testing.T) {
	r := newRig(t)
	wdSub := r.conn.Subscribe(topicWatchdog)
	defer r.conn.Unsubscribe(wdSub)
	wakeSub := r.conn.Subscribe(topicWake)
	defer r.conn.Unsubscribe(wakeSub)

	cfg := testConfig()
	cfg.Watchdog = types.WatchdogConfig{PeriodMs: 100, Budget: 10}
	r.configure(t, cfg)

	st := waitWatchdogState(t, wdSub)
	if st.Disabled || st.BudgetLeft != 10 {
		t.Fatalf("initial watchdog state: %+v", st)
	}
	waitWakeEvent(t, wakeSub) // generation is live

	r.flag.Latch()
	reply := r.verb(t, "disable-watchdog", nil)
	if ok, _ := reply.Payload.(types.OKReply); !ok.OK {
		t.Fatalf("disable reply: %+v", reply.Payload)
	}
	if r.flag.WatchdogCaused() {
		t.Fatal("reset-cause flag survived disable")
	}

	st = waitWatchdogState(t, wdSub)
	if !st.Disabled {
		t.Fatalf("expected disabled watchdog, got %+v", st)
	}

	// Disabling again is fine and must not republish state.
	reply = r.verb(t, "disable-watchdog", nil)
	if ok, _ := reply.Payload.(types.OKReply); !ok.OK {
		t.Fatalf("second disable reply: %+v", reply.Payload)
	}
	expectQuiet(t, wdSub, 150*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	n := r.sig.count(types.ChannelWatchdogTimeout)
	time.Sleep(250 * time.Millisecond)
	if got := r.sig.count(types.ChannelWatchdogTimeout); got != n {
		t.Fatalf("watchdog signaled after manual disable: %d -> %d", n, got)
	}
}

func TestControlBeforeConfiguration(t *testing.T) {
	r := newRig(t)
	r.sig.drops.Store(7)

	st := r.status(t)
	if st.Configured || st.State != types.StateAwake || st.BudgetLeft != 0 {
		t.Fatalf("unconfigured status: %+v", st)
	}
	if st.SignalDrops != 7 {
		t.Fatalf("status drops = %d, want 7", st.SignalDrops)
	}

	reply := r.verb(t, "disable-watchdog", nil)
	if ok, _ := reply.Payload.(types.OKReply); !ok.OK {
		t.Fatalf("disable before config: %+v", reply.Payload)
	}

	reply = r.verb(t, "bogus", nil)
	if er, _ := reply.Payload.(types.ErrorReply); er.Error != errcode.Unsupported {
		t.Fatalf("unknown verb reply: %+v", reply.Payload)
	}
}

func TestControlRejectsNonStringVerb(t *testing.T) {
	r := newRig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := r.conn.NewMessage(bus.Topic{"power", "control", 7}, nil, false)
	reply, err := r.conn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if er, _ := reply.Payload.(types.ErrorReply); er.Error != errcode.InvalidTopic {
		t.Fatalf("non-string verb reply: %+v", reply.Payload)
	}
}
