package heartbeat

import (
	"context"
	"testing"
	"time"

	"sleepcore-go/bus"
	"sleepcore-go/types"
)

func waitBeat(t *testing.T, sub *bus.Subscription, timeout time.Duration) types.Heartbeat {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		hb, ok := msg.Payload.(types.Heartbeat)
		if !ok {
			t.Fatalf("unexpected payload on system/heartbeat: %#v", msg.Payload)
		}
		return hb
	case <-time.After(timeout):
		t.Fatal("timeout waiting for heartbeat")
	}
	return types.Heartbeat{}
}

func TestFirstBeatIsImmediateAndRetained(t *testing.T) {
	b := bus.NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go New(b.NewConnection("heartbeat")).Run(ctx)

	// Give the first beat time to land, then subscribe: the retained copy
	// must be delivered even though we missed the live publish.
	time.Sleep(50 * time.Millisecond)
	sub := b.NewConnection("test").Subscribe(bus.Topic{"system", "heartbeat"})

	hb := waitBeat(t, sub, time.Second)
	if hb.Seq == 0 {
		t.Fatal("expected a non-zero sequence number")
	}
	if hb.TS == 0 {
		t.Fatal("expected a timestamp")
	}
}

func TestConfigRetunesInterval(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.Topic{"system", "heartbeat"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(b.NewConnection("heartbeat")).Run(ctx)

	first := waitBeat(t, sub, time.Second)

	// Default cadence is far too slow for a test; retune to the minimum.
	conn.Publish(conn.NewMessage(bus.Topic{"config", "heartbeat"},
		types.HeartbeatConfig{IntervalMs: 250}, true))

	onRetune := waitBeat(t, sub, time.Second)
	if onRetune.Seq <= first.Seq {
		t.Fatalf("sequence did not advance: %d then %d", first.Seq, onRetune.Seq)
	}

	ticked := waitBeat(t, sub, time.Second)
	if ticked.Seq != onRetune.Seq+1 {
		t.Fatalf("expected consecutive beat after retune, got %d then %d", onRetune.Seq, ticked.Seq)
	}
	if ticked.UptimeMs < onRetune.UptimeMs {
		t.Fatalf("uptime went backwards: %d then %d", onRetune.UptimeMs, ticked.UptimeMs)
	}
}

func TestMalformedConfigIgnored(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.Topic{"system", "heartbeat"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(b.NewConnection("heartbeat")).Run(ctx)

	waitBeat(t, sub, time.Second)

	conn.Publish(conn.NewMessage(bus.Topic{"config", "heartbeat"}, "fast", false))
	conn.Publish(conn.NewMessage(bus.Topic{"config", "heartbeat"},
		types.HeartbeatConfig{IntervalMs: 250}, false))

	// The bad payload must not wedge the loop: the valid retune still beats.
	waitBeat(t, sub, time.Second)
	waitBeat(t, sub, time.Second)
}
