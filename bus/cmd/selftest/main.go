//go:build rp2040 || rp2350

// On-target mirror of the bus package tests. `go test` cannot run on the
// Pico, so this binary replays the same scenarios under TinyGo and reports
// over USB CDC: solid LED when everything passes, slow blink otherwise.
package main

import (
	"context"
	"machine"
	"sort"
	"time"

	"sleepcore-go/bus"
)

// --- helpers mirroring the host test utilities --------------------------------

func expectOneOf(sub *bus.Subscription, want string, timeout time.Duration) (ok bool, why string) {
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			return false, "unexpected payload"
		}
		return true, ""
	case <-time.After(timeout):
		return false, "timeout"
	}
}

func expectNoMessage(sub *bus.Subscription, timeout time.Duration) (ok bool, why string) {
	select {
	case <-sub.Channel():
		return false, "unexpected message"
	case <-time.After(timeout):
		return true, ""
	}
}

func drainPayloads(sub *bus.Subscription, n int, deadline time.Time) ([]string, bool) {
	var out []string
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return out, len(out) == n
}

func unorderedEqual(got, want []string) bool {
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// --- individual tests ----------------------------------------------------------

func testBasicPubSub() bool {
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(bus.T("config", "power"))

	conn.Publish(conn.NewMessage(bus.T("config", "power"), "hello", false))

	ok, why := expectOneOf(sub, "hello", 100*time.Millisecond)
	if !ok {
		println("  basic pub/sub:", why)
	}
	return ok
}

func testRetainedMessage() bool {
	b := bus.NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(b.NewMessage(bus.T("config", "power"), "persist", true))
	sub := conn.Subscribe(bus.T("config", "power"))

	ok, why := expectOneOf(sub, "persist", 100*time.Millisecond)
	if !ok {
		println("  retained:", why)
	}
	return ok
}

func testWildcardSingleLevel() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(bus.T("power", "+", "status"))
	s2 := c.Subscribe(bus.T("power", "+", "+"))
	sNo := c.Subscribe(bus.T("power", "+", "wake"))

	c.Publish(b.NewMessage(bus.T("power", "control", "status"), "m1", false))
	if ok, _ := expectOneOf(s1, "m1", 200*time.Millisecond); !ok {
		println("  single-level: s1 missed m1")
		return false
	}
	if ok, _ := expectOneOf(s2, "m1", 200*time.Millisecond); !ok {
		println("  single-level: s2 missed m1")
		return false
	}
	if ok, _ := expectNoMessage(sNo, 60*time.Millisecond); !ok {
		println("  single-level: sNo matched m1")
		return false
	}

	c.Publish(b.NewMessage(bus.T("power", "control"), "m2", false))
	ok1, _ := expectNoMessage(s1, 60*time.Millisecond)
	ok2, _ := expectNoMessage(s2, 60*time.Millisecond)
	if !(ok1 && ok2) {
		println("  single-level: short topic leaked")
		return false
	}
	return true
}

func testWildcardMultiLevel() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("test")

	sPower := c.Subscribe(bus.T("power", "#"))
	sAll := c.Subscribe(bus.T("#"))
	sExact := c.Subscribe(bus.T("power"))

	c.Publish(b.NewMessage(bus.T("power"), "p1", false))
	if ok, _ := expectOneOf(sPower, "p1", 200*time.Millisecond); !ok {
		println("  multi-level: power/# missed bare topic")
		return false
	}
	if ok, _ := expectOneOf(sAll, "p1", 200*time.Millisecond); !ok {
		println("  multi-level: # missed bare topic")
		return false
	}
	if ok, _ := expectOneOf(sExact, "p1", 200*time.Millisecond); !ok {
		println("  multi-level: exact missed bare topic")
		return false
	}

	c.Publish(b.NewMessage(bus.T("power", "wake"), "p2", false))
	if ok, _ := expectOneOf(sPower, "p2", 200*time.Millisecond); !ok {
		println("  multi-level: power/# missed child")
		return false
	}
	if ok, _ := expectNoMessage(sExact, 60*time.Millisecond); !ok {
		println("  multi-level: exact matched child")
		return false
	}
	return true
}

func testRetainedWildcardDelivery() bool {
	b := bus.NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(bus.T("power", "state"), "r1", true))
	c.Publish(b.NewMessage(bus.T("power", "watchdog"), "r2", true))
	c.Publish(b.NewMessage(bus.T("power", "control", "status"), "r3", true))

	sAll := c.Subscribe(bus.T("power", "#"))
	got, ok := drainPayloads(sAll, 3, time.Now().Add(300*time.Millisecond))
	if !ok || !unorderedEqual(got, []string{"r1", "r2", "r3"}) {
		println("  retained wildcard: power/# mismatch")
		return false
	}

	sPlus := c.Subscribe(bus.T("power", "+"))
	got, ok = drainPayloads(sPlus, 2, time.Now().Add(300*time.Millisecond))
	if !ok || !unorderedEqual(got, []string{"r1", "r2"}) {
		println("  retained wildcard: power/+ mismatch")
		return false
	}
	return true
}

func testRetainedClear() bool {
	b := bus.NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(bus.T("power", "state"), "stale", true))
	c.Publish(b.NewMessage(bus.T("power", "watchdog"), "keep", true))
	c.Publish(b.NewMessage(bus.T("power", "state"), nil, true))

	s := c.Subscribe(bus.T("power", "#"))
	got, ok := drainPayloads(s, 1, time.Now().Add(300*time.Millisecond))
	if !ok || got[0] != "keep" {
		println("  retained clear: stale value survived")
		return false
	}
	return true
}

func testRequestReply() bool {
	b := bus.NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := bus.T("power", "control", "status")
	respSub := respConn.Subscribe(reqTopic)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "OK", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := b.NewMessage(reqTopic, nil, false)
	reply, err := reqConn.RequestWait(ctx, req)
	respConn.Unsubscribe(respSub)
	<-done

	if err != nil {
		println("  request/reply: timeout or error")
		return false
	}
	if s, ok := reply.Payload.(string); !ok || s != "OK" {
		println("  request/reply: bad payload")
		return false
	}
	if len(req.ReplyTo) == 0 || len(reply.Topic) != len(req.ReplyTo) {
		println("  request/reply: reply topic shape")
		return false
	}
	for i := range reply.Topic {
		if reply.Topic[i] != req.ReplyTo[i] {
			println("  request/reply: reply topic mismatch")
			return false
		}
	}
	return true
}

func testRequestTimeout() bool {
	b := bus.NewBus(8)
	reqConn := b.NewConnection("requester")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := reqConn.RequestWait(ctx, b.NewMessage(bus.T("service", "noop"), nil, false)); err == nil {
		println("  request timeout: reply from nobody")
		return false
	}
	return true
}

func testQueueDropsOldest() bool {
	b := bus.NewBus(2)
	c := b.NewConnection("test")

	sub := c.Subscribe(bus.T("power", "wake"))
	for i := 0; i < 5; i++ {
		c.Publish(c.NewMessage(bus.T("power", "wake"), i, false))
	}

	first := <-sub.Channel()
	second := <-sub.Channel()
	if first.Payload != 3 || second.Payload != 4 {
		println("  drop-oldest: wrong survivors")
		return false
	}
	if sub.Drops() != 3 {
		println("  drop-oldest: drop count", sub.Drops())
		return false
	}
	return true
}

func testInvalidTokenPanics() (ok bool) {
	defer func() {
		ok = recover() != nil
		if !ok {
			println("  invalid token: expected panic, got none")
		}
	}()
	_ = bus.T([]byte{1, 2, 3})
	return false
}

// --- main -----------------------------------------------------------------------

type testFn struct {
	name string
	fn   func() bool
}

func main() {
	time.Sleep(250 * time.Millisecond)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.High()

	tests := []testFn{
		{"basic pub/sub", testBasicPubSub},
		{"retained message", testRetainedMessage},
		{"wildcard single-level", testWildcardSingleLevel},
		{"wildcard multi-level", testWildcardMultiLevel},
		{"retained wildcard delivery", testRetainedWildcardDelivery},
		{"retained clear", testRetainedClear},
		{"request/reply", testRequestReply},
		{"request timeout", testRequestTimeout},
		{"queue drop-oldest", testQueueDropsOldest},
		{"invalid token panics", testInvalidTokenPanics},
	}

	passed, failed := 0, 0
	println("== bus self-test starting ==")
	for _, tc := range tests {
		if tc.fn() {
			println("[PASS]", tc.name)
			passed++
		} else {
			println("[FAIL]", tc.name)
			failed++
		}
		time.Sleep(10 * time.Millisecond)
	}
	println("== done:", passed, "passed,", failed, "failed ==")

	if failed == 0 {
		for {
			led.High()
			time.Sleep(2 * time.Second)
		}
	}
	for {
		led.High()
		time.Sleep(250 * time.Millisecond)
		led.Low()
		time.Sleep(250 * time.Millisecond)
	}
}
