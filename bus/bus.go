// bus.go
package bus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// A topic is a sequence of comparable tokens (strings, ints, bools, ...).
// Subscriptions may use the MQTT-style wildcards "+" (exactly one token)
// and "#" (any remaining tokens, including none); "#" is only meaningful
// as the final token of a pattern.
type Topic []any

const (
	tokOne  = "+"
	tokTail = "#"
)

// T builds a Topic. It panics early on tokens that cannot serve as trie
// keys (slices, maps, funcs) rather than deep inside publish or subscribe.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		probeToken(tok)
	}
	return Topic(tokens)
}

// probeToken panics with a runtime error if tok is not hashable.
func probeToken(tok any) {
	_ = map[any]struct{}{tok: {}}
}

// Append returns a new Topic extended with tokens, never aliasing t.
func (t Topic) Append(tokens ...any) Topic {
	for _, tok := range tokens {
		probeToken(tok)
	}
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	out = append(out, tokens...)
	return out
}

// String renders "a/b/c" for logs and traces. It avoids fmt so MCU builds
// stay small.
func (t Topic) String() string {
	var b []byte
	for i, tok := range t {
		if i > 0 {
			b = append(b, '/')
		}
		switch v := tok.(type) {
		case string:
			b = append(b, v...)
		case int:
			b = strconv.AppendInt(b, int64(v), 10)
		case int64:
			b = strconv.AppendInt(b, v, 10)
		case uint64:
			b = strconv.AppendUint(b, v, 10)
		case bool:
			b = strconv.AppendBool(b, v)
		default:
			b = append(b, '?')
		}
	}
	return string(b)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// CanReply reports whether the sender asked for a reply.
func (m *Message) CanReply() bool { return len(m.ReplyTo) > 0 }

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic  Topic
	ch     chan *Message
	bus    *Bus
	conn   *Connection // owning connection
	closed atomic.Bool
	drops  atomic.Uint32
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// Drops counts messages discarded because this subscription's queue was full.
func (s *Subscription) Drops() uint32 { return s.drops.Load() }

// deliver never blocks: when the queue is full the oldest queued message is
// discarded so the newest always lands.
func (s *Subscription) deliver(msg *Message) {
	select {
	case s.ch <- msg:
		return
	default:
	}
	select {
	case <-s.ch:
		s.drops.Add(1)
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.drops.Add(1)
	}
}

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok any, create bool) *node {
	if n.children == nil {
		if !create {
			return nil
		}
		n.children = make(map[any]*node)
	}
	c, ok := n.children[tok]
	if !ok {
		if !create {
			return nil
		}
		c = &node{}
		n.children[tok] = c
	}
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
	seq  atomic.Uint64 // reply-topic uniqueness
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// addSubscription inserts a subscription into the trie and delivers any
// retained messages its pattern matches.
func (b *Bus) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	var retained []*Message
	collectRetained(b.root, topic, 0, &retained)
	for _, msg := range retained {
		sub.deliver(msg)
	}
}

// collectRetained walks the trie matching a subscription pattern against
// stored retained messages. Wildcard keys in the trie belong to other
// patterns, never to retained state, so the walk skips them.
func collectRetained(n *node, pattern Topic, i int, out *[]*Message) {
	if n == nil {
		return
	}
	if i == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[i] {
	case tokTail:
		retainedSubtree(n, out)
	case tokOne:
		for key, child := range n.children {
			if key == tokOne || key == tokTail {
				continue
			}
			collectRetained(child, pattern, i+1, out)
		}
	default:
		collectRetained(n.child(pattern[i], false), pattern, i+1, out)
	}
}

// retainedSubtree appends n's retained message and those of all descendants.
func retainedSubtree(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for key, child := range n.children {
		if key == tokOne || key == tokTail {
			continue
		}
		retainedSubtree(child, out)
	}
}

// Publish delivers a message to every subscription whose pattern matches
// its topic, then stores or clears retained state. Delivery happens on the
// publisher's goroutine and never blocks.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var subs []*Subscription
	collectSubs(b.root, msg.Topic, 0, &subs)
	for _, sub := range subs {
		sub.deliver(msg)
	}

	if msg.Retained {
		n := b.root
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
}

// collectSubs gathers subscriptions matching topic: exact tokens, "+" for
// one token, "#" for any tail (including the empty tail).
func collectSubs(n *node, topic Topic, i int, out *[]*Subscription) {
	if n == nil {
		return
	}
	if tail := n.child(tokTail, false); tail != nil {
		*out = append(*out, tail.subs...)
	}
	if i == len(topic) {
		*out = append(*out, n.subs...)
		return
	}
	collectSubs(n.child(topic[i], false), topic, i+1, out)
	collectSubs(n.child(tokOne, false), topic, i+1, out)
}

// unsubscribe removes a subscription from the trie and prunes empty nodes.
func (b *Bus) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, tok := range topic {
		child := n.child(tok, false)
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

var ErrNoReplyTopic = errors.New("bus: message has no reply topic")

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

// NewMessage is a convenience constructor.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		bus:   c.bus,
		conn:  c,
	}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection. Safe to call
// more than once.
func (c *Connection) Unsubscribe(sub *Subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if !sub.closed.CompareAndSwap(false, true) {
			continue
		}
		c.bus.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

// Request stamps msg with a fresh ReplyTo topic, subscribes to it, and
// publishes the request. The caller owns the returned subscription and
// should Unsubscribe when done.
func (c *Connection) Request(msg *Message) *Subscription {
	msg.ReplyTo = Topic{"$reply", c.id, c.bus.seq.Add(1)}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait performs a synchronous round trip, bounded by ctx.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case reply, ok := <-sub.Channel():
		if !ok {
			return nil, errors.New("bus: connection closed")
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers a request on its ReplyTo topic.
func (c *Connection) Reply(orig *Message, payload any, retained bool) error {
	if !orig.CanReply() {
		return ErrNoReplyTopic
	}
	c.Publish(&Message{Topic: orig.ReplyTo, Payload: payload, Retained: retained})
	return nil
}
