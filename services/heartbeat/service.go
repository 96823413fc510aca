// Package heartbeat publishes a periodic liveness beacon. The controller
// sleeps between wakes, so the beacon is what tells a bench or remote
// observer the process is still up; it also carries allocator figures for
// spotting leaks on long soaks. Unlike the power service's one-shot config,
// the interval may be retuned at any time via "config/heartbeat".
package heartbeat

import (
	"context"
	"runtime"
	"time"

	"sleepcore-go/bus"
	"sleepcore-go/types"
	"sleepcore-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicHeartbeat       = bus.Topic{"system", "heartbeat"}
)

type Service struct {
	conn  *bus.Connection
	seq   uint32
	start time.Time
}

func New(conn *bus.Connection) *Service {
	return &Service{conn: conn}
}

// Run beats until ctx is cancelled. The first beat goes out immediately so
// a fresh subscriber is not left waiting a full interval for proof of life.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHeartbeat)
	defer s.conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	interval := timex.DurMs(types.DefaultHeartbeatMs)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	s.beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.beat()
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HeartbeatConfig)
			if !ok {
				continue
			}
			cfg.Normalize()
			next := timex.DurMs(cfg.IntervalMs)
			if next == interval {
				continue
			}
			interval = next
			tick.Reset(interval)
			s.beat()
		}
	}
}

func (s *Service) beat() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.seq++
	s.conn.Publish(s.conn.NewMessage(topicHeartbeat, types.Heartbeat{
		Seq:      s.seq,
		UptimeMs: time.Since(s.start).Milliseconds(),
		Alloc:    ms.Alloc,
		TS:       timex.NowMs(),
	}, true))
}
