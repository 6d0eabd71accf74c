package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"familyconnect/internal/eventbus"
	kit "familyconnect/internal/transport"
	logx "familyconnect/pkg/logx"

	"github.com/robfig/cron/v3"
)

type SweeperConfig struct {
	Interval    time.Duration
	PingTimeout time.Duration
}

// Sweeper periodically pings every registered connection and evicts the
// ones that stopped answering. Clients that vanish without a close frame
// would otherwise keep counting as "connected".
type Sweeper struct {
	reg *Registry
	bus eventbus.Bus
	log logx.Logger

	mu      sync.Mutex
	cfg     SweeperConfig
	c       *cron.Cron
	ctx     context.Context
	watch   sync.Once
	running atomic.Bool
}

func NewSweeper(cfg SweeperConfig, reg *Registry, bus eventbus.Bus, log logx.Logger) *Sweeper {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{reg: reg, bus: bus, log: log, cfg: withSweeperDefaults(cfg)}
}

func withSweeperDefaults(cfg SweeperConfig) SweeperConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	return cfg
}

// Start schedules the sweep. The cron runs until ctx is done or Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(cron.NewParser(cron.Descriptor)))
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", spec, err)
	}
	c.Start()
	s.c, s.ctx = c, ctx
	s.log.Info("session sweeper started", logx.Duration("interval", s.cfg.Interval))
	// Reschedules reuse ctx; one watcher covers them all.
	s.watch.Do(func() {
		go func() {
			<-ctx.Done()
			s.Stop()
		}()
	})
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("session sweeper stopped")
}

// Apply updates the timings. A running sweeper is rescheduled when the
// interval changed.
func (s *Sweeper) Apply(cfg SweeperConfig) {
	s.mu.Lock()
	prev := s.cfg.Interval
	s.cfg = withSweeperDefaults(cfg)
	resched := s.c != nil && prev != s.cfg.Interval
	ctx := s.ctx
	s.mu.Unlock()
	if !resched {
		return
	}
	s.Stop()
	if err := s.Start(ctx); err != nil {
		s.log.Error("sweeper reschedule failed", logx.Err(err))
	}
}

// Sweep pings all connections concurrently and returns how many were evicted.
// Overlapping sweeps are skipped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		return 0
	}
	defer s.running.Store(false)

	s.mu.Lock()
	timeout := s.cfg.PingTimeout
	s.mu.Unlock()

	var (
		wg      sync.WaitGroup
		evicted atomic.Int64
	)
	for memberID, conn := range s.reg.Snapshot() {
		wg.Add(1)
		go func(memberID string, conn kit.Conn) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				return
			}
			_ = conn.Close()
			if s.reg.Detach(memberID, conn) {
				evicted.Add(1)
				s.log.Info("session evicted", logx.String("member", memberID), logx.String("conn", conn.ID()), logx.Err(err))
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionEvicted, Data: eventbus.SessionEvent{MemberID: memberID, ConnID: conn.ID()}})
			}
		}(memberID, conn)
	}
	wg.Wait()
	return int(evicted.Load())
}
