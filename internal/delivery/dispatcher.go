// Package delivery pushes payloads to the live sessions of resolved
// recipients and reports what happened.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"familyconnect/internal/eventbus"
	"familyconnect/internal/family"
	kit "familyconnect/internal/transport"
	logx "familyconnect/pkg/logx"

	"golang.org/x/time/rate"
)

const defaultPushTimeout = 5 * time.Second

type Config struct {
	// PushTimeout bounds a single Send so one stalled client cannot hold
	// up the whole dispatch.
	PushTimeout time.Duration
	// RatePerSec caps outbound pushes across all dispatches; 0 disables.
	RatePerSec int
}

// Sessions is the read side of the session registry.
type Sessions interface {
	ConnectionFor(memberID string) (kit.Conn, bool)
}

type Dispatcher struct {
	sessions Sessions
	bus      eventbus.Bus
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func NewDispatcher(cfg Config, sessions Sessions, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sessions: sessions, bus: bus, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps timeouts and the rate limit. Safe to call while dispatching.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		// burst = rate per sec, so a family-wide "all" is not serialized.
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = lim
	d.mu.Unlock()
}

// Dispatch pushes payload to every connected recipient, concurrently, and
// waits for all pushes to finish or time out. Disconnected recipients are
// skipped; a failing push is counted and logged but never stops the others.
// Nothing is remembered between calls.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []family.Member, payload Payload) Outcome {
	start := time.Now()
	out := Outcome{Matched: len(recipients)}

	d.mu.Lock()
	timeout := d.cfg.PushTimeout
	lim := d.limiter
	d.mu.Unlock()

	push := PushOf(payload)

	var (
		wg       sync.WaitGroup
		notified atomic.Int64
		failed   atomic.Int64
	)
	for _, m := range recipients {
		conn, ok := d.sessions.ConnectionFor(m.ID)
		if !ok {
			d.log.Debug("recipient not connected", logx.String("member", m.ID), logx.String("name", m.Name))
			continue
		}
		out.Connected++
		wg.Add(1)
		go func(m family.Member, conn kit.Conn) {
			defer wg.Done()
			if err := d.sendOne(ctx, timeout, lim, conn, push); err != nil {
				failed.Add(1)
				d.log.Warn("push failed",
					logx.String("member", m.ID),
					logx.String("conn", conn.ID()),
					logx.String("kind", string(push.Type)),
					logx.Err(err))
				return
			}
			notified.Add(1)
		}(m, conn)
	}
	wg.Wait()

	out.Notified = int(notified.Load())
	out.Failed = int(failed.Load())

	familyID := ""
	if len(recipients) > 0 {
		familyID = recipients[0].FamilyID
	}
	fields := []logx.Field{
		logx.String("family", familyID),
		logx.String("kind", string(push.Type)),
		logx.Int("matched", out.Matched),
		logx.Int("connected", out.Connected),
		logx.Int("notified", out.Notified),
		logx.Duration("dur", time.Since(start)),
	}
	if out.Failed > 0 {
		d.log.Warn("dispatch finished with failures", append(fields, logx.Int("failed", out.Failed))...)
	} else {
		d.log.Info("dispatch finished", fields...)
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchCompleted, Data: eventbus.DispatchEvent{
		FamilyID:  familyID,
		Kind:      string(push.Type),
		Matched:   out.Matched,
		Connected: out.Connected,
		Notified:  out.Notified,
		Failed:    out.Failed,
	}})
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, timeout time.Duration, lim *rate.Limiter, conn kit.Conn, p kit.Push) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in push", logx.String("conn", conn.ID()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("push panicked: %v", r)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if lim != nil {
		if err := lim.Wait(pctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return conn.Send(pctx, p)
}
