package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"familyconnect/internal/eventbus"
	"familyconnect/internal/transport/transporttest"
	logx "familyconnect/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AttachAndLookup(t *testing.T) {
	req := require.New(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	reg := NewRegistry(bus, logx.Nop())

	// Given nobody is connected
	_, ok := reg.ConnectionFor("alice")
	req.False(ok)

	// When alice attaches
	conn := transporttest.NewConn("c1")
	req.Nil(reg.Attach("alice", conn))

	// Then lookups find her connection
	got, ok := reg.ConnectionFor("alice")
	req.True(ok)
	req.Same(conn, got)
	req.Equal(1, reg.Len())
	req.Equal([]string{"alice"}, reg.Members())

	e := <-events
	req.Equal(eventbus.TypeSessionAttached, e.Type)
	req.Equal("c1", e.Data.(eventbus.SessionEvent).ConnID)
}

func TestRegistry_AttachReplacesPrevious(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil, logx.Nop())
	first := transporttest.NewConn("c1")
	second := transporttest.NewConn("c2")

	reg.Attach("alice", first)
	prev := reg.Attach("alice", second)

	req.Same(first, prev)
	got, _ := reg.ConnectionFor("alice")
	req.Same(second, got)
}

func TestRegistry_StaleDetachKeepsNewerSession(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil, logx.Nop())
	first := transporttest.NewConn("c1")
	second := transporttest.NewConn("c2")
	reg.Attach("alice", first)
	reg.Attach("alice", second)

	// When the superseded connection closes late
	req.False(reg.Detach("alice", first))

	// Then alice is still reachable on the newer one
	got, ok := reg.ConnectionFor("alice")
	req.True(ok)
	req.Same(second, got)

	req.True(reg.Detach("alice", second))
	_, ok = reg.ConnectionFor("alice")
	req.False(ok)
	req.Zero(reg.Len())
}

func TestRegistry_ConcurrentLookupsAndMutations(t *testing.T) {
	reg := NewRegistry(eventbus.New(), logx.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		id := fmt.Sprintf("m%d", i%4)
		go func() {
			defer wg.Done()
			c := transporttest.NewConn(id)
			for j := 0; j < 200; j++ {
				reg.Attach(id, c)
				reg.Detach(id, c)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = reg.ConnectionFor(id)
				_ = reg.Snapshot()
			}
		}()
	}
	wg.Wait()
}

func TestSweeper_EvictsDeadConnections(t *testing.T) {
	req := require.New(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	reg := NewRegistry(nil, logx.Nop())

	alive := transporttest.NewConn("alive")
	dead := transporttest.NewConn("dead")
	dead.PingErr = errors.New("broken pipe")
	reg.Attach("alice", alive)
	reg.Attach("bob", dead)

	sw := NewSweeper(SweeperConfig{PingTimeout: time.Second}, reg, bus, logx.Nop())
	req.Equal(1, sw.Sweep(context.Background()))

	_, ok := reg.ConnectionFor("bob")
	req.False(ok)
	req.True(dead.Closed())
	_, ok = reg.ConnectionFor("alice")
	req.True(ok)
	req.False(alive.Closed())

	e := <-events
	req.Equal(eventbus.TypeSessionEvicted, e.Type)
	req.Equal("bob", e.Data.(eventbus.SessionEvent).MemberID)
}

func TestSweeper_StartStop(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil, logx.Nop())
	dead := transporttest.NewConn("dead")
	dead.PingErr = errors.New("gone")
	reg.Attach("bob", dead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := NewSweeper(SweeperConfig{Interval: time.Second, PingTimeout: 100 * time.Millisecond}, reg, nil, logx.Nop())
	req.NoError(sw.Start(ctx))
	req.NoError(sw.Start(ctx)) // idempotent

	req.Eventually(func() bool { return reg.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
	sw.Stop()
	sw.Stop()
}

func TestSweeper_ApplyReschedules(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil, logx.Nop())
	dead := transporttest.NewConn("dead")
	dead.PingErr = errors.New("gone")
	reg.Attach("bob", dead)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := NewSweeper(SweeperConfig{Interval: time.Hour}, reg, nil, logx.Nop())
	req.NoError(sw.Start(ctx))
	defer sw.Stop()

	sw.Apply(SweeperConfig{Interval: time.Second, PingTimeout: 100 * time.Millisecond})
	req.Eventually(func() bool { return reg.Len() == 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSweeper_ReschedulesDoNotLeakGoroutines(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := NewSweeper(SweeperConfig{Interval: time.Hour}, reg, nil, logx.Nop())
	req.NoError(sw.Start(ctx))
	before := runtime.NumGoroutine()

	for i := range 20 {
		sw.Apply(SweeperConfig{Interval: time.Hour + time.Duration(i+1)*time.Minute})
	}
	req.Eventually(func() bool { return runtime.NumGoroutine() <= before+1 }, 2*time.Second, 20*time.Millisecond,
		"goroutines grew from %d to %d", before, runtime.NumGoroutine())

	// The single watcher still stops the rescheduled cron.
	cancel()
	req.Eventually(func() bool {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return sw.c == nil
	}, 2*time.Second, 10*time.Millisecond)
}
