package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"familyconnect/internal/eventbus"
	"familyconnect/internal/family"
	"familyconnect/internal/session"
	kit "familyconnect/internal/transport"
	"familyconnect/internal/transport/transporttest"
	logx "familyconnect/pkg/logx"

	"github.com/stretchr/testify/require"
)

func member(id, name string) family.Member {
	return family.Member{ID: id, FamilyID: "fam-1", Name: name}
}

func newDispatcher(t *testing.T, cfg Config) (*Dispatcher, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(nil, logx.Nop())
	return NewDispatcher(cfg, reg, nil, logx.Nop()), reg
}

func TestDispatch_SkipsDisconnectedRecipients(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{})
	alice := transporttest.NewConn("alice-conn")
	reg.Attach("alice", alice)

	// Given Alice is connected and Bob is not
	recipients := []family.Member{member("alice", "Alice"), member("bob", "Bob")}

	// When a message is dispatched to both
	out := d.Dispatch(context.Background(), recipients, Message{Text: "dinner"})

	// Then only Alice receives it
	req.Equal(Outcome{Matched: 2, Connected: 1, Notified: 1}, out)
	req.Equal([]kit.Push{{Type: kit.PushMessage, Data: "dinner"}}, alice.Pushes())
	req.True(out.Partial())
}

func TestDispatch_AllConnectedRecipients(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{})
	var recipients []family.Member
	var conns []*transporttest.Conn
	for _, id := range []string{"a", "b", "c"} {
		c := transporttest.NewConn(id + "-conn")
		reg.Attach(id, c)
		conns = append(conns, c)
		recipients = append(recipients, member(id, id))
	}

	out := d.Dispatch(context.Background(), recipients, Message{Text: "hi"})

	req.Equal(Outcome{Matched: 3, Connected: 3, Notified: 3}, out)
	req.False(out.Partial())
	for _, c := range conns {
		req.Len(c.Pushes(), 1)
	}
}

func TestDispatch_TransportFailureDoesNotBlockOthers(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{})
	good := transporttest.NewConn("good")
	bad := transporttest.NewConn("bad")
	bad.SendErr = errors.New("broken pipe")
	reg.Attach("alice", good)
	reg.Attach("bob", bad)

	out := d.Dispatch(context.Background(), []family.Member{member("bob", "Bob"), member("alice", "Alice")}, Message{Text: "x"})

	req.Equal(2, out.Connected)
	req.Equal(1, out.Notified)
	req.Equal(1, out.Failed)
	req.Len(good.Pushes(), 1)
	req.Empty(bad.Pushes())
}

func TestDispatch_StalledConnectionTimesOut(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{PushTimeout: 50 * time.Millisecond})
	stalled := transporttest.NewConn("stalled")
	stalled.Block = true
	fast := transporttest.NewConn("fast")
	reg.Attach("slow", stalled)
	reg.Attach("fast", fast)

	start := time.Now()
	out := d.Dispatch(context.Background(), []family.Member{member("slow", "Slow"), member("fast", "Fast")}, Message{Text: "x"})

	req.Less(time.Since(start), 2*time.Second)
	req.Equal(Outcome{Matched: 2, Connected: 2, Notified: 1, Failed: 1}, out)
	req.Len(fast.Pushes(), 1)
}

func TestDispatch_IsNotDeduplicated(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{})
	c := transporttest.NewConn("c")
	reg.Attach("alice", c)
	recipients := []family.Member{member("alice", "Alice")}

	d.Dispatch(context.Background(), recipients, Message{Text: "same"})
	d.Dispatch(context.Background(), recipients, Message{Text: "same"})

	req.Len(c.Pushes(), 2)
}

func TestDispatch_ReminderEnvelope(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{})
	c := transporttest.NewConn("c")
	reg.Attach("alice", c)

	d.Dispatch(context.Background(), []family.Member{member("alice", "Alice")}, Reminder{Time: "18:00", Text: "dinner"})

	pushes := c.Pushes()
	req.Len(pushes, 1)
	b, err := json.Marshal(pushes[0])
	req.NoError(err)
	req.JSONEq(`{"type":"reminder","data":{"time":"18:00","text":"dinner"}}`, string(b))
}

func TestDispatch_NoRecipients(t *testing.T) {
	d, _ := newDispatcher(t, Config{})
	require.Equal(t, Outcome{}, d.Dispatch(context.Background(), nil, Message{Text: "x"}))
}

func TestDispatch_PublishesOutcomeAndLogsFailures(t *testing.T) {
	req := require.New(t)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	var buf bytes.Buffer
	reg := session.NewRegistry(nil, logx.Nop())
	d := NewDispatcher(Config{}, reg, bus, logx.NewJSON(&buf, "warn"))
	bad := transporttest.NewConn("bad")
	bad.SendErr = errors.New("broken pipe")
	reg.Attach("bob", bad)

	d.Dispatch(context.Background(), []family.Member{member("bob", "Bob")}, Message{Text: "x"})

	e := <-events
	req.Equal(eventbus.TypeDispatchCompleted, e.Type)
	req.Equal(eventbus.DispatchEvent{FamilyID: "fam-1", Kind: "message", Matched: 1, Connected: 1, Failed: 1}, e.Data)
	req.Contains(buf.String(), "push failed")
	req.Contains(buf.String(), "broken pipe")
}

func TestDispatch_RateLimitedPushesStillComplete(t *testing.T) {
	req := require.New(t)
	d, reg := newDispatcher(t, Config{RatePerSec: 100})
	var recipients []family.Member
	for _, id := range []string{"a", "b", "c", "d"} {
		reg.Attach(id, transporttest.NewConn(id))
		recipients = append(recipients, member(id, id))
	}
	out := d.Dispatch(context.Background(), recipients, Message{Text: "x"})
	req.Equal(4, out.Notified)
}

func TestDispatch_ClosedConnectionCountsAsFailed(t *testing.T) {
	d, reg := newDispatcher(t, Config{})
	c := transporttest.NewConn("c")
	reg.Attach("alice", c)
	_ = c.Close()

	out := d.Dispatch(context.Background(), []family.Member{member("alice", "Alice")}, Message{Text: "x"})
	require.Equal(t, Outcome{Matched: 1, Connected: 1, Failed: 1}, out)
	require.False(t, out.AnyNotified())
}
