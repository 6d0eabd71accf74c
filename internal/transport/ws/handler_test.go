package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"familyconnect/internal/family"
	"familyconnect/internal/session"
	"familyconnect/internal/storage"
	kit "familyconnect/internal/transport"
	logx "familyconnect/pkg/logx"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type devices map[string]bool

func (d devices) Member(_ context.Context, id string) (family.Member, error) {
	if !d[id] {
		return family.Member{}, storage.ErrNotFound
	}
	return family.Member{ID: id, FamilyID: "fam-1", Name: "Alice"}, nil
}

func startServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(nil, logx.Nop())
	h := NewHandler(reg, devices{"dev-1": true}, Options{}, logx.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, reg
}

func wsURL(srv *httptest.Server, device string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?device=" + device
}

func TestHandler_PushReachesClient(t *testing.T) {
	req := require.New(t)
	srv, reg := startServer(t)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer client.Close()

	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn, ok := reg.ConnectionFor("dev-1")
	req.True(ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(conn.Send(ctx, kit.Push{Type: kit.PushReminder, Data: kit.ReminderData{Time: "18:00", Text: "dinner"}}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"type":"reminder","data":{"time":"18:00","text":"dinner"}}`, string(msg))

	req.NoError(conn.Ping(ctx))
}

func TestHandler_DetachOnClientClose(t *testing.T) {
	req := require.New(t)
	srv, reg := startServer(t)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = client.Close()

	req.Eventually(func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ReconnectReplacesSession(t *testing.T) {
	req := require.New(t)
	srv, reg := startServer(t)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer first.Close()
	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	old, _ := reg.ConnectionFor("dev-1")

	second, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer second.Close()

	req.Eventually(func() bool {
		cur, ok := reg.ConnectionFor("dev-1")
		return ok && cur.ID() != old.ID()
	}, 2*time.Second, 10*time.Millisecond)

	// The replaced session is closed by the server and its teardown must
	// not evict the new one.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	req.Error(err)
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, reg.Len())
}

func TestHandler_RejectsUnknownDevice(t *testing.T) {
	srv, reg := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-x"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, reg.Len())
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	req := require.New(t)
	srv, reg := startServer(t)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer client.Close()
	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn, _ := reg.ConnectionFor("dev-1")
	req.NoError(conn.Close())
	req.ErrorIs(conn.Send(context.Background(), kit.Push{Type: kit.PushMessage, Data: "hi"}), kit.ErrClosed)
}

func TestHandler_ReadTimeoutReloads(t *testing.T) {
	req := require.New(t)
	reg := session.NewRegistry(nil, logx.Nop())
	h := NewHandler(reg, devices{"dev-1": true}, Options{ReadTimeout: 300 * time.Millisecond}, logx.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	// An idle client is dropped once the read timeout passes.
	idle, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer idle.Close()
	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A live session picks up a raised timeout on its next frame.
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "dev-1"), nil)
	req.NoError(err)
	defer client.Close()
	req.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.SetReadTimeout(time.Minute)
	req.Equal(time.Minute, h.ReadTimeout())
	req.NoError(client.WriteMessage(websocket.TextMessage, []byte("hello")))
	time.Sleep(700 * time.Millisecond)
	req.Equal(1, reg.Len())
}
