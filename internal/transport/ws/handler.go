package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"familyconnect/internal/family"
	"familyconnect/internal/storage"
	kit "familyconnect/internal/transport"
	logx "familyconnect/pkg/logx"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 4096

// Sessions is the lifecycle side of the session registry.
type Sessions interface {
	Attach(memberID string, conn kit.Conn) kit.Conn
	Detach(memberID string, conn kit.Conn) bool
}

// Devices looks up the member a paired device belongs to.
type Devices interface {
	Member(ctx context.Context, deviceID string) (family.Member, error)
}

type Options struct {
	// AllowedOrigins restricts browser clients; empty or "*" allows all.
	AllowedOrigins []string
	// ReadTimeout closes a session that sent nothing (pongs included) for
	// this long. 0 disables it and leaves liveness to the sweeper.
	ReadTimeout time.Duration
}

// Handler upgrades GET /ws?device=<id> and keeps the session registered
// until the client goes away.
type Handler struct {
	sessions Sessions
	devices  Devices
	upgrader websocket.Upgrader
	log      logx.Logger

	readTimeout atomic.Int64 // time.Duration
}

func NewHandler(sessions Sessions, devices Devices, opts Options, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		sessions: sessions,
		devices:  devices,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		log:      log.With(logx.String("comp", "ws")),
	}
	h.SetReadTimeout(opts.ReadTimeout)
	return h
}

// SetReadTimeout changes the idle limit. Live sessions pick it up on their
// next frame.
func (h *Handler) SetReadTimeout(d time.Duration) {
	h.readTimeout.Store(int64(max(d, 0)))
}

func (h *Handler) ReadTimeout() time.Duration {
	return time.Duration(h.readTimeout.Load())
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	device := strings.TrimSpace(r.URL.Query().Get("device"))
	if device == "" {
		http.Error(w, "device is required", http.StatusBadRequest)
		return
	}
	member, err := h.devices.Member(r.Context(), device)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("device lookup failed", logx.String("device", device), logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.String("device", device), logx.Err(err))
		return
	}
	conn := newConn(wsConn)
	if prev := h.sessions.Attach(device, conn); prev != nil {
		_ = prev.Close()
	}
	h.log.Info("client connected",
		logx.String("device", device),
		logx.String("family", member.FamilyID),
		logx.String("name", member.Name),
		logx.String("conn", conn.ID()))

	defer func() {
		h.sessions.Detach(device, conn)
		_ = conn.Close()
		h.log.Info("client disconnected", logx.String("device", device), logx.String("conn", conn.ID()))
	}()

	h.readLoop(wsConn, device)
}

// readLoop drains inbound frames so control frames get processed. Clients
// have nothing to say on this channel; data frames are ignored.
func (h *Handler) readLoop(c *websocket.Conn, device string) {
	c.SetReadLimit(maxMessageSize)
	extend := func() {
		if d := h.ReadTimeout(); d > 0 {
			_ = c.SetReadDeadline(time.Now().Add(d))
		} else {
			_ = c.SetReadDeadline(time.Time{})
		}
	}
	extend()
	c.SetPongHandler(func(string) error { extend(); return nil })
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("client read error", logx.String("device", device), logx.Err(err))
			}
			return
		}
		extend()
	}
}
