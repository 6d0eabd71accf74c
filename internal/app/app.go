// Package app wires configuration, storage, the delivery core and the
// HTTP surfaces into one runnable service.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"familyconnect/internal/config"
	"familyconnect/internal/delivery"
	"familyconnect/internal/eventbus"
	"familyconnect/internal/intent"
	"familyconnect/internal/observability/pprof"
	"familyconnect/internal/pairing"
	"familyconnect/internal/runtime/supervisor"
	"familyconnect/internal/session"
	"familyconnect/internal/storage"
	"familyconnect/internal/transport/alexa"
	"familyconnect/internal/transport/ws"
	logx "familyconnect/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sessions   *session.Registry
	sweeper    *session.Sweeper
	dispatcher *delivery.Dispatcher
	pairing    *pairing.Service
	router     *intent.Router
	skill      *alexa.Server
	clients    *ws.Handler
	debug      *pprof.Server

	timings config.Timings

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// New loads the configuration at cfgPath ("" for defaults plus environment)
// and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	t, err := cfg.Timings()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()

	sc := mapStorageConfig(cfg, t)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg := session.NewRegistry(bus, log.With(logx.String("comp", "sessions")))
	sweeper := session.NewSweeper(mapSweeperConfig(t), reg, bus, log.With(logx.String("comp", "sweeper")))
	disp := delivery.NewDispatcher(mapDeliveryConfig(cfg, t), reg, bus, log.With(logx.String("comp", "delivery")))
	pair := pairing.NewService(store, bus, log)
	router := intent.NewRouter(store, pair, disp, log)

	return &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        bus,
		store:      store,
		sessions:   reg,
		sweeper:    sweeper,
		dispatcher: disp,
		pairing:    pair,
		router:     router,
		skill:      alexa.NewServer(cfg.Alexa.ApplicationID, router, store, pair, log),
		clients: ws.NewHandler(reg, store, ws.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			ReadTimeout:    wsReadTimeout(t),
		}, log),
		debug:   pprof.New(log.With(logx.String("comp", "pprof"))),
		timings: t,
	}, nil
}

// Handler is the full HTTP surface.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.skill.Register(mux)
	mux.Handle("GET /ws", a.clients)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if err := a.Err(); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "sessions": a.sessions.Len(), "events": a.bus.Stats()})
}

// Addr is the bound listen address once Start returned.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ShutdownTimeout bounds Stop as configured by server.shutdown_timeout.
func (a *App) ShutdownTimeout() time.Duration { return a.timings.Shutdown }

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app stops running, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if err := a.sweeper.Start(a.sup.Context()); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.timings.ReadHeader,
		BaseContext:       func(net.Listener) context.Context { return a.sup.Context() },
	}
	a.mu.Lock()
	a.srv, a.addr = srv, ln.Addr()
	a.mu.Unlock()

	a.sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := a.debug.Apply(ctx, mapPprofConfig(cfg)); err != nil {
		a.log.Warn("pprof listen failed", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })

	a.log.Info("listening", logx.String("addr", ln.Addr().String()))
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Only the newest of a burst matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes a reloaded config into the running components.
func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	t, err := next.Timings()
	if err != nil {
		a.log.Warn("invalid durations in reloaded config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.dispatcher.Apply(mapDeliveryConfig(next, t))
	a.sweeper.Apply(mapSweeperConfig(t))
	a.clients.SetReadTimeout(wsReadTimeout(t))
	a.skill.SetApplicationID(next.Alexa.ApplicationID)
	if next.Pprof != prev.Pprof {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.debug.Apply(ctx, mapPprofConfig(next)); err != nil {
			a.log.Warn("pprof reconfigure failed", logx.Err(err))
		}
		cancel()
	}

	for _, s := range sections {
		if config.RequiresRestart(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.mu.Lock()
	srv := a.srv
	a.mu.Unlock()

	// The HTTP server goes first so no new dispatch starts; Shutdown waits
	// for in-flight skill requests but not for hijacked websockets.
	a.step(ctx, "http", 5*time.Second, func(c context.Context) error {
		if srv == nil {
			return nil
		}
		return srv.Shutdown(c)
	})
	a.sup.Cancel()
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "sweeper", time.Second, func(context.Context) error { a.sweeper.Stop(); return nil })
	a.step(ctx, "sessions", 2*time.Second, func(context.Context) error {
		for id, c := range a.sessions.Snapshot() {
			_ = c.Close()
			a.sessions.Detach(id, c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
