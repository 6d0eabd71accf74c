package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "familyconnect/pkg/logx"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Timings holds the parsed duration fields, defaults applied.
type Timings struct {
	Shutdown      time.Duration
	ReadHeader    time.Duration
	PushTimeout   time.Duration
	SweepInterval time.Duration
	PingTimeout   time.Duration
	StorageBusy   time.Duration
}

func (c *Config) Timings() (Timings, error) {
	var (
		t    Timings
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	parse(&t.Shutdown, "server.shutdown_timeout", c.Server.ShutdownTimeout, 10*time.Second)
	parse(&t.ReadHeader, "server.read_header_timeout", c.Server.ReadHeaderTimeout, 5*time.Second)
	parse(&t.PushTimeout, "delivery.push_timeout", c.Delivery.PushTimeout, 5*time.Second)
	parse(&t.SweepInterval, "sessions.sweep_interval", c.Sessions.SweepInterval, 30*time.Second)
	parse(&t.PingTimeout, "sessions.ping_timeout", c.Sessions.PingTimeout, 5*time.Second)
	parse(&t.StorageBusy, "storage.busy_timeout", c.Storage.BusyTimeout, 0)
	return t, errors.Join(errs...)
}

// Validate checks everything that can be checked without touching the
// outside world.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Timings(); err != nil {
		errs = append(errs, err)
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "badger", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Token) == "" && !loopback(c.Pprof.Addr) {
		errs = append(errs, fmt.Errorf("pprof.token is required when pprof.addr %q is not loopback", c.Pprof.Addr))
	}
	return errors.Join(errs...)
}

// loopback reports whether addr binds to localhost only. Empty means the
// default 127.0.0.1:6060.
func loopback(addr string) bool {
	if strings.TrimSpace(addr) == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
