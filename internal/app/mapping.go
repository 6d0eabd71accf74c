package app

import (
	"strings"
	"time"

	"familyconnect/internal/config"
	"familyconnect/internal/delivery"
	"familyconnect/internal/observability/pprof"
	"familyconnect/internal/session"
	"familyconnect/internal/storage"
	logx "familyconnect/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config, t config.Timings) storage.Config {
	busy := t.StorageBusy
	if busy <= 0 {
		busy = time.Second
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}
}

func mapDeliveryConfig(cfg *config.Config, t config.Timings) delivery.Config {
	return delivery.Config{PushTimeout: t.PushTimeout, RatePerSec: cfg.Delivery.RatePerSec}
}

func mapSweeperConfig(t config.Timings) session.SweeperConfig {
	return session.SweeperConfig{Interval: t.SweepInterval, PingTimeout: t.PingTimeout}
}

// wsReadTimeout gives a client two sweeps to answer a ping before the read
// side gives up on it.
func wsReadTimeout(t config.Timings) time.Duration {
	return 2*t.SweepInterval + t.PingTimeout
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		Token:                cfg.Pprof.Token,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
	}
}
