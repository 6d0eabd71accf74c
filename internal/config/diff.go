package config

import (
	"reflect"
	"strings"

	logx "familyconnect/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and safe fields to
// log about them. The skill id is reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", newCfg.Server.Addr))
	}
	if strings.TrimSpace(oldCfg.Alexa.ApplicationID) != strings.TrimSpace(newCfg.Alexa.ApplicationID) {
		changed = append(changed, "alexa")
		attrs = append(attrs, logx.Bool("alexa.application_id_set", strings.TrimSpace(newCfg.Alexa.ApplicationID) != ""))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.push_timeout", newCfg.Delivery.PushTimeout),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}
	if oldCfg.Sessions != newCfg.Sessions {
		changed = append(changed, "sessions")
		attrs = append(attrs,
			logx.String("sessions.sweep_interval", newCfg.Sessions.SweepInterval),
			logx.String("sessions.ping_timeout", newCfg.Sessions.PingTimeout),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}
	return changed, attrs
}

// RequiresRestart reports sections that are only read at startup.
func RequiresRestart(section string) bool {
	return section == "server" || section == "storage"
}
