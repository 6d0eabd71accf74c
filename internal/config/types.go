package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "30s").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Alexa    AlexaConfig    `json:"alexa"`
	Delivery DeliveryConfig `json:"delivery"`
	Sessions SessionsConfig `json:"sessions"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Pprof    PprofConfig    `json:"pprof"`
}

// ServerConfig controls the HTTP listener serving the skill webhook, the
// device endpoints and /ws. Addr and timeouts are read at startup only.
type ServerConfig struct {
	Addr              string   `json:"addr" validate:"required"`
	ShutdownTimeout   string   `json:"shutdown_timeout,omitempty"`
	ReadHeaderTimeout string   `json:"read_header_timeout,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
}

// AlexaConfig identifies the skill allowed to call the webhook. Empty
// accepts any skill, which is only sensible in development.
type AlexaConfig struct {
	ApplicationID string `json:"application_id"`
}

type DeliveryConfig struct {
	PushTimeout string `json:"push_timeout,omitempty"`
	// RatePerSec caps outbound pushes process-wide; 0 disables.
	RatePerSec int `json:"rate_per_sec" validate:"gte=0,lte=10000"`
}

type SessionsConfig struct {
	SweepInterval string `json:"sweep_interval,omitempty"`
	PingTimeout   string `json:"ping_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/familyconnect.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=memory badger sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// PprofConfig exposes net/http/pprof on its own listener. Token is
// required unless the address is loopback.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Token                string `json:"token,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate" validate:"gte=0"`
	MutexProfileFraction int    `json:"mutex_profile_fraction" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ShutdownTimeout:   "10s",
			ReadHeaderTimeout: "5s",
		},
		Delivery: DeliveryConfig{PushTimeout: "5s"},
		Sessions: SessionsConfig{SweepInterval: "30s", PingTimeout: "5s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Storage:  StorageConfig{Driver: "memory"},
	}
}
