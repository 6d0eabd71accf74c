package config

import (
	"errors"
	"io/fs"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Overrides are the settings deployments usually inject through the
// environment rather than the config file.
type Overrides struct {
	ApplicationID string `env:"FAMILYCONNECT_ALEXA_APPLICATION_ID"`
	Addr          string `env:"FAMILYCONNECT_ADDR"`
	StorageDriver string `env:"FAMILYCONNECT_STORAGE_DRIVER"`
	StoragePath   string `env:"FAMILYCONNECT_STORAGE_PATH"`
	LogLevel      string `env:"FAMILYCONNECT_LOG_LEVEL"`
}

// LoadDotEnv loads KEY=value pairs from files into the process environment
// without overwriting variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty FAMILYCONNECT_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o Overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}
	o.apply(cfg)
	return nil
}

func (o Overrides) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Alexa.ApplicationID, o.ApplicationID)
	set(&cfg.Server.Addr, o.Addr)
	set(&cfg.Storage.Driver, o.StorageDriver)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Logging.Level, o.LogLevel)
}
