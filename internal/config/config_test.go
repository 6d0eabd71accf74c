package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParse_YAMLOverDefaults(t *testing.T) {
	req := require.New(t)
	p := writeFile(t, t.TempDir(), "config.yaml", `
alexa:
  application_id: amzn1.ask.skill.x
delivery:
  push_timeout: 2s
  rate_per_sec: 20
storage:
  driver: badger
  path: ./data
`)
	cfg, err := NewManager(p).Parse()
	req.NoError(err)
	req.NoError(Validate(cfg))

	req.Equal("amzn1.ask.skill.x", cfg.Alexa.ApplicationID)
	req.Equal(20, cfg.Delivery.RatePerSec)
	req.Equal(":8080", cfg.Server.Addr, "untouched sections keep defaults")
	req.Equal("info", cfg.Logging.Level)

	tm, err := cfg.Timings()
	req.NoError(err)
	req.Equal(2*time.Second, tm.PushTimeout)
	req.Equal(30*time.Second, tm.SweepInterval)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(writeFile(t, dir, "c.json", `{"server":{"adr":":1"}}`)).Parse()
	require.ErrorContains(t, err, "unknown field")

	_, err = NewManager(writeFile(t, dir, "c2.json", `{} {}`)).Parse()
	require.ErrorContains(t, err, "trailing data")
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("FAMILYCONNECT_ALEXA_APPLICATION_ID", "from-env")
	t.Setenv("FAMILYCONNECT_ADDR", "127.0.0.1:9000")
	t.Setenv("FAMILYCONNECT_STORAGE_PATH", "/var/lib/fc")

	cfg, err := NewManager("").Parse()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Alexa.ApplicationID)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, "/var/lib/fc", cfg.Storage.Path)
	require.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "FAMILYCONNECT_LOG_LEVEL"
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", key+"=debug\n")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	cfg, err := NewManager("").Parse()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad duration":      func(c *Config) { c.Delivery.PushTimeout = "soon" },
		"negative duration": func(c *Config) { c.Sessions.SweepInterval = "-1s" },
		"bad level":         func(c *Config) { c.Logging.Level = "loud" },
		"no addr":           func(c *Config) { c.Server.Addr = "" },
		"unknown driver":    func(c *Config) { c.Storage.Driver = "postgres" },
		"sqlite no path":    func(c *Config) { c.Storage.Driver = "sqlite" },
		"negative rate":     func(c *Config) { c.Delivery.RatePerSec = -1 },
		"open pprof":        func(c *Config) { c.Pprof = PprofConfig{Enabled: true, Addr: ":6060"} },
	}
	require.NoError(t, Validate(Default()))
	loop := Default()
	loop.Pprof = PprofConfig{Enabled: true, Addr: "127.0.0.1:6061"}
	require.NoError(t, Validate(loop))
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			require.Error(t, Validate(c))
		})
	}
}

func TestWatch_PublishesValidChanges(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)

	m := NewManager(p)
	_, err := m.Load()
	req.NoError(err)
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and the committed config stays.
	writeFile(t, dir, "config.json", `{"logging":{"level":"loud"}}`)
	time.Sleep(600 * time.Millisecond)
	req.Equal("info", m.Get().Logging.Level)
	req.Len(updates, 0)

	writeFile(t, dir, "config.json", `{"logging":{"level":"debug"}}`)
	select {
	case cfg := <-updates:
		req.Equal("debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no config update published")
	}
	req.Equal("debug", m.Get().Logging.Level)
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Alexa.ApplicationID = "secret-skill"
	b.Delivery.RatePerSec = 5
	b.Storage.Driver = "badger"

	changed, attrs := SummarizeConfigChange(a, b)
	require.Equal(t, []string{"alexa", "delivery", "storage"}, changed)
	require.NotEmpty(t, attrs)
	require.True(t, RequiresRestart("storage"))
	require.False(t, RequiresRestart("delivery"))

	changed, _ = SummarizeConfigChange(a, Default())
	require.Empty(t, changed)
}
