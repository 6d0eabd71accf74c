package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"familyconnect/internal/config"
	"familyconnect/internal/transport/alexa"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startApp(t *testing.T, cfgJSON string) (*App, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(cfgJSON), 0o600))

	a, err := New(p)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a, "http://" + a.Addr().String()
}

func TestApp_EndToEnd(t *testing.T) {
	req := require.New(t)
	a, base := startApp(t, `{
		"server": {"addr": "127.0.0.1:0"},
		"alexa": {"application_id": "skill-1"},
		"logging": {"level": "error", "console": false}
	}`)

	launch := `{"session":{"application":{"applicationId":"skill-1"},"user":{"userId":"acct-1"}},"request":{"type":"LaunchRequest"}}`
	resp, err := http.Post(base+"/alexa", "application/json", strings.NewReader(launch))
	req.NoError(err)
	var out alexa.ResponseEnvelope
	req.NoError(json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	req.Contains(out.Response.OutputSpeech.SSML, "I will help you register")

	fam, err := a.store.FamilyByAccount(context.Background(), "acct-1")
	req.NoError(err)

	body, _ := json.Marshal(map[string]string{"code": fam.SetupCode, "device_id": "laptop", "name": "Alice"})
	resp, err = http.Post(base+"/apps/pair", "application/json", bytes.NewReader(body))
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusCreated, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws?device=laptop"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer client.Close()
	req.Eventually(func() bool { return a.sessions.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	notify := `{"session":{"application":{"applicationId":"skill-1"},"user":{"userId":"acct-1"}},
		"request":{"type":"IntentRequest","intent":{"name":"notify","slots":{"who":{"value":"alice"},"what":{"value":"dinner"}}}}}`
	resp, err = http.Post(base+"/alexa", "application/json", strings.NewReader(notify))
	req.NoError(err)
	req.NoError(json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	req.Equal("<speak>Message sent</speak>", out.Response.OutputSpeech.SSML)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"type":"message","data":"dinner"}`, string(msg))

	resp, err = http.Get(base + "/healthz")
	req.NoError(err)
	var health map[string]any
	req.NoError(json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	req.Equal("ok", health["status"])
	req.EqualValues(1, health["sessions"])
}

func TestApp_ApplyReload(t *testing.T) {
	req := require.New(t)
	a, base := startApp(t, `{"server": {"addr": "127.0.0.1:0"}, "logging": {"level": "error"}}`)

	next := config.Default()
	next.Server.Addr = "127.0.0.1:0"
	next.Logging.Level = "error"
	next.Alexa.ApplicationID = "skill-2"
	next.Sessions.SweepInterval = "2m"
	req.Equal(65*time.Second, a.clients.ReadTimeout())
	a.apply(a.cfgm.Get(), next)
	req.Equal(2*2*time.Minute+5*time.Second, a.clients.ReadTimeout())

	launch := `{"session":{"application":{"applicationId":"skill-1"},"user":{"userId":"acct-1"}},"request":{"type":"LaunchRequest"}}`
	resp, err := http.Post(base+"/alexa", "application/json", strings.NewReader(launch))
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestApp_ApplyTogglesPprof(t *testing.T) {
	req := require.New(t)
	a, _ := startApp(t, `{"server": {"addr": "127.0.0.1:0"}, "logging": {"level": "error"}}`)
	req.Empty(a.debug.Addr())

	next := config.Default()
	next.Server.Addr = "127.0.0.1:0"
	next.Logging.Level = "error"
	next.Pprof = config.PprofConfig{Enabled: true, Addr: "127.0.0.1:0"}
	a.apply(a.cfgm.Get(), next)

	addr := a.debug.Addr()
	req.NotEmpty(addr)
	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"storage":{"driver":"sqlite"}}`), 0o600))
	_, err := New(p)
	require.ErrorContains(t, err, "storage.path")
}
