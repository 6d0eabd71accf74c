package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	logx "familyconnect/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestServer_ApplyEnableDisable(t *testing.T) {
	req := require.New(t)
	prev := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prev)
		runtime.SetBlockProfileRate(0)
	})

	s := New(logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req.NoError(s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}))
	addr := s.Addr()
	req.NotEmpty(addr)
	req.Equal(7, runtime.SetMutexProfileFraction(-1))

	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	// Same config is a no-op.
	req.NoError(s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}))
	req.Equal(addr, s.Addr())

	req.NoError(s.Apply(ctx, Config{}))
	req.Empty(s.Addr())
}

func TestHandler_Token(t *testing.T) {
	h := Handler("s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}
