package httplisten

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/listening"
	"github.com/cyclehost/confcycle/internal/pool"
)

func newBoundModule(t *testing.T) (*Module, *cycle.Cycle, any, string) {
	t.Helper()
	p := pool.Create(0)
	c := &cycle.Cycle{
		Pool:      p,
		Listening: pool.NewArray[*cycle.Listener](p, 1),
		OpenFiles: pool.NewList[*cycle.OpenFile](p),
	}

	m := &Module{
		Config:     Config{ListenAddr: "127.0.0.1:0", RateLimitPerMinute: 600, RateLimitBurst: 50},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		AuditIndex: -1,
	}

	raw, err := m.CreateConf(c)
	require.NoError(t, err)
	require.NoError(t, m.InitConf(c, raw))
	require.NoError(t, listening.Open(c))
	require.NoError(t, m.InitModule(c, raw))
	c.ConfCtx = []any{raw}

	var addr string
	c.Listening.Each(func(_ int, l *cycle.Listener) { addr = l.NL.Addr().String() })

	t.Cleanup(func() { p.Destroy() })
	return m, c, raw, addr
}

func TestInitModule_ServesHealthz(t *testing.T) {
	_, c, _, addr := newBoundModule(t)

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, time.Second, 10*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, c.ID.String(), body["cycle_id"])
}

func TestInitModule_ExposesPrometheusMetrics(t *testing.T) {
	_, _, _, addr := newBoundModule(t)

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, time.Second, 10*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuditHandler_404sWhenNoAuditModuleConfigured(t *testing.T) {
	_, _, _, addr := newBoundModule(t)

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("http://%s/audit", addr))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, time.Second, 10*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit_RejectsBurstAboveConfiguredCeiling(t *testing.T) {
	p := pool.Create(0)
	t.Cleanup(p.Destroy)
	c := &cycle.Cycle{
		Pool:      p,
		Listening: pool.NewArray[*cycle.Listener](p, 1),
		OpenFiles: pool.NewList[*cycle.OpenFile](p),
	}

	m := &Module{
		Config:     Config{ListenAddr: "127.0.0.1:0", RateLimitPerMinute: 60, RateLimitBurst: 1},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		AuditIndex: -1,
	}
	raw, err := m.CreateConf(c)
	require.NoError(t, err)
	require.NoError(t, m.InitConf(c, raw))
	require.NoError(t, listening.Open(c))
	require.NoError(t, m.InitModule(c, raw))

	var addr string
	c.Listening.Each(func(_ int, l *cycle.Listener) { addr = l.NL.Addr().String() })

	url := fmt.Sprintf("http://%s/healthz", addr)
	require.Eventually(t, func() bool {
		r, err := http.Get(url)
		if err != nil {
			return false
		}
		r.Body.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	var sawLimited bool
	for i := 0; i < 10; i++ {
		r, err := http.Get(url)
		require.NoError(t, err)
		if r.StatusCode == http.StatusTooManyRequests {
			sawLimited = true
		}
		r.Body.Close()
	}
	assert.True(t, sawLimited)
}

func TestHubFrom_ErrorsWhenNotInitialized(t *testing.T) {
	c := &cycle.Cycle{ConfCtx: []any{&conf{}}}
	_, err := HubFrom(c, 0)
	assert.Error(t, err)
}
