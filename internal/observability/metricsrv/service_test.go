package metricsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, cfg Config) (*Service, runstatus.Store) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "wadispatch_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	st := runstatus.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(cfg, reg, st, logx.Nop()), st
}

func TestHandlerServesMetricsAndStatus(t *testing.T) {
	svc, st := newTestService(t, Config{})
	ctx := context.Background()
	_, err := st.StartExecution(ctx, 4, "20250101_120000")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRecipientStatus(ctx, "Ana_55", "Ana", "55", runstatus.StatusSuccess, "delivered"))

	h := svc.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wadispatch_test_total 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["is_running"])
	assert.Equal(t, "20250101_120000", got["execution_id"])
	assert.InDelta(t, 25.0, got["progress_percentage"], 0.001)
}

func TestHandlerRequiresToken(t *testing.T) {
	svc, _ := newTestService(t, Config{Token: "s3cret"})
	h := svc.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// liveness stays open
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartServesAndStops(t *testing.T) {
	svc, _ := newTestService(t, Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx := context.Background()
	svc.Start(ctx)

	var addr string
	require.Eventually(t, func() bool {
		addr = svc.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	assert.Empty(t, svc.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:9464"))
	assert.True(t, isLoopbackAddr("[::1]:9464"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr("garbage"))
}
