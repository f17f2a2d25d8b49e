package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/bus"
)

// scrape renders reg in the text exposition format.
func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FramesTotal.WithLabelValues("snapshot").Inc()
	m.DeltasTotal.WithLabelValues("applied").Add(3)

	out := scrape(t, reg)
	assert.Contains(t, out, `scanner_frames_total{kind="snapshot"} 1`)
	assert.Contains(t, out, `scanner_deltas_total{result="applied"} 3`)

	// a second set on a fresh registry must not panic
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestObserveBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	cb := breaker.New(breaker.Settings{Name: "redis", MaxFailures: 1, ResetTimeout: time.Hour})
	m.ObserveBreaker(cb)

	_ = cb.Execute(func() error { return assert.AnError })
	out := scrape(t, reg)
	assert.Contains(t, out, `scanner_circuit_breaker_state{breaker="redis"} 1`)
	assert.Contains(t, out, `scanner_circuit_breaker_trips_total{breaker="redis"} 1`)
}

func TestRecordChannelStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordChannelStats([]bus.ChannelStat{{Name: "alerts", Len: 5, Cap: 10}, {Name: "zero", Len: 0, Cap: 0}})
	out := scrape(t, reg)
	assert.Contains(t, out, `scanner_channel_saturation_pct{channel_name="alerts"} 50`)
	assert.NotContains(t, out, `channel_name="zero"`)
}

func TestHealth_Report(t *testing.T) {
	h := NewHealthStatus()
	h.SetMode("offline")
	h.SetStreamState("idle")
	h.SetPrefs("sqlite", false)
	assert.Equal(t, "healthy", h.Report().Status)

	h.SetMode("live")
	assert.Equal(t, "degraded", h.Report().Status)

	h.SetStreamState("open")
	h.SetLastUpdate(time.Now())
	rep := h.Report()
	assert.Equal(t, "healthy", rep.Status)
	assert.NotEmpty(t, rep.LastUpdate)

	h.SetPrefs("memory", true)
	assert.Equal(t, "degraded", h.Report().Status)
}

func TestHealth_BackendStatus(t *testing.T) {
	h := NewHealthStatus()
	assert.Empty(t, h.Report().Backend)

	h.SetBackend(errors.New("GET /api/health: backend unavailable"))
	assert.Equal(t, "GET /api/health: backend unavailable", h.Report().Backend)

	h.SetBackend(nil)
	assert.Equal(t, "ok", h.Report().Backend)
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AlertsSent.Inc()

	h := NewHealthStatus()
	h.SetMode("offline")
	srv := httptest.NewServer(NewServer(":0", h, reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rep map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "offline", rep["mode"])
	assert.Contains(t, rep, "market")

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, mresp.Body)
	assert.Contains(t, buf.String(), "scanner_alerts_sent_total 1")
}
