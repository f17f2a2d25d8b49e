// Package metrics exposes Prometheus instrumentation and a /healthz
// endpoint for the scanner.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Atique-Syed1/Trading-bot/internal/breaker"
	"github.com/Atique-Syed1/Trading-bot/internal/bus"
	"github.com/Atique-Syed1/Trading-bot/internal/markethours"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	FramesTotal    *prometheus.CounterVec // labels: kind=snapshot|delta|unrecognized
	FramesDropped  prometheus.Counter
	EntriesDropped prometheus.Counter
	DeltasTotal    *prometheus.CounterVec // labels: result=applied|ignored|skipped
	Reconnects     prometheus.Counter
	SessionState   prometheus.Gauge // 0=idle, 1=connecting, 2=open, 3=closed

	ScansTotal   *prometheus.CounterVec // labels: mode, result=ok|error
	ScanDuration prometheus.Histogram
	Instruments  prometheus.Gauge

	// Circuit breakers, labels: breaker=backend|redis
	BreakerState *prometheus.GaugeVec // 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec

	// Redis publishing
	BufferedEvents  prometheus.Counter
	PublishedEvents prometheus.Counter

	AlertsSent  prometheus.Counter
	PrefsErrors *prometheus.CounterVec // labels: op

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	MarketOpen prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_frames_total",
			Help: "Stream frames received, by classification",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_frames_dropped_total",
			Help: "Stream frames discarded as unrecognized",
		}),
		EntriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_entries_dropped_total",
			Help: "Malformed entries dropped from otherwise valid frames",
		}),
		DeltasTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_deltas_total",
			Help: "Price deltas reconciled, by outcome",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_stream_reconnects_total",
			Help: "Stream reconnection attempts",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_stream_state",
			Help: "Stream session state (0=idle, 1=connecting, 2=open, 3=closed)",
		}),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_scans_total",
			Help: "Scans run, by mode and result",
		}, []string{"mode", "result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Scan latency from request to snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		Instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_instruments",
			Help: "Instruments currently held in the store",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanner_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"breaker"}),
		BufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_buffered_events_total",
			Help: "Events buffered locally while the Redis breaker was open",
		}),
		PublishedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_published_events_total",
			Help: "Store events published to Redis",
		}),

		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_alerts_sent_total",
			Help: "Buy-signal alerts delivered",
		}),
		PrefsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_prefs_errors_total",
			Help: "Preference backend errors absorbed by the memory fallback",
		}, []string{"op"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_fanout_drops_total",
			Help: "Store events dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanner_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		MarketOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_market_open",
			Help: "NSE session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.FramesTotal,
		m.FramesDropped,
		m.EntriesDropped,
		m.DeltasTotal,
		m.Reconnects,
		m.SessionState,
		m.ScansTotal,
		m.ScanDuration,
		m.Instruments,
		m.BreakerState,
		m.BreakerTrips,
		m.BufferedEvents,
		m.PublishedEvents,
		m.AlertsSent,
		m.PrefsErrors,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.MarketOpen,
	)

	return m
}

// ObserveBreaker tracks state changes of cb.
func (m *Metrics) ObserveBreaker(cb *breaker.Breaker) {
	cb.AddListener(func(name string, _, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
	})
}

// RecordChannelStats publishes bus saturation.
func (m *Metrics) RecordChannelStats(stats []bus.ChannelStat) {
	for _, s := range stats {
		if s.Cap == 0 {
			continue
		}
		m.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
	}
}

// RecordMarket sets the market-open gauge from st.
func (m *Metrics) RecordMarket(st markethours.Status) {
	if st.IsOpen() {
		m.MarketOpen.Set(1)
	} else {
		m.MarketOpen.Set(0)
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Mode           string
	StreamState    string
	LastUpdate     time.Time
	RedisEnabled   bool
	RedisConnected bool
	RedisLatencyMs float64
	PrefsBackend   string
	PrefsDegraded  bool
	BackendChecked bool
	BackendOK      bool
	BackendError   string
	LastCheckAt    time.Time
	StartedAt      time.Time

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

func (h *HealthStatus) SetMode(mode string) {
	h.mu.Lock()
	h.Mode = mode
	h.mu.Unlock()
}

func (h *HealthStatus) SetStreamState(s string) {
	h.mu.Lock()
	h.StreamState = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastUpdate(t time.Time) {
	h.mu.Lock()
	h.LastUpdate = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPrefs(backend string, degraded bool) {
	h.mu.Lock()
	h.PrefsBackend = backend
	h.PrefsDegraded = degraded
	h.mu.Unlock()
}

// SetBackend records the outcome of the last backend status fetch.
func (h *HealthStatus) SetBackend(err error) {
	h.mu.Lock()
	h.BackendChecked = true
	h.BackendOK = err == nil
	h.BackendError = ""
	if err != nil {
		h.BackendError = err.Error()
	}
	h.mu.Unlock()
}

// SetRedis records Redis reachability without probing.
func (h *HealthStatus) SetRedis(enabled, connected bool) {
	h.mu.Lock()
	h.RedisEnabled = enabled
	h.RedisConnected = connected
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. A nil rdb only
// refreshes the check time.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if rdb == nil {
					h.mu.Lock()
					h.LastCheckAt = time.Now()
					h.mu.Unlock()
					continue
				}
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(checkCtx, rdb)
				cancel()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status         string             `json:"status"`
	Uptime         string             `json:"uptime"`
	Mode           string             `json:"mode"`
	StreamState    string             `json:"stream_state"`
	LastUpdate     string             `json:"last_update,omitempty"`
	UpdateAge      string             `json:"update_age,omitempty"`
	RedisEnabled   bool               `json:"redis_enabled"`
	RedisConnected bool               `json:"redis_connected"`
	RedisLatencyMs float64            `json:"redis_latency_ms"`
	PrefsBackend   string             `json:"prefs_backend"`
	PrefsDegraded  bool               `json:"prefs_degraded"`
	Backend        string             `json:"backend,omitempty"`
	Market         markethours.Status `json:"market"`
}

// Report summarizes health. Status is "degraded" when live mode has no open
// stream, Redis is enabled but unreachable, or preferences run on the
// memory fallback.
func (h *HealthStatus) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	r := Report{
		Status:         "healthy",
		Uptime:         now.Sub(h.StartedAt).Round(time.Second).String(),
		Mode:           h.Mode,
		StreamState:    h.StreamState,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		PrefsBackend:   h.PrefsBackend,
		PrefsDegraded:  h.PrefsDegraded,
		Market:         markethours.At(now),
	}
	if h.BackendChecked {
		r.Backend = "ok"
		if !h.BackendOK {
			r.Backend = h.BackendError
		}
	}
	if !h.LastUpdate.IsZero() {
		r.LastUpdate = h.LastUpdate.Format(time.RFC3339)
		r.UpdateAge = now.Sub(h.LastUpdate).Round(time.Millisecond).String()
	}
	if (h.Mode == "live" && h.StreamState != "open") ||
		(h.RedisEnabled && !h.RedisConnected) ||
		h.PrefsDegraded {
		r.Status = "degraded"
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to the
// global registry when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "component", "metrics", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
