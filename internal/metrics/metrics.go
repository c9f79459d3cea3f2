// Package metrics exposes Prometheus metrics and the /healthz endpoint for
// the feed service.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RakeshDevCode/Algotradepro/internal/breaker"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/bus"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// Metrics holds all Prometheus metrics for the feed service.
type Metrics struct {
	TicksTotal        prometheus.Counter
	MalformedFrames   prometheus.Counter
	UnknownFrames     *prometheus.CounterVec // labels: code
	ReconnectAttempts prometheus.Counter
	FeedState         prometheus.Gauge // feed.State ordinal
	ExhaustedTotal    prometheus.Counter

	SnapshotEntries *prometheus.CounterVec // labels: provenance, source
	RESTFailures    prometheus.Counter

	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name

	PublisherDrops       prometheus.Counter
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	GatewayClients prometheus.Gauge

	// Market session
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close|exhausted
}

// NewMetrics creates all metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_ticks_total",
			Help: "Ticks decoded from the market feed",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_malformed_frames_total",
			Help: "Feed frames too short for their response code",
		}),
		UnknownFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhanfeed_unknown_frames_total",
			Help: "Feed frames with an unrecognized response code",
		}, []string{"code"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_reconnect_attempts_total",
			Help: "Scheduled feed reconnect attempts",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhanfeed_connection_state",
			Help: "Feed state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closed)",
		}),
		ExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_connection_exhausted_total",
			Help: "Times the feed gave up reconnecting",
		}),

		SnapshotEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhanfeed_snapshot_entries_total",
			Help: "Snapshot entries served, by provenance and source",
		}, []string{"provenance", "source"}),
		RESTFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_rest_failures_total",
			Help: "REST quote fetches that failed and fell back",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dhanfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhanfeed_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		PublisherDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhanfeed_publisher_drops_total",
			Help: "Quotes not written to Redis",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhanfeed_fanout_drops_total",
			Help: "Quotes dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dhanfeed_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhanfeed_gateway_clients",
			Help: "Connected browser WebSocket clients",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhanfeed_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhanfeed_session_transitions_total",
			Help: "Market session transitions (open, close, exhausted)",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.MalformedFrames,
		m.UnknownFrames,
		m.ReconnectAttempts,
		m.FeedState,
		m.ExhaustedTotal,
		m.SnapshotEntries,
		m.RESTFailures,
		m.BreakerState,
		m.BreakerTrips,
		m.PublisherDrops,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.GatewayClients,
		m.MarketState,
		m.SessionTransitions,
	)

	return m
}

// ObserveSnapshotEntry counts one served snapshot entry.
func (m *Metrics) ObserveSnapshotEntry(q model.Quote) {
	m.SnapshotEntries.WithLabelValues(string(q.Provenance), string(q.Source)).Inc()
}

// ObserveUnknownFrame counts a frame with an unrecognized code.
func (m *Metrics) ObserveUnknownFrame(code uint16) {
	m.UnknownFrames.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

// ObserveBreaker matches breaker.Breaker.OnStateChange.
func (m *Metrics) ObserveBreaker(name string, _, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// ObserveSession records a market session transition.
func (m *Metrics) ObserveSession(open bool) {
	if open {
		m.MarketState.Set(1)
		m.SessionTransitions.WithLabelValues("open").Inc()
		return
	}
	m.MarketState.Set(0)
	m.SessionTransitions.WithLabelValues("close").Inc()
}

// ReportChannelStats records fan-out channel saturation.
func (m *Metrics) ReportChannelStats(stats []bus.ChannelStat) {
	for _, s := range stats {
		if s.Cap == 0 {
			continue
		}
		m.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
	}
}

// Pinger is a dependency whose liveness can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	FeedState      string    `json:"feed_state"`
	MarketOpen     bool      `json:"market_open"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedState(state string, connected bool) {
	h.mu.Lock()
	h.FeedState = state
	h.FeedConnected = connected
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, p Pinger) {
	ok, latency := probe(ctx, p)
	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = ok
	h.RedisLatencyMs = latency
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the reference store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, p Pinger) {
	ok, latency := probe(ctx, p)
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = ok
	h.SQLiteLatencyMs = latency
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

func probe(ctx context.Context, p Pinger) (bool, float64) {
	start := time.Now()
	err := p.Ping(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// StartLivenessChecker runs periodic dependency checks. Nil pingers are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb, sqlDB Pinger, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. A disconnected feed only
// degrades health while the market is open.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if (h.MarketOpen && !h.FeedConnected) || redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		FeedState       string  `json:"feed_state"`
		MarketOpen      bool    `json:"market_open"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		FeedState:       h.FeedState,
		MarketOpen:      h.MarketOpen,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server serving metrics from g.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
