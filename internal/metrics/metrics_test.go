package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/RakeshDevCode/Algotradepro/internal/breaker"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/bus"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveSnapshotEntry(model.Quote{Provenance: model.ProvenanceFallback, Source: model.SourceDefault})
	m.ObserveSnapshotEntry(model.Quote{Provenance: model.ProvenanceFallback, Source: model.SourceDefault})
	m.ObserveUnknownFrame(99)
	m.ObserveBreaker("rest", breaker.StateClosed, breaker.StateOpen)
	m.ObserveSession(true)
	m.ReportChannelStats([]bus.ChannelStat{{Name: "redis", Len: 25, Cap: 100}, {Name: "zero", Cap: 0}})

	if got := testutil.ToFloat64(m.SnapshotEntries.WithLabelValues("fallback", "default")); got != 2 {
		t.Errorf("snapshot entries: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.UnknownFrames.WithLabelValues("99")); got != 1 {
		t.Errorf("unknown frames: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("rest")); got != float64(breaker.StateOpen) {
		t.Errorf("breaker state: got %v", got)
	}
	if got := testutil.ToFloat64(m.BreakerTrips.WithLabelValues("rest")); got != 1 {
		t.Errorf("breaker trips: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.MarketState); got != 1 {
		t.Errorf("market state: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChannelSaturationPct.WithLabelValues("redis")); got != 25 {
		t.Errorf("saturation: expected 25, got %v", got)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *HealthStatus)
		wantCode   int
		wantStatus string
	}{
		{
			name:       "closed market without feed is healthy",
			setup:      func(h *HealthStatus) { h.SetMarketOpen(false) },
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "open market without feed is degraded",
			setup: func(h *HealthStatus) {
				h.SetMarketOpen(true)
				h.SetFeedState("Reconnecting", false)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name: "both stores down is unhealthy",
			setup: func(h *HealthStatus) {
				h.CheckRedis(context.Background(), pinger{errors.New("down")})
				h.CheckSQLite(context.Background(), pinger{errors.New("down")})
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "all up",
			setup: func(h *HealthStatus) {
				h.SetMarketOpen(true)
				h.SetFeedState("Connected", true)
				h.CheckRedis(context.Background(), pinger{})
				h.CheckSQLite(context.Background(), pinger{})
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus()
			tt.setup(h)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(rec.Body).Decode(&body)
			if body.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, body.Status)
			}
		})
	}
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TicksTotal.Add(3)

	s := NewServer(":0", NewHealthStatus(), reg)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "dhanfeed_ticks_total 3") {
		t.Errorf("expected tick counter in output")
	}
}
