package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/instruments"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
	"github.com/RakeshDevCode/Algotradepro/internal/markethours"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Service is the aggregator surface behind the REST API.
type Service interface {
	QuoteService
	Watchlist() []model.Instrument
	Reconnect(ctx context.Context) error
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	ModifyOrder(ctx context.Context, orderID string, mod model.OrderModification) (model.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (model.OrderStatus, error)
	GetOrders(ctx context.Context) (dhan.ParseResult[model.Order], error)
	GetTrades(ctx context.Context) (dhan.ParseResult[model.Trade], error)
	GetPositions(ctx context.Context) (dhan.ParseResult[model.Position], error)
	GetHoldings(ctx context.Context) (dhan.ParseResult[model.Holding], error)
	GetFundLimit(ctx context.Context) (model.FundLimit, error)
}

// FeedStatus reports on the push connection.
type FeedStatus interface {
	State() feed.State
	LastTickAt() time.Time
	SubscribedInstruments() []model.Instrument
}

// InstrumentSearch looks up the scrip master.
type InstrumentSearch interface {
	Search(query string, limit int) []instruments.Security
	Popular() []instruments.Security
}

// Deps wires the REST and WS surface. Feed and Instruments may be nil.
type Deps struct {
	Service     Service
	Hub         *Hub
	Calendar    *markethours.Calendar
	Feed        FeedStatus
	Instruments InstrumentSearch
	Now         func() time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	if d.Calendar == nil {
		d.Calendar = markethours.Default
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Hub.log.Warn("ws upgrade failed", "error", err)
			return
		}
		d.Hub.HandleWSRequest(conn)
	})

	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})

	// Market data
	mux.HandleFunc("GET /api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		list := d.Service.Watchlist()
		if raw := r.URL.Query().Get("instruments"); raw != "" {
			parsed, err := model.ParseInstrumentList(raw)
			if len(parsed) == 0 {
				writeError(w, http.StatusBadRequest, errOrDefault(err, "no valid instruments"))
				return
			}
			list = parsed
		}
		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
		writeJSON(w, http.StatusOK, d.Service.GetSnapshot(r.Context(), list, refresh))
	})

	mux.HandleFunc("GET /api/watchlist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Service.Watchlist())
	})

	mux.HandleFunc("POST /api/watchlist", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instruments []string `json:"instruments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		list, err := model.ParseInstrumentList(strings.Join(req.Instruments, ","))
		if len(list) == 0 {
			writeError(w, http.StatusBadRequest, errOrDefault(err, "no valid instruments"))
			return
		}
		if err := d.Service.Watch(list); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, d.Service.Watchlist())
	})

	mux.HandleFunc("GET /api/market/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Calendar.Status(d.Now()))
	})

	mux.HandleFunc("GET /api/feed/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"clients": d.Hub.ClientCount(),
			"latency": d.Hub.Latency.Summary(),
		}
		if d.Feed != nil {
			state := d.Feed.State()
			status["state"] = state.String()
			status["connected"] = state == feed.StateConnected
			status["subscribed"] = len(d.Feed.SubscribedInstruments())
			if t := d.Feed.LastTickAt(); !t.IsZero() {
				status["last_tick_at"] = t.UTC().Format(time.RFC3339Nano)
			}
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /api/feed/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Service.Reconnect(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Hub.Latest())
	})

	// Gap backfill: /api/missed?channel=quote:NSE_EQ:2885&from=5&to=9
	mux.HandleFunc("GET /api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if q.Get("channel") == "" || err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "channel, from and to are required")
			return
		}
		envelopes := d.Hub.Missed(q.Get("channel"), from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, out)
	})

	// Instruments
	mux.HandleFunc("GET /api/instruments/search", func(w http.ResponseWriter, r *http.Request) {
		if d.Instruments == nil {
			writeJSON(w, http.StatusOK, []instruments.Security{})
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 20
		}
		writeJSON(w, http.StatusOK, d.Instruments.Search(r.URL.Query().Get("q"), limit))
	})

	mux.HandleFunc("GET /api/instruments/popular", func(w http.ResponseWriter, r *http.Request) {
		if d.Instruments == nil {
			writeJSON(w, http.StatusOK, []instruments.Security{})
			return
		}
		writeJSON(w, http.StatusOK, d.Instruments.Popular())
	})

	// Broker pass-through
	mux.HandleFunc("GET /api/funds", func(w http.ResponseWriter, r *http.Request) {
		f, err := d.Service.GetFundLimit(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	})

	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.GetOrders(r.Context())
		writeList(w, res.Items, res.Errors, err)
	})

	mux.HandleFunc("POST /api/orders", func(w http.ResponseWriter, r *http.Request) {
		var req model.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		o, err := d.Service.PlaceOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	})

	mux.HandleFunc("PUT /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		var mod model.OrderModification
		if err := json.NewDecoder(r.Body).Decode(&mod); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		status, err := d.Service.ModifyOrder(r.Context(), r.PathValue("id"), mod)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"order_id": r.PathValue("id"), "status": string(status)})
	})

	mux.HandleFunc("DELETE /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := d.Service.CancelOrder(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"order_id": r.PathValue("id"), "status": string(status)})
	})

	mux.HandleFunc("GET /api/trades", func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.GetTrades(r.Context())
		writeList(w, res.Items, res.Errors, err)
	})

	mux.HandleFunc("GET /api/positions", func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.GetPositions(r.Context())
		writeList(w, res.Items, res.Errors, err)
	})

	mux.HandleFunc("GET /api/holdings", func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.GetHoldings(r.Context())
		writeList(w, res.Items, res.Errors, err)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeList(w http.ResponseWriter, items any, recErrs []dhan.RecordError, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := listResponse{Items: items}
	for _, e := range recErrs {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps domain errors to HTTP statuses. Broker rejections
// keep their code and message.
func writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *dhan.APIError
	switch {
	case errors.Is(err, dhan.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dhan.ErrCredentialsMissing), errors.Is(err, feed.ErrCredentialsMissing):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, aggregator.ErrMarketClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, aggregator.ErrNoBroker), errors.Is(err, dhan.ErrRestUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  apiErr.Message,
			"code":   apiErr.Code,
			"status": apiErr.Status,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func errOrDefault(err error, def string) string {
	if err != nil {
		return err.Error()
	}
	return def
}
