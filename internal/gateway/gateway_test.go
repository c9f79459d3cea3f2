package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/RakeshDevCode/Algotradepro/internal/instruments"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
	"github.com/RakeshDevCode/Algotradepro/internal/markethours"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

type fakeService struct {
	mu           sync.Mutex
	watched      []model.Instrument
	snapshotReqs [][]model.Instrument
	refresh      bool
	placeErr     error
	reconnectErr error
	positions    dhan.ParseResult[model.Position]
}

func (f *fakeService) GetSnapshot(_ context.Context, list []model.Instrument, refresh bool) aggregator.Snapshot {
	f.mu.Lock()
	f.snapshotReqs = append(f.snapshotReqs, list)
	f.refresh = refresh
	f.mu.Unlock()
	snap := aggregator.Snapshot{MarketOpen: true}
	for _, inst := range list {
		snap.Quotes = append(snap.Quotes, model.Quote{SecurityID: inst.SecurityID, Segment: inst.Segment,
			Price: 100, Provenance: model.ProvenanceLive, Source: model.SourceREST})
	}
	return snap
}

func (f *fakeService) Watch(list []model.Instrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, list...)
	return nil
}

func (f *fakeService) Watchlist() []model.Instrument {
	return []model.Instrument{{Segment: model.SegmentNSEEquity, SecurityID: "2885"}}
}

func (f *fakeService) Reconnect(context.Context) error { return f.reconnectErr }

func (f *fakeService) PlaceOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	if f.placeErr != nil {
		return model.Order{}, f.placeErr
	}
	return model.Order{ID: "1001", Symbol: req.Symbol, Quantity: req.Quantity, Status: model.StatusPending}, nil
}

func (f *fakeService) ModifyOrder(context.Context, string, model.OrderModification) (model.OrderStatus, error) {
	return model.StatusPending, nil
}

func (f *fakeService) CancelOrder(context.Context, string) (model.OrderStatus, error) {
	return model.StatusCancelled, nil
}

func (f *fakeService) GetOrders(context.Context) (dhan.ParseResult[model.Order], error) {
	return dhan.ParseResult[model.Order]{Items: []model.Order{{ID: "1"}},
		Errors: []dhan.RecordError{{Index: 1, Field: "orderId", Reason: "missing"}}}, nil
}

func (f *fakeService) GetTrades(context.Context) (dhan.ParseResult[model.Trade], error) {
	return dhan.ParseResult[model.Trade]{}, nil
}

func (f *fakeService) GetPositions(context.Context) (dhan.ParseResult[model.Position], error) {
	return f.positions, nil
}

func (f *fakeService) GetHoldings(context.Context) (dhan.ParseResult[model.Holding], error) {
	return dhan.ParseResult[model.Holding]{}, aggregator.ErrNoBroker
}

func (f *fakeService) GetFundLimit(context.Context) (model.FundLimit, error) {
	return model.FundLimit{ClientID: "1000000001", AvailableBalance: decimal.NewFromInt(50000)}, nil
}

type fakeFeedStatus struct{}

func (fakeFeedStatus) State() feed.State { return feed.StateConnected }
func (fakeFeedStatus) LastTickAt() time.Time {
	return time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
}
func (fakeFeedStatus) SubscribedInstruments() []model.Instrument { return make([]model.Instrument, 3) }

type fakeSearch struct{}

func (fakeSearch) Search(q string, limit int) []instruments.Security {
	return []instruments.Security{{Instrument: model.Instrument{SecurityID: "2885", Symbol: strings.ToUpper(q)}}}
}
func (fakeSearch) Popular() []instruments.Security { return nil }

func newTestServer(t *testing.T, svc *fakeService) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(svc, nil)
	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Service:     svc,
		Hub:         hub,
		Calendar:    markethours.NewCalendar(),
		Feed:        fakeFeedStatus{},
		Instruments: fakeSearch{},
		Now:         func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, markethours.IST) },
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, _ := http.NewRequest(method, url, strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSnapshotEndpoint(t *testing.T) {
	svc := &fakeService{}
	srv, _ := newTestServer(t, svc)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/snapshot?instruments=NSE_EQ:11536,IDX_I:13&refresh=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if quotes := body["quotes"].([]interface{}); len(quotes) != 2 {
		t.Errorf("expected 2 quotes, got %d", len(quotes))
	}
	if !svc.refresh || svc.snapshotReqs[0][1].Segment != model.SegmentIndex {
		t.Errorf("unexpected snapshot request %+v refresh=%v", svc.snapshotReqs, svc.refresh)
	}

	do(t, http.MethodGet, srv.URL+"/api/snapshot", "")
	if got := svc.snapshotReqs[1]; len(got) != 1 || got[0].SecurityID != "2885" {
		t.Errorf("expected watchlist snapshot by default, got %+v", got)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/snapshot?instruments=NYSE:1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid instruments, got %d", resp.StatusCode)
	}
}

func TestMarketAndFeedStatus(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	_, body := do(t, http.MethodGet, srv.URL+"/api/market/status", "")
	if body["open"] != false || !strings.HasPrefix(body["message"].(string), "Market Closed - Weekend") {
		t.Errorf("unexpected market status %v", body)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/feed/status", "")
	if body["state"] != "connected" || body["connected"] != true || body["subscribed"] != float64(3) {
		t.Errorf("unexpected feed status %v", body)
	}
}

func TestOrderEndpoints(t *testing.T) {
	svc := &fakeService{}
	srv, _ := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/orders",
		`{"symbol":"RELIANCE","security_id":"2885","side":"BUY","type":"LIMIT","quantity":5,"price":"2450.5"}`)
	if resp.StatusCode != http.StatusCreated || body["id"] != "1001" {
		t.Fatalf("unexpected place response %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/orders/1001", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "CANCELLED" || body["order_id"] != "1001" {
		t.Errorf("unexpected cancel response %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/orders", "")
	if resp.StatusCode != http.StatusOK || len(body["items"].([]interface{})) != 1 || len(body["errors"].([]interface{})) != 1 {
		t.Errorf("expected items and record errors, got %v", body)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid order", dhan.ErrInvalidOrder, http.StatusBadRequest},
		{"no credentials", dhan.ErrCredentialsMissing, http.StatusUnauthorized},
		{"unavailable", &dhan.APIError{Status: 503}, http.StatusServiceUnavailable},
		{"rejected", &dhan.APIError{Status: 400, Code: "DH-905", Message: "insufficient funds"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeService{placeErr: tt.err})
			resp, body := do(t, http.MethodPost, srv.URL+"/api/orders", `{"symbol":"X"}`)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d (%v)", tt.want, resp.StatusCode, body)
			}
		})
	}

	srv, _ := newTestServer(t, &fakeService{reconnectErr: aggregator.ErrMarketClosed})
	if resp, _ := do(t, http.MethodPost, srv.URL+"/api/feed/reconnect", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("reconnect outside hours: expected 409, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/holdings", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("holdings without broker: expected 503, got %d", resp.StatusCode)
	}
}

func TestInstrumentSearch(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})
	resp, err := http.Get(srv.URL + "/api/instruments/search?q=rel")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&got)
	if len(got) != 1 || got[0]["symbol"] != "REL" {
		t.Errorf("unexpected search result %v", got)
	}
}

func TestBroadcast_EnvelopeAndReplay(t *testing.T) {
	hub := NewHub(&fakeService{}, nil)
	hub.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC) }

	q := model.Quote{SecurityID: "2885", Segment: model.SegmentNSEEquity, Price: 2456.75,
		UpdatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	hub.Broadcast(q)
	hub.Broadcast(q)

	channel := ChannelFor("NSE_EQ:2885")
	if hub.ChannelSeq(channel) != 2 {
		t.Fatalf("expected channel seq 2, got %d", hub.ChannelSeq(channel))
	}
	missed := hub.Missed(channel, 2, 2)
	if len(missed) != 1 {
		t.Fatalf("expected one replayed envelope, got %d", len(missed))
	}
	var env struct {
		Type       string      `json:"type"`
		Channel    string      `json:"channel"`
		Data       model.Quote `json:"data"`
		Seq        int64       `json:"seq"`
		ChannelSeq int64       `json:"channel_seq"`
	}
	if err := json.Unmarshal(missed[0], &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\n%s", err, missed[0])
	}
	if env.Type != "QUOTE" || env.Channel != channel || env.Data.Price != 2456.75 || env.ChannelSeq != 2 {
		t.Errorf("unexpected envelope %+v", env)
	}
	if s := hub.Latency.Summary(); s.Samples != 2 || s.P50 != 1000 {
		t.Errorf("expected two 1s latency samples, got %+v", s)
	}
	if _, ok := hub.Latest()[channel]; !ok {
		t.Error("expected latest entry for channel")
	}
}

func TestWebSocket_SubscribeAndStream(t *testing.T) {
	svc := &fakeService{}
	srv, hub := newTestServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "reqId": "r1", "instruments": []string{"NSE_EQ:2885"}})

	var snap struct {
		Type   string        `json:"type"`
		ReqID  string        `json:"reqId"`
		Quotes []model.Quote `json:"quotes"`
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "SNAPSHOT" || snap.ReqID != "r1" || len(snap.Quotes) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	svc.mu.Lock()
	watched := len(svc.watched)
	svc.mu.Unlock()
	if watched != 1 {
		t.Errorf("expected instrument watched, got %d", watched)
	}

	hub.Broadcast(model.Quote{SecurityID: "11536", Segment: model.SegmentNSEEquity, Price: 1})
	hub.Broadcast(model.Quote{SecurityID: "2885", Segment: model.SegmentNSEEquity, Price: 2500})

	var env struct {
		Type string      `json:"type"`
		Data model.Quote `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read quote: %v", err)
	}
	if env.Type != "QUOTE" || env.Data.SecurityID != "2885" {
		t.Errorf("expected only the subscribed instrument, got %+v", env)
	}

	conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "reqId": "r2"})
	var errMsg ErrorResponse
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if errMsg.Type != "ERROR" || errMsg.ReqID != "r2" {
		t.Errorf("expected ERROR for empty SUBSCRIBE, got %+v", errMsg)
	}
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	svc := &fakeService{}
	srv, hub := newTestServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type  string `json:"type"`
		ReqID string `json:"reqId"`
		Error string `json:"error"`
		Ping  int64  `json:"ping"`
	}

	conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "reqId": "s1", "instruments": []string{"NSE_EQ:2885"}})
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "SNAPSHOT" {
		t.Fatalf("expected snapshot, got %+v (%v)", msg, err)
	}

	conn.WriteJSON(map[string]interface{}{"type": "UNSUBSCRIBE", "reqId": "u1", "instruments": []string{"NSE_EQ:2885"}})
	conn.WriteJSON(map[string]interface{}{"ping": 1})
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "pong" || msg.Ping != 1 {
		t.Fatalf("expected pong after unsubscribe, got %+v (%v)", msg, err)
	}

	hub.Broadcast(model.Quote{SecurityID: "2885", Segment: model.SegmentNSEEquity, Price: 2500})
	hub.Broadcast(model.Quote{SecurityID: "11536", Segment: model.SegmentNSEEquity, Price: 3850})
	conn.WriteJSON(map[string]interface{}{"ping": 2})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "pong" || msg.Ping != 2 {
		t.Errorf("client that unsubscribed everything must receive nothing, got %+v", msg)
	}
}

func TestWebSocket_InvalidUnsubscribe(t *testing.T) {
	svc := &fakeService{}
	srv, _ := newTestServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	tests := []struct {
		reqID       string
		instruments []string
	}{
		{"u1", []string{"BOGUS:abc"}},
		{"u2", nil},
	}
	for _, tt := range tests {
		conn.WriteJSON(map[string]interface{}{"type": "UNSUBSCRIBE", "reqId": tt.reqID, "instruments": tt.instruments})
		var errMsg ErrorResponse
		if err := conn.ReadJSON(&errMsg); err != nil {
			t.Fatalf("read error reply: %v", err)
		}
		if errMsg.Type != "ERROR" || errMsg.ReqID != tt.reqID || errMsg.Error == "" {
			t.Errorf("expected ERROR for %v, got %+v", tt.instruments, errMsg)
		}
	}
}
