package dhan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

func newTestServer(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, AccessToken: "tok", ClientID: "1000"})
	return c, srv
}

func TestRequestHeaders(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("access-token") != "tok" {
			t.Errorf("expected access-token header, got %q", r.Header.Get("access-token"))
		}
		if r.Header.Get("client-id") != "1000" {
			t.Errorf("expected client-id header, got %q", r.Header.Get("client-id"))
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected json accept header, got %q", r.Header.Get("Accept"))
		}
		w.Write([]byte(`{"dhanClientId":"1000","availabelBalance":98440.0,"sodLimit":113642,"utilizedAmount":15202,"withdrawableBalance":98310.0}`))
	})

	fl, err := c.GetFundLimit(context.Background())
	if err != nil {
		t.Fatalf("GetFundLimit: %v", err)
	}
	if !fl.AvailableBalance.Equal(decimal.NewFromInt(98440)) {
		t.Errorf("expected available balance 98440, got %s", fl.AvailableBalance)
	}
	if !fl.SODLimit.Equal(decimal.NewFromInt(113642)) {
		t.Errorf("expected sod limit 113642, got %s", fl.SODLimit)
	}
}

func TestFundLimit_MissingBalanceIsError(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dhanClientId":"1000"}`))
	})
	if _, err := c.GetFundLimit(context.Background()); err == nil {
		t.Fatal("expected error for missing availabelBalance")
	}
}

func TestMapOrderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want model.OrderStatus
	}{
		{"COMPLETE", model.StatusFilled},
		{"TRADED", model.StatusFilled},
		{"filled", model.StatusFilled},
		{"CANCELLED", model.StatusCancelled},
		{"REJECTED", model.StatusCancelled},
		{"TRANSIT", model.StatusPending},
		{"PENDING", model.StatusPending},
		{"", model.StatusPending},
	}
	for _, tt := range tests {
		if got := MapOrderStatus(tt.in); got != tt.want {
			t.Errorf("MapOrderStatus(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestGetOrders_StrictNormalization(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`[
			{"orderId":"112111182198","orderStatus":"TRADED","transactionType":"BUY","exchangeSegment":"NSE_EQ",
			 "productType":"CNC","orderType":"LIMIT","tradingSymbol":"TCS","securityId":"11536","quantity":5,
			 "price":3789.2,"filledQty":5,"averageTradedPrice":3788.95,"createTime":"2026-03-02 10:15:30"},
			{"orderStatus":"PENDING","transactionType":"SELL","securityId":"2885","quantity":1},
			{"orderId":"3","orderStatus":"PENDING","transactionType":"HOLD","securityId":"2885","quantity":1},
			{"orderId":"4","orderStatus":"REJECTED","transactionType":"SELL","securityId":"2885"}
		]`))
	})

	res, err := c.GetOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 valid order, got %d", len(res.Items))
	}
	o := res.Items[0]
	if o.ID != "112111182198" || o.Status != model.StatusFilled || o.Side != model.SideBuy {
		t.Errorf("unexpected order %+v", o)
	}
	if !o.Price.Equal(decimal.RequireFromString("3789.2")) {
		t.Errorf("expected price 3789.2, got %s", o.Price)
	}
	if o.Timestamp.Hour() != 10 || o.Timestamp.Location() != IST {
		t.Errorf("expected IST create time, got %v", o.Timestamp)
	}

	wantFields := []string{"orderId", "transactionType", "quantity"}
	if len(res.Errors) != len(wantFields) {
		t.Fatalf("expected %d record errors, got %v", len(wantFields), res.Errors)
	}
	for i, f := range wantFields {
		if res.Errors[i].Field != f || res.Errors[i].Index != i+1 {
			t.Errorf("error %d: expected field %s at index %d, got %+v", i, f, i+1, res.Errors[i])
		}
	}
}

func TestGetPositionsHoldingsTrades(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/positions":
			w.Write([]byte(`[{"tradingSymbol":"RELIANCE","securityId":"2885","exchangeSegment":"NSE_EQ","productType":"CNC",
				"netQty":100,"costPrice":2400,"realizedProfit":0,"unrealizedProfit":5675},
				{"tradingSymbol":"BAD","securityId":"1"}]`))
		case "/holdings":
			w.Write([]byte(`[{"exchange":"ALL","tradingSymbol":"TCS","securityId":"11536","isin":"INE467B01029",
				"totalQty":50,"availableQty":50,"avgCostPrice":3800,"lastTradedPrice":3789.2}]`))
		case "/trades":
			w.Write([]byte(`[{"orderId":"1","exchangeTradeId":"T1","transactionType":"BUY","tradingSymbol":"TCS",
				"securityId":"11536","tradedQuantity":5,"tradedPrice":3788.95,"exchangeTime":"2026-03-02 10:15:31"},
				{"orderId":"2","transactionType":"BUY","tradedPrice":1}]`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	pos, err := c.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(pos.Items) != 1 || len(pos.Errors) != 1 {
		t.Fatalf("expected 1 position and 1 error, got %d and %d", len(pos.Items), len(pos.Errors))
	}
	if pos.Items[0].Quantity != 100 || !pos.Items[0].AvgPrice.Equal(decimal.NewFromInt(2400)) {
		t.Errorf("unexpected position %+v", pos.Items[0])
	}

	hold, err := c.GetHoldings(ctx)
	if err != nil {
		t.Fatalf("GetHoldings: %v", err)
	}
	if len(hold.Items) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(hold.Items))
	}
	if want := decimal.RequireFromString("-540"); !hold.Items[0].PnL.Equal(want) {
		t.Errorf("expected pnl -540, got %s", hold.Items[0].PnL)
	}

	trades, err := c.GetTrades(ctx)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades.Items) != 1 || len(trades.Errors) != 1 {
		t.Fatalf("expected 1 trade and 1 error, got %d and %d", len(trades.Items), len(trades.Errors))
	}
	if trades.Errors[0].Field != "tradedQuantity" {
		t.Errorf("expected tradedQuantity error, got %+v", trades.Errors[0])
	}
}

func TestPlaceOrder(t *testing.T) {
	var got placeOrderPayload
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.Write([]byte(`{"orderId":"112111182198","orderStatus":"TRANSIT"}`))
	})

	order, err := c.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "TCS", SecurityID: "11536", Side: model.SideBuy, Type: model.OrderLimit,
		Quantity: 5, Price: decimal.RequireFromString("3789.20"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ID != "112111182198" || order.Status != model.StatusPending {
		t.Errorf("unexpected order %+v", order)
	}
	if got.DhanClientID != "1000" || got.ExchangeSegment != "NSE_EQ" || got.ProductType != "CNC" || got.Validity != "DAY" {
		t.Errorf("unexpected payload defaults %+v", got)
	}
	if _, err := uuid.Parse(got.CorrelationID); err != nil {
		t.Errorf("expected uuid correlation id, got %q", got.CorrelationID)
	}
}

func TestPlaceOrder_Errors(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorType":"Order_Error","errorCode":"DH-906","errorMessage":"Incorrect request"}`))
	})
	valid := model.OrderRequest{SecurityID: "11536", Side: model.SideBuy, Type: model.OrderMarket, Quantity: 1}

	_, err := c.PlaceOrder(context.Background(), valid)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 400 || apiErr.Code != "DH-906" || apiErr.Message != "Incorrect request" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
	if errors.Is(err, ErrRestUnavailable) {
		t.Error("a 400 must not be classified as unavailable")
	}

	invalid := valid
	invalid.Quantity = 0
	if _, err := c.PlaceOrder(context.Background(), invalid); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}

	c.SetCredentials("", "")
	if _, err := c.PlaceOrder(context.Background(), valid); !errors.Is(err, ErrCredentialsMissing) {
		t.Errorf("expected ErrCredentialsMissing, got %v", err)
	}
}

func TestModifyAndCancelOrder(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodPut:
			var p modifyOrderPayload
			json.NewDecoder(r.Body).Decode(&p)
			if p.OrderID != "42" || p.LegName != "ENTRY_LEG" || p.Quantity != 10 {
				t.Errorf("unexpected modify payload %+v", p)
			}
			w.Write([]byte(`{"orderId":"42","orderStatus":"PENDING"}`))
		case http.MethodDelete:
			w.Write([]byte(`{"orderId":"42","orderStatus":"CANCELLED"}`))
		}
	})
	ctx := context.Background()

	st, err := c.ModifyOrder(ctx, "42", model.OrderModification{Quantity: 10, Price: decimal.NewFromInt(100)})
	if err != nil || st != model.StatusPending {
		t.Fatalf("ModifyOrder: expected PENDING, got %s %v", st, err)
	}
	st, err = c.CancelOrder(ctx, "42")
	if err != nil || st != model.StatusCancelled {
		t.Fatalf("CancelOrder: expected CANCELLED, got %s %v", st, err)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.GetOrders(context.Background())
	if !errors.Is(err, ErrRestUnavailable) {
		t.Fatalf("expected ErrRestUnavailable, got %v", err)
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, AccessToken: "tok", ClientID: "1000"})

	_, err := c.GetPositions(context.Background())
	if !errors.Is(err, ErrRestUnavailable) {
		t.Fatalf("expected ErrRestUnavailable, got %v", err)
	}
}

func TestFetchQuotes(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/marketfeed/ohlc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string][]int64
		json.NewDecoder(r.Body).Decode(&body)
		if len(body["NSE_EQ"]) != 2 {
			t.Errorf("expected 2 NSE_EQ ids, got %v", body)
		}
		w.Write([]byte(`{"data":{"NSE_EQ":{
			"11536":{"last_price":3800.5,"ohlc":{"open":3780,"close":3789.25,"high":3810.25,"low":3775.5}},
			"2885":{"ohlc":{"open":1,"close":1,"high":1,"low":1}}
		}},"status":"success"}`))
	})

	quotes, err := c.FetchQuotes(context.Background(), []model.Instrument{
		{Segment: model.SegmentNSEEquity, SecurityID: "11536", Symbol: "TCS"},
		{Segment: model.SegmentNSEEquity, SecurityID: "2885", Symbol: "RELIANCE"},
		{Segment: model.SegmentNSEEquity, SecurityID: "not-a-number"},
	})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d: %v", len(quotes), quotes)
	}
	q := quotes["NSE_EQ:11536"]
	if q.Price != 3800.5 || q.Symbol != "TCS" || q.Source != model.SourceREST || q.Provenance != model.ProvenanceLive {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.Change != 11.25 {
		t.Errorf("expected change 11.25, got %v", q.Change)
	}
}

func TestFetchQuotes_Empty(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	quotes, err := c.FetchQuotes(context.Background(), nil)
	if err != nil || len(quotes) != 0 {
		t.Errorf("expected empty result without a request, got %v %v", quotes, err)
	}
}
