package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/internal/notification"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

type fakeHours struct{ open bool }

func (h *fakeHours) IsMarketOpen(time.Time) bool { return h.open }

type fakeFetcher struct {
	quotes map[string]model.Quote
	err    error
	calls  int
	asked  [][]model.Instrument
}

func (f *fakeFetcher) FetchQuotes(_ context.Context, list []model.Instrument) (map[string]model.Quote, error) {
	f.calls++
	f.asked = append(f.asked, list)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]model.Quote)
	for _, inst := range list {
		if q, ok := f.quotes[inst.Key()]; ok {
			out[inst.Key()] = q
		}
	}
	return out, nil
}

type fakeFeed struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error
	connects    int
	disconnects int
	subscribed  []model.Instrument
	subErr      error
	callbacks   map[string]func(model.Tick)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{callbacks: make(map[string]func(model.Tick))}
}

func (f *fakeFeed) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeFeed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	f.subscribed = nil
	f.callbacks = make(map[string]func(model.Tick))
}

func (f *fakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) SubscribeToInstruments(list []model.Instrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, list...)
	return nil
}

func (f *fakeFeed) Subscribe(id string, cb func(model.Tick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[id] = cb
}

func (f *fakeFeed) emit(t model.Tick) {
	f.mu.Lock()
	cb := f.callbacks[t.SecurityID]
	f.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

type fakeCloses struct {
	saved []model.Quote
	err   error
}

func (f *fakeCloses) SaveCloses(_ context.Context, q []model.Quote) error {
	f.saved = append(f.saved, q...)
	return f.err
}

type mapFallback map[string]model.Quote

func (m mapFallback) Fallback(_ context.Context, list []model.Instrument) map[string]model.Quote {
	out := make(map[string]model.Quote)
	for _, inst := range list {
		if q, ok := m[inst.Key()]; ok {
			out[inst.Key()] = q
		}
	}
	return out
}

type fakeNotifier struct {
	alerts []notification.Alert
}

func (n *fakeNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type fakeSink struct {
	quotes []model.Quote
}

func (s *fakeSink) Publish(q model.Quote) { s.quotes = append(s.quotes, q) }

type fakeBroker struct {
	placeErr  error
	positions []model.Position
	holdings  []model.Holding
}

func (b *fakeBroker) PlaceOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	if b.placeErr != nil {
		return model.Order{}, b.placeErr
	}
	return model.Order{ID: "1001", Symbol: req.Symbol, Status: model.StatusPending}, nil
}

func (b *fakeBroker) ModifyOrder(context.Context, string, model.OrderModification) (model.OrderStatus, error) {
	return model.StatusPending, nil
}

func (b *fakeBroker) CancelOrder(context.Context, string) (model.OrderStatus, error) {
	return model.StatusCancelled, nil
}

func (b *fakeBroker) GetOrders(context.Context) (dhan.ParseResult[model.Order], error) {
	return dhan.ParseResult[model.Order]{}, nil
}

func (b *fakeBroker) GetTrades(context.Context) (dhan.ParseResult[model.Trade], error) {
	return dhan.ParseResult[model.Trade]{}, nil
}

func (b *fakeBroker) GetPositions(context.Context) (dhan.ParseResult[model.Position], error) {
	items := make([]model.Position, len(b.positions))
	copy(items, b.positions)
	return dhan.ParseResult[model.Position]{Items: items}, nil
}

func (b *fakeBroker) GetHoldings(context.Context) (dhan.ParseResult[model.Holding], error) {
	items := make([]model.Holding, len(b.holdings))
	copy(items, b.holdings)
	return dhan.ParseResult[model.Holding]{Items: items}, nil
}

func (b *fakeBroker) GetFundLimit(context.Context) (model.FundLimit, error) {
	return model.FundLimit{ClientID: "1000000001"}, nil
}
