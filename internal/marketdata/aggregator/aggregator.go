// Package aggregator serves market snapshots from three tiers: live quotes
// pushed by the feed, quotes pulled over REST, and static fallbacks. Every
// entry says which tier produced it.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/breaker"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/internal/notification"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

// DefaultCacheTTL is how long a live quote is served before it is re-fetched.
const DefaultCacheTTL = 60 * time.Second

// DefaultCheckInterval is how often the session supervisor looks at the clock.
const DefaultCheckInterval = 30 * time.Second

// ErrMarketClosed is returned by Reconnect outside trading hours.
var ErrMarketClosed = errors.New("market closed")

// MarketHours decides whether the exchange is trading at t.
type MarketHours interface {
	IsMarketOpen(t time.Time) bool
}

// QuoteFetcher pulls quotes on demand. Results are keyed by Instrument.Key().
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, instruments []model.Instrument) (map[string]model.Quote, error)
}

// FallbackSource supplies stand-in quotes. It never fails; instruments it
// knows nothing about are simply absent from the result.
type FallbackSource interface {
	Fallback(ctx context.Context, instruments []model.Instrument) map[string]model.Quote
}

// Feed is the push connection.
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	SubscribeToInstruments(list []model.Instrument) error
	Subscribe(securityID string, cb func(model.Tick))
}

// CloseRecorder persists end-of-session quotes as reference closes.
type CloseRecorder interface {
	SaveCloses(ctx context.Context, quotes []model.Quote) error
}

// Resolver fills symbol and name for an instrument.
type Resolver interface {
	Resolve(inst model.Instrument) model.Instrument
}

// Sink receives every live feed quote.
type Sink interface {
	Publish(q model.Quote)
}

// Broker is the order and portfolio side of the REST API.
type Broker interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	ModifyOrder(ctx context.Context, orderID string, mod model.OrderModification) (model.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (model.OrderStatus, error)
	GetOrders(ctx context.Context) (dhan.ParseResult[model.Order], error)
	GetTrades(ctx context.Context) (dhan.ParseResult[model.Trade], error)
	GetPositions(ctx context.Context) (dhan.ParseResult[model.Position], error)
	GetHoldings(ctx context.Context) (dhan.ParseResult[model.Holding], error)
	GetFundLimit(ctx context.Context) (model.FundLimit, error)
}

// Config tunes the aggregator.
type Config struct {
	CacheTTL      time.Duration
	CheckInterval time.Duration
	Watchlist     []model.Instrument
	Logger        *slog.Logger
}

// Deps are the aggregator's collaborators. Hours and Fallback are required;
// the rest may be nil.
type Deps struct {
	Hours    MarketHours
	Feed     Feed
	Fetcher  QuoteFetcher
	Breaker  *breaker.Breaker
	Fallback FallbackSource
	Closes   CloseRecorder
	Resolver Resolver
	Sink     Sink
	Broker   Broker
	Notifier notification.Notifier
}

// Snapshot is the answer to one GetSnapshot call. Quotes are in request order.
type Snapshot struct {
	Quotes      []model.Quote `json:"quotes"`
	MarketOpen  bool          `json:"market_open"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type cacheEntry struct {
	quote    model.Quote
	storedAt time.Time
}

// Aggregator merges the feed, REST and fallback tiers.
type Aggregator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu          sync.Mutex
	cache       map[string]cacheEntry
	watch       map[string]model.Instrument // security id -> instrument
	watchOrder  []model.Instrument
	pending     map[string]bool // watched but not yet subscribed on the server
	sessionOpen bool
	exhausted   bool
	retryStart  bool

	// Optional hooks, called outside the lock.
	OnSnapshotEntry func(q model.Quote)
	OnRESTFailure   func(err error)
	OnExhausted     func(err error)
	OnSessionChange func(open bool)

	now func() time.Time
}

// New creates an aggregator. The configured watchlist is registered but no
// connection is made until Start or Run.
func New(cfg Config, deps Deps) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if deps.Fallback == nil {
		deps.Fallback = FallbackChain{BuiltinDefaults()}
	}
	a := &Aggregator{
		cfg:     cfg,
		deps:    deps,
		log:     lg.With("component", "aggregator"),
		cache:   make(map[string]cacheEntry),
		watch:   make(map[string]model.Instrument),
		pending: make(map[string]bool),
		now:     time.Now,
	}
	a.addWatch(cfg.Watchlist)
	return a
}

// GetSnapshot returns one quote per instrument. It never fails: instruments
// no live tier can answer are served from the fallback chain and tagged so.
// When the market is closed neither the feed cache nor REST is consulted.
func (a *Aggregator) GetSnapshot(ctx context.Context, instruments []model.Instrument, forceRefresh bool) Snapshot {
	now := a.now()
	instruments = a.resolveAll(instruments)
	snap := Snapshot{Quotes: make([]model.Quote, 0, len(instruments)), GeneratedAt: now}

	found := make(map[string]model.Quote, len(instruments))
	var missing []model.Instrument

	if a.deps.Hours.IsMarketOpen(now) {
		snap.MarketOpen = true

		a.mu.Lock()
		for _, inst := range instruments {
			e, ok := a.cache[inst.Key()]
			if ok && !forceRefresh && now.Sub(e.storedAt) < a.cfg.CacheTTL {
				found[inst.Key()] = e.quote
				continue
			}
			missing = append(missing, inst)
		}
		a.mu.Unlock()

		if len(missing) > 0 {
			missing = a.fetchMissing(ctx, missing, found, now)
		}
	} else {
		missing = instruments
	}

	if len(missing) > 0 {
		for k, q := range a.fallback(ctx, missing) {
			found[k] = q
		}
	}

	for _, inst := range instruments {
		q, ok := found[inst.Key()]
		if !ok {
			q = placeholder(inst)
		}
		snap.Quotes = append(snap.Quotes, q)
		if a.OnSnapshotEntry != nil {
			a.OnSnapshotEntry(q)
		}
	}
	return snap
}

// fetchMissing pulls missing quotes over REST and returns what is still
// unanswered. On REST failure a still-fresh cache entry beats a fallback.
func (a *Aggregator) fetchMissing(ctx context.Context, missing []model.Instrument, found map[string]model.Quote, now time.Time) []model.Instrument {
	fetched, err := a.fetch(ctx, missing)
	if err != nil {
		a.log.Warn("rest quotes unavailable, serving fallback", "instruments", len(missing), "error", err)
		if a.OnRESTFailure != nil {
			a.OnRESTFailure(err)
		}
	}

	var rest []model.Instrument
	a.mu.Lock()
	for _, inst := range missing {
		key := inst.Key()
		if q, ok := fetched[key]; ok {
			q.Symbol, q.Name = inst.Symbol, inst.Name
			q.Provenance, q.Source = model.ProvenanceLive, model.SourceREST
			a.cache[key] = cacheEntry{quote: q, storedAt: now}
			found[key] = q
			continue
		}
		if e, ok := a.cache[key]; ok && now.Sub(e.storedAt) < a.cfg.CacheTTL {
			found[key] = e.quote
			continue
		}
		rest = append(rest, inst)
	}
	a.mu.Unlock()
	return rest
}

func (a *Aggregator) fetch(ctx context.Context, instruments []model.Instrument) (map[string]model.Quote, error) {
	if a.deps.Fetcher == nil {
		return nil, dhan.ErrRestUnavailable
	}
	var out map[string]model.Quote
	call := func() error {
		var err error
		out, err = a.deps.Fetcher.FetchQuotes(ctx, instruments)
		return err
	}
	if a.deps.Breaker != nil {
		return out, a.deps.Breaker.Execute(call)
	}
	return out, call()
}

func (a *Aggregator) fallback(ctx context.Context, instruments []model.Instrument) map[string]model.Quote {
	out := a.deps.Fallback.Fallback(ctx, instruments)
	for k, q := range out {
		q.Provenance = model.ProvenanceFallback
		out[k] = q
	}
	return out
}

// HandleTick stores a feed tick as the instrument's live quote and forwards
// it to the sink.
func (a *Aggregator) HandleTick(t model.Tick) {
	now := a.now()

	a.mu.Lock()
	inst, ok := a.watch[t.SecurityID]
	if !ok {
		inst = model.Instrument{Segment: model.SegmentNSEEquity, SecurityID: t.SecurityID}
	}
	q := model.QuoteFromTick(inst, t, now)
	a.cache[q.Key()] = cacheEntry{quote: q, storedAt: now}
	a.mu.Unlock()

	if a.deps.Sink != nil {
		a.deps.Sink.Publish(q)
	}
}

// Watch adds instruments to the watchlist and registers their tick
// callbacks. While the feed is connected they are subscribed immediately;
// otherwise they stay pending until HandleFeedConnected or the next session
// start.
func (a *Aggregator) Watch(instruments []model.Instrument) error {
	added := a.addWatch(a.resolveAll(instruments))
	if len(added) == 0 || a.deps.Feed == nil {
		return nil
	}
	if !a.deps.Feed.IsConnected() {
		for _, inst := range added {
			a.deps.Feed.Subscribe(inst.SecurityID, a.HandleTick)
		}
		a.markPending(added)
		return nil
	}
	if err := a.subscribe(added); err != nil {
		a.markPending(added)
		return err
	}
	return nil
}

// HandleFeedConnected is wired to the feed's transition to Connected. It
// subscribes the instruments watched while the feed was down.
func (a *Aggregator) HandleFeedConnected() {
	if a.deps.Feed == nil {
		return
	}
	list := a.takePending()
	if len(list) == 0 {
		return
	}
	if err := a.subscribe(list); err != nil {
		a.markPending(list)
		a.log.Warn("pending subscribe failed", "instruments", len(list), "error", err)
		return
	}
	a.log.Info("pending instruments subscribed", "instruments", len(list))
}

// Watchlist returns the watched instruments in the order they were added.
func (a *Aggregator) Watchlist() []model.Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Instrument, len(a.watchOrder))
	copy(out, a.watchOrder)
	return out
}

// LiveQuotes returns the cached live quotes.
func (a *Aggregator) LiveQuotes() []model.Quote {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Quote, 0, len(a.cache))
	for _, e := range a.cache {
		if e.quote.Live() {
			out = append(out, e.quote)
		}
	}
	return out
}

func (a *Aggregator) addWatch(instruments []model.Instrument) []model.Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	var added []model.Instrument
	for _, inst := range instruments {
		if _, ok := a.watch[inst.SecurityID]; ok {
			continue
		}
		a.watch[inst.SecurityID] = inst
		a.watchOrder = append(a.watchOrder, inst)
		added = append(added, inst)
	}
	return added
}

func (a *Aggregator) markPending(instruments []model.Instrument) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, inst := range instruments {
		a.pending[inst.SecurityID] = true
	}
}

// takePending clears the pending set and returns it in watchlist order.
func (a *Aggregator) takePending() []model.Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	var out []model.Instrument
	for _, inst := range a.watchOrder {
		if a.pending[inst.SecurityID] {
			out = append(out, inst)
		}
	}
	a.pending = make(map[string]bool)
	return out
}

func (a *Aggregator) subscribe(instruments []model.Instrument) error {
	for _, inst := range instruments {
		a.deps.Feed.Subscribe(inst.SecurityID, a.HandleTick)
	}
	return a.deps.Feed.SubscribeToInstruments(instruments)
}

func (a *Aggregator) resolveAll(instruments []model.Instrument) []model.Instrument {
	if a.deps.Resolver == nil {
		return instruments
	}
	out := make([]model.Instrument, len(instruments))
	for i, inst := range instruments {
		out[i] = a.deps.Resolver.Resolve(inst)
	}
	return out
}

func placeholder(inst model.Instrument) model.Quote {
	return model.Quote{
		SecurityID: inst.SecurityID,
		Segment:    inst.Segment,
		Symbol:     inst.Symbol,
		Name:       inst.Name,
		Provenance: model.ProvenanceFallback,
		Source:     model.SourceDefault,
	}
}
