package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/internal/notification"
)

// Start connects the feed and subscribes the watchlist when the market is
// open. Outside trading hours it does nothing.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.deps.Feed == nil {
		return nil
	}
	if !a.deps.Hours.IsMarketOpen(a.now()) {
		a.log.Info("market closed, feed not started")
		return nil
	}
	// The whole watchlist is subscribed below.
	a.takePending()
	if err := a.deps.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	list := a.Watchlist()
	if len(list) == 0 {
		return nil
	}
	if err := a.subscribe(list); err != nil {
		return fmt.Errorf("subscribe watchlist: %w", err)
	}
	a.log.Info("feed session started", "instruments", len(list))
	return nil
}

// Run supervises feed sessions across market open and close until ctx is
// cancelled. The first check happens immediately.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	a.step(ctx)
	for {
		select {
		case <-ctx.Done():
			a.mu.Lock()
			open := a.sessionOpen
			a.mu.Unlock()
			if open {
				a.closeSession(context.Background())
			}
			return ctx.Err()
		case <-ticker.C:
			a.step(ctx)
		}
	}
}

// step reconciles the feed with the market clock.
func (a *Aggregator) step(ctx context.Context) {
	open := a.deps.Hours.IsMarketOpen(a.now())

	a.mu.Lock()
	was := a.sessionOpen
	retry := a.retryStart && !a.exhausted
	a.sessionOpen = open
	if open && !was {
		a.exhausted = false
	}
	a.mu.Unlock()

	switch {
	case open && !was:
		if a.OnSessionChange != nil {
			a.OnSessionChange(true)
		}
		a.startSession(ctx)
	case open && retry:
		a.startSession(ctx)
	case !open && was:
		if a.OnSessionChange != nil {
			a.OnSessionChange(false)
		}
		a.closeSession(ctx)
	}
}

// startSession starts the feed. Transport failures are retried on the next
// step; missing credentials wait for Reconnect.
func (a *Aggregator) startSession(ctx context.Context) {
	err := a.Start(ctx)

	a.mu.Lock()
	a.retryStart = err != nil && !errors.Is(err, feed.ErrCredentialsMissing)
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("feed session not started", "error", err)
	}
}

// closeSession records live quotes as reference closes and disconnects.
func (a *Aggregator) closeSession(ctx context.Context) {
	a.mu.Lock()
	a.retryStart = false
	a.mu.Unlock()

	if a.deps.Closes != nil {
		quotes := a.LiveQuotes()
		if err := a.deps.Closes.SaveCloses(ctx, quotes); err != nil {
			a.log.Error("saving reference closes failed", "error", err)
		} else if len(quotes) > 0 {
			a.log.Info("reference closes saved", "count", len(quotes))
		}
	}
	if a.deps.Feed != nil {
		a.deps.Feed.Disconnect()
	}
	a.log.Info("feed session closed")
}

// HandleExhausted is wired to the feed's exhaustion hook. The feed stays
// down until the next session or an explicit Reconnect.
func (a *Aggregator) HandleExhausted(err error) {
	a.mu.Lock()
	a.exhausted = true
	a.retryStart = false
	a.mu.Unlock()

	a.log.Error("feed reconnect attempts exhausted, serving fallback", "error", err)
	if a.OnExhausted != nil {
		a.OnExhausted(err)
	}
	a.notify(notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Market feed down",
		Message: fmt.Sprintf("feed gave up reconnecting: %v", err),
	})
}

// Reconnect starts a new feed session on demand, for example after the
// connection was exhausted.
func (a *Aggregator) Reconnect(ctx context.Context) error {
	if !a.deps.Hours.IsMarketOpen(a.now()) {
		return ErrMarketClosed
	}
	a.mu.Lock()
	a.exhausted = false
	a.sessionOpen = true
	a.mu.Unlock()
	return a.Start(ctx)
}

// Exhausted reports whether the feed gave up in the current session.
func (a *Aggregator) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exhausted
}

func (a *Aggregator) notify(alert notification.Alert) {
	if a.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.deps.Notifier.Send(ctx, alert); err != nil {
		a.log.Warn("alert delivery failed", "title", alert.Title, "error", err)
	}
}

// liveQuote returns the cached live quote for a security id in any segment,
// preferring seg.
func (a *Aggregator) liveQuote(seg model.Segment, securityID string) (model.Quote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.cache[string(seg)+":"+securityID]; ok && e.quote.Live() {
		return e.quote, true
	}
	for _, e := range a.cache {
		if e.quote.SecurityID == securityID && e.quote.Live() {
			return e.quote, true
		}
	}
	return model.Quote{}, false
}
