package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// These tests run the aggregator against the real feed client over an
// in-memory transport.

type linkRead struct {
	mt   int
	data []byte
	err  error
}

type linkTransport struct {
	reads     chan linkRead
	closeCh   chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newLinkTransport() *linkTransport {
	return &linkTransport{reads: make(chan linkRead, 8), closeCh: make(chan struct{})}
}

func (l *linkTransport) ReadMessage() (int, []byte, error) {
	select {
	case r := <-l.reads:
		return r.mt, r.data, r.err
	case <-l.closeCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (l *linkTransport) WriteMessage(mt int, data []byte) error {
	if mt != websocket.TextMessage {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, append([]byte(nil), data...))
	return nil
}

func (l *linkTransport) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return nil
}

// subscribedIDs returns every security id sent in a subscribe request.
func (l *linkTransport) subscribedIDs() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool)
	for _, w := range l.writes {
		var req struct {
			RequestCode    int
			InstrumentList []struct {
				SecurityID string `json:"SecurityId"`
			}
		}
		if json.Unmarshal(w, &req) != nil || req.RequestCode != feed.RequestSubscribe {
			continue
		}
		for _, e := range req.InstrumentList {
			out[e.SecurityID] = true
		}
	}
	return out
}

// linkDialer hands out a fresh transport per dial. Redials block until
// release is closed.
type linkDialer struct {
	release chan struct{}

	mu    sync.Mutex
	conns []*linkTransport
	dials int
}

func (d *linkDialer) Dial(ctx context.Context, _ string) (feed.Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	if n > 1 {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	tr := newLinkTransport()
	d.mu.Lock()
	d.conns = append(d.conns, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *linkDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *linkDialer) conn(i int) *linkTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatchDuringReconnect_SubscribedOnNewConnection(t *testing.T) {
	d := &linkDialer{release: make(chan struct{})}
	client := feed.NewClient(feed.Config{
		URL:                "wss://feed.test",
		PingInterval:       time.Hour,
		ReconnectBaseDelay: time.Millisecond,
		HandshakeTimeout:   5 * time.Second,
		Dialer:             d,
	})
	client.SetCredentials(feed.Credentials{Token: "tok", ClientID: "1000"})
	t.Cleanup(client.Disconnect)

	a := New(Config{CacheTTL: time.Minute, Watchlist: []model.Instrument{reliance}},
		Deps{Hours: &fakeHours{open: true}, Feed: client})
	client.OnStateChange = func(_, to feed.State) {
		if to == feed.StateConnected {
			a.HandleFeedConnected()
		}
	}

	a.step(context.Background())
	first := d.conn(0)
	if first == nil || !first.subscribedIDs()["2885"] {
		t.Fatalf("expected watchlist subscribed on the first connection")
	}

	first.reads <- linkRead{err: errors.New("connection reset by peer")}
	eventually(t, "redial", func() bool { return d.dialCount() == 2 })
	if client.IsConnected() {
		t.Fatal("feed must not be connected while the redial is pending")
	}

	if err := a.Watch([]model.Instrument{tcs}); err != nil {
		t.Fatalf("Watch while reconnecting: %v", err)
	}
	close(d.release)

	eventually(t, "second connection", func() bool { return d.conn(1) != nil })
	second := d.conn(1)
	eventually(t, "resubscribe on the new connection", func() bool {
		ids := second.subscribedIDs()
		return ids["2885"] && ids["11536"]
	})

	second.reads <- linkRead{mt: websocket.BinaryMessage, data: feed.EncodeTicker(11536, 3850.25, time.Now())}
	eventually(t, "live quote for the late instrument", func() bool {
		for _, q := range a.LiveQuotes() {
			if q.SecurityID == "11536" && q.Price == 3850.25 {
				return true
			}
		}
		return false
	})
}

func TestWatch_PendingUntilFeedConnected(t *testing.T) {
	f := newFakeFeed()
	a, _ := newTestAggregator(&fakeHours{open: true}, Deps{Feed: f})
	extra := model.Instrument{Segment: model.SegmentNSEEquity, SecurityID: "1594"}

	if err := a.Watch([]model.Instrument{extra}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if len(f.subscribed) != 0 {
		t.Fatalf("nothing may be sent while disconnected, got %v", f.subscribed)
	}
	if f.callbacks["1594"] == nil {
		t.Fatal("expected tick callback registered while disconnected")
	}

	f.connected = true
	a.HandleFeedConnected()
	if len(f.subscribed) != 1 || f.subscribed[0].SecurityID != "1594" {
		t.Fatalf("expected pending instrument subscribed, got %v", f.subscribed)
	}

	a.HandleFeedConnected()
	if len(f.subscribed) != 1 {
		t.Errorf("pending set must be drained once, got %v", f.subscribed)
	}
}

func TestWatch_FailedSubscribeRetriedOnConnect(t *testing.T) {
	f := newFakeFeed()
	f.connected = true
	f.subErr = feed.ErrNotConnected
	a, _ := newTestAggregator(&fakeHours{open: true}, Deps{Feed: f})
	extra := model.Instrument{Segment: model.SegmentNSEEquity, SecurityID: "1594"}

	if err := a.Watch([]model.Instrument{extra}); !errors.Is(err, feed.ErrNotConnected) {
		t.Fatalf("expected subscribe error, got %v", err)
	}

	f.subErr = nil
	f.subscribed = nil
	a.HandleFeedConnected()
	if len(f.subscribed) != 1 || f.subscribed[0].SecurityID != "1594" {
		t.Errorf("expected failed instrument resent, got %v", f.subscribed)
	}
}

func TestStart_DrainsPending(t *testing.T) {
	f := newFakeFeed()
	a, _ := newTestAggregator(&fakeHours{open: true}, Deps{Feed: f})
	extra := model.Instrument{Segment: model.SegmentNSEEquity, SecurityID: "1594"}

	if err := a.Watch([]model.Instrument{extra}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.subscribed) != 3 {
		t.Fatalf("expected full watchlist subscribed at start, got %v", f.subscribed)
	}

	a.HandleFeedConnected()
	if len(f.subscribed) != 3 {
		t.Errorf("start already covered the pending instrument, got %v", f.subscribed)
	}
}
