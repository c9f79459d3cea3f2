package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// QuoteService is what WS clients need from the aggregator.
type QuoteService interface {
	GetSnapshot(ctx context.Context, instruments []model.Instrument, forceRefresh bool) aggregator.Snapshot
	Watch(instruments []model.Instrument) error
}

// Hub manages browser WebSocket clients and fans live quotes out to them.
type Hub struct {
	svc QuoteService
	log *slog.Logger

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replay      map[string]*ReplayBuffer

	// Latency tracks quote timestamp to broadcast delay.
	Latency *LatencyTracker

	// OnClientCount is called with the client count after every join and leave.
	OnClientCount func(n int)

	now func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub backed by svc.
func NewHub(svc QuoteService, lg *slog.Logger) *Hub {
	if lg == nil {
		lg = slog.Default()
	}
	return &Hub{
		svc:         svc,
		log:         lg.With("component", "gateway"),
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replay:      make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(4096),
		now:         time.Now,
	}
}

// Run broadcasts quotes until ctx is cancelled or quotes is closed.
func (h *Hub) Run(ctx context.Context, quotes <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			h.Broadcast(q)
		}
	}
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		followAll: true,
		subs:      make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last broadcast quote per channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Missed returns buffered envelopes for channel with from <= channel_seq <= to.
func (h *Hub) Missed(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}
