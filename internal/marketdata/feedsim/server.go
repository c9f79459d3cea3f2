// Package feedsim serves a stand-in for the broker's binary market feed.
// It speaks the same handshake and control messages as the real feed and
// streams random-walk ticker and quote frames for subscribed instruments.
package feedsim

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
)

// DefaultStartPrice seeds instruments with no configured price.
const DefaultStartPrice = 1000.0

// Config tunes the simulator.
type Config struct {
	Interval time.Duration
	// QuoteEvery sends a quote frame instead of a ticker every n-th round.
	QuoteEvery int
	// Prices seeds the random walk per security id.
	Prices map[string]float64
	// RequireAuth rejects handshakes without token and clientId.
	RequireAuth bool
	Logger      *slog.Logger
}

type instrument struct {
	price float64
	open  float64
	high  float64
	low   float64
	close float64
	vol   uint32
}

// Server is an http.Handler for the feed endpoint.
type Server struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
	book  map[uint32]*instrument
	rng   *rand.Rand
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// New creates a simulator.
func New(cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.QuoteEvery <= 0 {
		cfg.QuoteEvery = 5
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Server{
		cfg:   cfg,
		log:   lg.With("component", "feedsim"),
		conns: make(map[string]*websocket.Conn),
		book:  make(map[uint32]*instrument),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ServeHTTP upgrades the request and streams frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.cfg.RequireAuth && (q.Get("token") == "" || q.Get("clientId") == "") {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.log.Info("client connected", "conn", id, "remote", r.RemoteAddr)

	sess := &session{srv: s, conn: conn, subs: make(map[uint32]bool), done: make(chan struct{})}
	go sess.writeLoop()
	sess.readLoop()

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.log.Info("client disconnected", "conn", id)
}

// ClientCount returns the number of open feed connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropAll closes every connection without a close frame, which the client
// sees as a transport failure.
func (s *Server) DropAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	return len(s.conns)
}

// next advances the walk for id and returns its state.
func (s *Server) next(id uint32) instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.book[id]
	if !ok {
		start := s.cfg.Prices[strconv.FormatUint(uint64(id), 10)]
		if start <= 0 {
			start = DefaultStartPrice
		}
		in = &instrument{price: start, open: start, high: start, low: start, close: start}
		s.book[id] = in
	}
	// ±0.1% per step, rounded to the 5 paise tick.
	step := in.price * (s.rng.Float64()*0.2 - 0.1) / 100
	in.price = float64(int64((in.price+step)*20+0.5)) / 20
	if in.price < 0.05 {
		in.price = 0.05
	}
	if in.price > in.high {
		in.high = in.price
	}
	if in.price < in.low {
		in.low = in.price
	}
	in.vol += uint32(s.rng.Intn(100) + 1)
	return *in
}

type controlMessage struct {
	RequestCode    int `json:"RequestCode"`
	InstrumentList []struct {
		ExchangeSegment string `json:"ExchangeSegment"`
		SecurityID      string `json:"SecurityId"`
	} `json:"InstrumentList"`
}

type session struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[uint32]bool
	done    chan struct{}
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req controlMessage
		if err := json.Unmarshal(msg, &req); err != nil {
			s.srv.log.Debug("bad control message", "error", err)
			continue
		}
		switch req.RequestCode {
		case feed.RequestSubscribe:
			s.mu.Lock()
			for _, in := range req.InstrumentList {
				if id, err := strconv.ParseUint(in.SecurityID, 10, 32); err == nil {
					s.subs[uint32(id)] = true
				}
			}
			n := len(s.subs)
			s.mu.Unlock()
			s.srv.log.Info("subscribed", "instruments", n)
		case feed.RequestPing:
		case feed.RequestDisconnect:
			s.write(websocket.BinaryMessage, feed.EncodeDisconnect())
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.srv.cfg.Interval)
	defer ticker.Stop()
	round := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		round++
		s.mu.Lock()
		ids := make([]uint32, 0, len(s.subs))
		for id := range s.subs {
			ids = append(ids, id)
		}
		s.mu.Unlock()

		for _, id := range ids {
			in := s.srv.next(id)
			var frame []byte
			if round%s.srv.cfg.QuoteEvery == 0 {
				frame = feed.EncodeQuote(id, in.price, in.vol, in.open, in.high, in.low, in.close)
			} else {
				frame = feed.EncodeTicker(id, in.price, time.Now())
			}
			if err := s.write(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *session) write(mt int, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(mt, b)
}
