package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// Control request codes sent as JSON text frames.
const (
	RequestSubscribe  = 15
	RequestPing       = 16
	RequestDisconnect = 12
)

const (
	DefaultURL                  = "wss://api-feed.dhan.co"
	DefaultPingInterval         = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
)

var (
	ErrCredentialsMissing  = errors.New("feed credentials missing")
	ErrTransport           = errors.New("feed transport error")
	ErrConnectionExhausted = errors.New("feed reconnect attempts exhausted")
	ErrNotConnected        = errors.New("feed not connected")
	ErrConnectInProgress   = errors.New("feed connect in progress")
	ErrClosed              = errors.New("feed closed")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Credentials authenticate the feed handshake.
type Credentials struct {
	Token    string
	ClientID string
}

// Transport is one open message-framed connection. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial status %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

// Config tunes the connection manager. Zero values take the defaults above.
type Config struct {
	URL                  string
	PingInterval         time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	HandshakeTimeout     time.Duration
	Dialer               Dialer
	Logger               *slog.Logger
}

type timer interface {
	Stop() bool
}

// Client owns one feed connection: handshake, keep-alive, reconnect policy
// and the instrument subscription registry.
//
// Every transport, keep-alive loop and reconnect timer belongs to a
// generation. Teardown bumps the generation, so work scheduled for an older
// one finds a mismatch and does nothing.
type Client struct {
	cfg    Config
	dialer Dialer
	log    *slog.Logger

	mu         sync.Mutex
	creds      Credentials
	state      State
	gen        uint64
	conn       Transport
	done       chan struct{}
	attempts   int
	retry      timer
	callbacks  map[string]func(model.Tick)
	subscribed []model.Instrument
	subKeys    map[string]bool
	lastTick   time.Time

	writeMu sync.Mutex

	// Optional hooks. Set before Connect; they run outside the client lock.
	OnStateChange  func(from, to State)
	OnExhausted    func(err error)
	OnReconnect    func(attempt int, delay time.Duration)
	OnFrameError   func(err error)
	OnUnknownFrame func(code uint16)
	OnTick         func(t model.Tick)

	afterFunc func(d time.Duration, f func()) timer
	now       func() time.Time
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		dialer:    dialer,
		log:       lg.With("component", "feed"),
		state:     StateDisconnected,
		callbacks: make(map[string]func(model.Tick)),
		subKeys:   make(map[string]bool),
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		now:       time.Now,
	}
}

// SetCredentials replaces the handshake credentials used by the next dial.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// LastTickAt returns when the last tick was dispatched (zero if none).
func (c *Client) LastTickAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

// Connect dials the feed. It succeeds immediately when already connected.
// A failed caller-initiated dial returns an error wrapping ErrTransport and
// leaves the client Disconnected; only established connections auto-reconnect.
// Connect from Reconnecting or Closed starts a fresh attempt sequence.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.creds.Token == "" || c.creds.ClientID == "" {
		c.mu.Unlock()
		return ErrCredentialsMissing
	}
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.stopRetryLocked()
	c.attempts = 0
	c.gen++
	gen := c.gen
	rawURL := c.feedURLLocked()
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	conn, err := c.dialer.Dial(ctx, rawURL)
	if err != nil {
		c.mu.Lock()
		var n func()
		if c.gen == gen {
			n = c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		if n != nil {
			n()
		}
		c.log.Warn("feed connect failed", "error", err)
		return fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}
	return c.opened(gen, conn, false)
}

// Disconnect tears the connection down for good: it tells the server, closes
// with code 1000, stops keep-alive and any pending reconnect, and clears the
// subscription registry. Safe in every state and idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryLocked()
	conn := c.teardownLocked()
	c.clearRegistryLocked()
	var notify func()
	if c.state != StateClosed {
		notify = c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()

	if conn != nil {
		msg, _ := json.Marshal(controlRequest{RequestCode: RequestDisconnect})
		c.writeMu.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug("disconnect request not sent", "error", err)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if notify != nil {
		c.log.Info("feed disconnected")
		notify()
	}
}

func (c *Client) feedURLLocked() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("version", "2")
	q.Set("token", c.creds.Token)
	q.Set("clientId", c.creds.ClientID)
	q.Set("authType", "2")
	u.RawQuery = q.Encode()
	return u.String()
}

// opened installs conn for gen and starts its read and keep-alive loops.
func (c *Client) opened(gen uint64, conn Transport, reconnected bool) error {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.done = make(chan struct{})
	done := c.done
	c.attempts = 0
	resubscribe := append([]model.Instrument(nil), c.subscribed...)
	notify := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.log.Info("feed connected", "reconnected", reconnected)
	notify()

	go c.readLoop(gen, conn)
	go c.pingLoop(gen, conn, done)

	if reconnected && len(resubscribe) > 0 {
		if err := c.sendSubscriptions(conn, resubscribe); err != nil {
			c.log.Warn("resubscribe failed", "error", err)
		}
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn Transport) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				c.remoteClosed(gen)
				return
			}
			c.failed(gen, fmt.Errorf("%w: read: %v", ErrTransport, err))
			return
		}
		if !c.current(gen) {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if c.handleFrame(msg) {
				c.log.Warn("server requested disconnect")
				c.Disconnect()
				return
			}
		case websocket.TextMessage:
			c.log.Debug("text message ignored", "payload", string(msg))
		}
	}
}

// handleFrame decodes and dispatches one binary message. It reports whether
// the server asked us to disconnect.
func (c *Client) handleFrame(msg []byte) bool {
	f, err := DecodeAt(msg, c.now())
	if err != nil {
		c.log.Warn("frame skipped", "error", err)
		if c.OnFrameError != nil {
			c.OnFrameError(err)
		}
		return false
	}
	switch f.Kind {
	case FrameTick:
		c.dispatch(*f.Tick)
	case FrameDisconnect:
		return true
	default:
		if c.OnUnknownFrame != nil {
			c.OnUnknownFrame(f.Code)
		}
	}
	return false
}

func (c *Client) pingLoop(gen uint64, conn Transport, done <-chan struct{}) {
	msg, _ := json.Marshal(controlRequest{RequestCode: RequestPing})
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(conn, msg); err != nil {
				c.failed(gen, fmt.Errorf("%w: ping: %v", ErrTransport, err))
				return
			}
		}
	}
}

// failed handles a transport failure on gen: schedule the next reconnect or
// give up once the attempt ceiling is reached.
func (c *Client) failed(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.teardownLocked()

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.attempts = 0
		c.clearRegistryLocked()
		notify := c.setStateLocked(StateClosed)
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		err := fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, attempts, cause)
		c.log.Error("feed connection exhausted", "error", err)
		notify()
		if c.OnExhausted != nil {
			c.OnExhausted(err)
		}
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := time.Duration(attempt) * c.cfg.ReconnectBaseDelay
	next := c.gen
	notify := c.setStateLocked(StateReconnecting)
	c.retry = c.afterFunc(delay, func() { c.reconnect(next) })
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.log.Warn("feed connection lost, reconnecting",
		"attempt", attempt, "max", c.cfg.MaxReconnectAttempts, "delay", delay, "error", cause)
	notify()
	if c.OnReconnect != nil {
		c.OnReconnect(attempt, delay)
	}
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	rawURL := c.feedURLLocked()
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	conn, err := c.dialer.Dial(ctx, rawURL)
	cancel()
	if err != nil {
		c.failed(gen, fmt.Errorf("%w: redial: %v", ErrTransport, err))
		return
	}
	c.opened(gen, conn, true)
}

// remoteClosed handles a normal close from the server: no reconnect.
func (c *Client) remoteClosed(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.teardownLocked()
	c.subscribed = nil
	c.subKeys = make(map[string]bool)
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.log.Info("feed closed by server")
	notify()
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) write(conn Transport, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// teardownLocked detaches the live transport and stops its keep-alive loop.
// The caller closes the returned transport outside the lock.
func (c *Client) teardownLocked() Transport {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) setStateLocked(to State) func() {
	from := c.state
	c.state = to
	hook := c.OnStateChange
	return func() {
		if hook != nil && from != to {
			hook(from, to)
		}
	}
}

type controlRequest struct {
	RequestCode int `json:"RequestCode"`
}
