// Package dhan is a REST client for the Dhan v2 trading API.
//
// Usage:
//
//	c := dhan.NewClient(dhan.Config{AccessToken: tok, ClientID: id})
//	funds, err := c.GetFundLimit(ctx)
//	if err != nil { ... }
//	orders, err := c.GetOrders(ctx)
//	for _, bad := range orders.Errors { log.Println(bad) }
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.dhan.co/v2"
	defaultTimeout = 7 * time.Second
)

// Config configures a Client. Zero values take defaults.
type Config struct {
	BaseURL     string
	AccessToken string
	ClientID    string
	Timeout     time.Duration
	// QuoteRate caps market-feed calls per second (burst 1). Zero disables.
	QuoteRate  float64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the broker's REST API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
	tracer       trace.Tracer
	quoteLimiter *rate.Limiter

	mu       sync.RWMutex
	token    string
	clientID string

	newCorrelationID func() string
	now              func() time.Time
}

// NewClient creates a REST client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       hc,
		log:              lg.With("component", "dhan"),
		tracer:           otel.Tracer("github.com/RakeshDevCode/Algotradepro/pkg/dhan"),
		token:            cfg.AccessToken,
		clientID:         cfg.ClientID,
		newCorrelationID: func() string { return uuid.NewString() },
		now:              time.Now,
	}
	if cfg.QuoteRate > 0 {
		c.quoteLimiter = rate.NewLimiter(rate.Limit(cfg.QuoteRate), 1)
	}
	return c
}

// SetCredentials replaces the access token and client id.
func (c *Client) SetCredentials(token, clientID string) {
	c.mu.Lock()
	c.token, c.clientID = token, clientID
	c.mu.Unlock()
}

// HasCredentials reports whether both token and client id are set.
func (c *Client) HasCredentials() bool {
	token, clientID := c.credentials()
	return token != "" && clientID != ""
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.clientID
}

func (c *Client) requestHeaders() http.Header {
	token, clientID := c.credentials()
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if token != "" {
		h.Set("access-token", token)
	}
	if clientID != "" {
		h.Set("client-id", clientID)
	}
	return h
}

// do sends one request. Non-2xx responses become *APIError; transport
// failures wrap ErrRestUnavailable. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "dhan "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dhan: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("dhan: build request %s: %w", path, err)
	}
	req.Header = c.requestHeaders()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed", "method", method, "path", path, "error", err)
		return &APIError{Method: method, Path: path, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: err.Error()}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.log.Debug("request done", "method", method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 300 {
		return newAPIError(method, path, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dhan: decode %s: %w", path, err)
	}
	return nil
}
