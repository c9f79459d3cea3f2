package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/RakeshDevCode/Algotradepro/internal/breaker"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

const (
	defaultQuoteTTL   = 30 * time.Minute
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	QuoteTTL time.Duration
}

// Publisher keeps the latest quote per instrument in Redis and announces
// every update on a pub/sub channel.
type Publisher struct {
	client  *goredis.Client
	breaker *breaker.Breaker
	ttl     time.Duration

	// OnDrop is called with the number of quotes lost to a failed or rejected write.
	OnDrop func(n int)
}

// New connects to Redis and pings it.
func New(cfg Config, br *breaker.Breaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, br, cfg.QuoteTTL), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, br *breaker.Breaker, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	if br == nil {
		br = breaker.New("redis", 5, 10*time.Second)
	}
	return &Publisher{client: client, breaker: br, ttl: ttl}
}

// QuoteKey is the key holding the latest quote of an instrument.
func QuoteKey(segment model.Segment, securityID string) string {
	return "quote:latest:" + string(segment) + ":" + securityID
}

// QuoteChannel is the pub/sub channel announcing quote updates.
func QuoteChannel(segment model.Segment, securityID string) string {
	return "pub:quote:" + string(segment) + ":" + securityID
}

// Publish writes quotes with one SET + PUBLISH pipeline.
func (p *Publisher) Publish(ctx context.Context, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		for i := range quotes {
			q := &quotes[i]
			data := string(q.JSON())
			pipe.Set(ctx, QuoteKey(q.Segment, q.SecurityID), data, p.ttl)
			pipe.Publish(ctx, QuoteChannel(q.Segment, q.SecurityID), data)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if p.OnDrop != nil {
			p.OnDrop(len(quotes))
		}
		return fmt.Errorf("redis publish %d quotes: %w", len(quotes), err)
	}
	return nil
}

// Run batches quotes from quoteCh and publishes them. Flushes every
// defaultBatchSize quotes or every defaultFlushDelay, whichever comes first.
// Blocks until ctx is cancelled or quoteCh is closed.
func (p *Publisher) Run(ctx context.Context, quoteCh <-chan model.Quote) {
	batch := make([]model.Quote, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.Publish(ctx, batch); err != nil {
			log.Printf("[redis] %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case q, ok := <-quoteCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, q)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Ping checks connectivity for health reporting.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
