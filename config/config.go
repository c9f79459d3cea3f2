package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Dhan credentials. Empty values keep the feed down; snapshots fall back.
	AccessToken string `envconfig:"DHAN_ACCESS_TOKEN"`
	ClientID    string `envconfig:"DHAN_CLIENT_ID"`
	RestURL     string `envconfig:"DHAN_REST_URL" default:"https://api.dhan.co/v2"`
	FeedURL     string `envconfig:"DHAN_FEED_URL" default:"wss://api-feed.dhan.co"`

	// Market data
	Watchlist       string        `envconfig:"WATCHLIST" default:"NSE_EQ:2885,NSE_EQ:11536"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"60s"`
	CheckInterval   time.Duration `envconfig:"MARKET_CHECK_INTERVAL" default:"30s"`
	RestRatePerSec  float64       `envconfig:"REST_RATE_PER_SEC" default:"1"`
	HolidaysFile    string        `envconfig:"HOLIDAYS_FILE"`
	DefaultsFile    string        `envconfig:"DEFAULTS_FILE"`
	ScripMasterFile string        `envconfig:"SCRIP_MASTER_FILE"`

	// Infrastructure
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"data/reference.db"`
	MetricsAddr     string `envconfig:"METRICS_ADDR" default:":9090"`
	GatewayAddr     string `envconfig:"GATEWAY_ADDR" default:":8080"`
	RedisQuoteTTL   time.Duration `envconfig:"REDIS_QUOTE_TTL" default:"30m"`

	// Alerts
	AlertWebhookURL  string `envconfig:"ALERT_WEBHOOK_URL"`
	TelegramAPIBase  string `envconfig:"TELEGRAM_API_BASE" default:"https://api.telegram.org"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`

	// Logging / tracing
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev         bool   `envconfig:"LOG_DEV" default:"false"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`

	// Staging: point the feed at cmd/feedsim instead of the broker.
	StagingMode bool   `envconfig:"STAGING_MODE" default:"false"`
	SimAddr     string `envconfig:"SIM_ADDR" default:"localhost:9001"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("config: CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("config: MARKET_CHECK_INTERVAL must be positive, got %s", cfg.CheckInterval)
	}
	if cfg.RestRatePerSec <= 0 {
		return nil, fmt.Errorf("config: REST_RATE_PER_SEC must be positive, got %v", cfg.RestRatePerSec)
	}
	return &cfg, nil
}

// HasCredentials reports whether both broker credentials are present.
func (c *Config) HasCredentials() bool {
	return c.AccessToken != "" && c.ClientID != ""
}

// EffectiveFeedURL returns the simulator URL in staging mode, else FeedURL.
func (c *Config) EffectiveFeedURL() string {
	if c.StagingMode {
		return "ws://" + c.SimAddr + "/feed"
	}
	return c.FeedURL
}

// ParseWatchlist parses Watchlist into instruments, skipping invalid entries.
func (c *Config) ParseWatchlist() []model.Instrument {
	list, err := model.ParseInstrumentList(c.Watchlist)
	if err != nil {
		log.Printf("[config] skipping invalid watchlist entries: %v", err)
	}
	return list
}

// HasTelegram reports whether Telegram alerts are configured.
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}
