package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/RakeshDevCode/Algotradepro/config"
	"github.com/RakeshDevCode/Algotradepro/internal/breaker"
	"github.com/RakeshDevCode/Algotradepro/internal/gateway"
	"github.com/RakeshDevCode/Algotradepro/internal/instruments"
	"github.com/RakeshDevCode/Algotradepro/internal/logger"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/bus"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feed"
	"github.com/RakeshDevCode/Algotradepro/internal/markethours"
	"github.com/RakeshDevCode/Algotradepro/internal/metrics"
	"github.com/RakeshDevCode/Algotradepro/internal/model"
	"github.com/RakeshDevCode/Algotradepro/internal/notification"
	redisstore "github.com/RakeshDevCode/Algotradepro/internal/store/redis"
	sqlitestore "github.com/RakeshDevCode/Algotradepro/internal/store/sqlite"
	"github.com/RakeshDevCode/Algotradepro/internal/trace"
	"github.com/RakeshDevCode/Algotradepro/pkg/dhan"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedd] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[feedd] %v", err)
	}

	lg, syncLog := logger.Init("feedd", logger.ParseLevel(cfg.LogLevel), cfg.LogDev)
	defer syncLog()

	if err := trace.Init("feedd", version, cfg.TracingEnabled, os.Stdout); err != nil {
		log.Printf("[feedd] WARNING: tracing init failed: %v", err)
	}

	if cfg.StagingMode {
		log.Printf("[feedd] *** STAGING MODE: feed points at simulator %s ***", cfg.EffectiveFeedURL())
	}
	if !cfg.HasCredentials() {
		log.Println("[feedd] WARNING: DHAN_ACCESS_TOKEN/DHAN_CLIENT_ID not set; snapshots will use fallback quotes")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	// ---- Calendar, scrip master, static defaults ----
	calendar := markethours.Default
	if cfg.HolidaysFile != "" {
		if calendar, err = markethours.LoadHolidaysYAML(cfg.HolidaysFile); err != nil {
			log.Fatalf("[feedd] %v", err)
		}
	}

	var master *instruments.Master
	if cfg.ScripMasterFile != "" {
		if master, err = instruments.LoadFile(cfg.ScripMasterFile); err != nil {
			log.Printf("[feedd] WARNING: scrip master unavailable: %v", err)
		} else {
			log.Printf("[feedd] scrip master loaded: %d securities", master.Len())
		}
	}

	defaults := aggregator.BuiltinDefaults()
	if cfg.DefaultsFile != "" {
		if defaults, err = aggregator.LoadDefaultsYAML(cfg.DefaultsFile); err != nil {
			log.Fatalf("[feedd] %v", err)
		}
	}

	// ---- Reference store (SQLite) ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[feedd] create data dir: %v", err)
	}
	refStore, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[feedd] sqlite init failed: %v", err)
	}
	defer refStore.Close()

	// ---- Redis publisher (optional) ----
	redisBreaker := breaker.New("redis", 5, 10*time.Second)
	redisBreaker.OnStateChange = prom.ObserveBreaker
	publisher, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		QuoteTTL: cfg.RedisQuoteTTL,
	}, redisBreaker)
	if err != nil {
		log.Printf("[feedd] WARNING: redis init failed: %v (continuing without redis)", err)
		publisher = nil
	} else {
		publisher.OnDrop = func(n int) { prom.PublisherDrops.Add(float64(n)) }
		defer publisher.Close()
	}

	var redisPing metrics.Pinger
	if publisher != nil {
		redisPing = publisher
	}
	health.StartLivenessChecker(ctx, redisPing, refStore, 10*time.Second)

	// ---- Alerts ----
	alerts := notification.Multi{notification.NewLogNotifier(lg)}
	if cfg.AlertWebhookURL != "" {
		alerts = append(alerts, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.HasTelegram() {
		alerts = append(alerts, notification.NewTelegramNotifier(cfg.TelegramAPIBase, cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	// ---- Broker REST ----
	rest := dhan.NewClient(dhan.Config{
		BaseURL:     cfg.RestURL,
		AccessToken: cfg.AccessToken,
		ClientID:    cfg.ClientID,
		QuoteRate:   cfg.RestRatePerSec,
		Logger:      lg,
	})
	restBreaker := breaker.New("rest", 5, 30*time.Second)
	restBreaker.IsFailure = func(err error) bool { return errors.Is(err, dhan.ErrRestUnavailable) }
	restBreaker.OnStateChange = prom.ObserveBreaker

	// ---- Feed ----
	feedClient := feed.NewClient(feed.Config{URL: cfg.EffectiveFeedURL(), Logger: lg})
	feedClient.SetCredentials(feed.Credentials{Token: cfg.AccessToken, ClientID: cfg.ClientID})

	// ---- Quote fan-out: redis + browser gateway ----
	quotes := bus.New[model.Quote](5000)
	quotes.OnDrop = func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() }
	var redisIn <-chan model.Quote
	if publisher != nil {
		redisIn = quotes.Subscribe("redis")
	}
	gatewayIn := quotes.Subscribe("gateway")

	// ---- Aggregator ----
	deps := aggregator.Deps{
		Hours:    calendar,
		Feed:     feedClient,
		Fetcher:  rest,
		Breaker:  restBreaker,
		Fallback: aggregator.FallbackChain{refStore, defaults},
		Closes:   refStore,
		Sink:     quotes,
		Broker:   rest,
		Notifier: alerts,
	}
	if master != nil {
		deps.Resolver = master
	}
	agg := aggregator.New(aggregator.Config{
		CacheTTL:      cfg.CacheTTL,
		CheckInterval: cfg.CheckInterval,
		Watchlist:     cfg.ParseWatchlist(),
		Logger:        lg,
	}, deps)
	agg.OnSnapshotEntry = prom.ObserveSnapshotEntry
	agg.OnRESTFailure = func(error) { prom.RESTFailures.Inc() }
	agg.OnExhausted = func(error) { prom.ExhaustedTotal.Inc() }
	agg.OnSessionChange = func(open bool) {
		prom.ObserveSession(open)
		health.SetMarketOpen(open)
	}

	feedClient.OnStateChange = func(from, to feed.State) {
		prom.FeedState.Set(float64(to))
		health.SetFeedState(to.String(), to == feed.StateConnected)
		lg.Info("feed state", "from", from.String(), "to", to.String())
		if to == feed.StateConnected {
			agg.HandleFeedConnected()
		}
	}
	feedClient.OnExhausted = agg.HandleExhausted
	feedClient.OnReconnect = func(attempt int, delay time.Duration) {
		prom.ReconnectAttempts.Inc()
		lg.Warn("feed reconnecting", "attempt", attempt, "delay", delay)
	}
	feedClient.OnFrameError = func(error) { prom.MalformedFrames.Inc() }
	feedClient.OnUnknownFrame = prom.ObserveUnknownFrame
	feedClient.OnTick = func(t model.Tick) {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}

	// ---- Browser gateway ----
	hub := gateway.NewHub(agg, lg)
	hub.OnClientCount = func(n int) { prom.GatewayClients.Set(float64(n)) }

	mux := http.NewServeMux()
	gwDeps := gateway.Deps{
		Service:  agg,
		Hub:      hub,
		Calendar: calendar,
		Feed:     feedClient,
	}
	if master != nil {
		gwDeps.Instruments = master
	}
	gateway.RegisterRoutes(mux, gwDeps)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	log.Printf("[feedd] watchlist: %d instruments, cache ttl %s", len(agg.Watchlist()), cfg.CacheTTL)
	log.Printf("[feedd] %s", calendar.Status(time.Now()).Message)

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := agg.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if publisher != nil {
		g.Go(func() error {
			publisher.Run(gctx, redisIn)
			return nil
		})
	}
	g.Go(func() error {
		hub.Run(gctx, gatewayIn)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				prom.ReportChannelStats(quotes.ChannelStats())
			}
		}
	})
	g.Go(func() error {
		log.Printf("[feedd] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return gwSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("[feedd] stopped with error: %v", err)
	}
	log.Println("[feedd] shutdown signal received, cleaning up...")

	quotes.Close()
	feedClient.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if err := trace.Shutdown(shutdownCtx); err != nil {
		log.Printf("[feedd] trace shutdown: %v", err)
	}

	log.Println("[feedd] shutdown complete.")
}
