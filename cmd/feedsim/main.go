// cmd/feedsim serves a simulated binary market feed for staging runs of
// feedd without broker credentials.
//
// Config (env vars):
//
//	SIM_ADDR         listen address (default ":9001")
//	SIM_INTERVAL_MS  frame interval per instrument (default "500")
//	SIM_REQUIRE_AUTH reject handshakes without token/clientId (default "false")
//	DEFAULTS_FILE    optional YAML of seed prices
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/logger"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/aggregator"
	"github.com/RakeshDevCode/Algotradepro/internal/marketdata/feedsim"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting simulated feed...")

	lg, syncLog := logger.Init("feedsim", logger.ParseLevel(envOrDefault("LOG_LEVEL", "info")), true)
	defer syncLog()

	defaults := aggregator.BuiltinDefaults()
	if path := os.Getenv("DEFAULTS_FILE"); path != "" {
		var err error
		if defaults, err = aggregator.LoadDefaultsYAML(path); err != nil {
			log.Fatalf("[feedsim] %v", err)
		}
	}

	addr := envOrDefault("SIM_ADDR", ":9001")
	sim := feedsim.New(feedsim.Config{
		Interval:    time.Duration(envIntOrDefault("SIM_INTERVAL_MS", 500)) * time.Millisecond,
		Prices:      defaults.SeedPrices(),
		RequireAuth: envOrDefault("SIM_REQUIRE_AUTH", "false") == "true",
		Logger:      lg,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /feed", sim)
	mux.HandleFunc("POST /admin/drop", func(w http.ResponseWriter, _ *http.Request) {
		n := sim.DropAll()
		log.Printf("[feedsim] dropped %d connections", n)
		json.NewEncoder(w).Encode(map[string]int{"dropped": n})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "service": "feedsim", "clients": sim.ClientCount()})
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("[feedsim] listening on %s  (feed: ws://localhost%s/feed)", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[feedsim] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	log.Println("[feedsim] shutdown complete.")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
