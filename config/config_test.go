package config

import (
	"testing"
	"time"

	"github.com/RakeshDevCode/Algotradepro/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DHAN_ACCESS_TOKEN", "")
	t.Setenv("DHAN_CLIENT_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("expected CACHE_TTL 60s, got %s", cfg.CacheTTL)
	}
	if cfg.RestURL != "https://api.dhan.co/v2" {
		t.Errorf("unexpected REST url %q", cfg.RestURL)
	}
	if cfg.HasCredentials() {
		t.Error("expected no credentials")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DHAN_ACCESS_TOKEN", "tok")
	t.Setenv("DHAN_CLIENT_ID", "1000")
	t.Setenv("CACHE_TTL", "5s")
	t.Setenv("STAGING_MODE", "true")
	t.Setenv("SIM_ADDR", "127.0.0.1:9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.HasCredentials() {
		t.Error("expected credentials")
	}
	if cfg.CacheTTL != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.CacheTTL)
	}
	if got := cfg.EffectiveFeedURL(); got != "ws://127.0.0.1:9100/feed" {
		t.Errorf("expected simulator url, got %s", got)
	}
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("CACHE_TTL", "-1s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative CACHE_TTL")
	}
}

func TestParseWatchlist(t *testing.T) {
	cfg := &Config{Watchlist: "NSE_EQ:2885, 11536 ,BOGUS:1,IDX_I:13"}
	got := cfg.ParseWatchlist()
	want := []model.Instrument{
		{Segment: model.SegmentNSEEquity, SecurityID: "2885"},
		{Segment: model.SegmentNSEEquity, SecurityID: "11536"},
		{Segment: model.SegmentIndex, SecurityID: "13"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d instruments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestHasTelegram(t *testing.T) {
	cfg := &Config{TelegramBotToken: "123:abc"}
	if cfg.HasTelegram() {
		t.Error("expected telegram disabled without chat id")
	}
	cfg.TelegramChatID = "-1001"
	if !cfg.HasTelegram() {
		t.Error("expected telegram enabled")
	}
}
