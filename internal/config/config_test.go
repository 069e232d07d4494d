package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "clawbot-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if !cfg.Exchange.Testnet {
		t.Fatalf("expected testnet")
	}
	if cfg.Exchange.BaseURL() != "https://testnet.binancefuture.com" {
		t.Fatalf("unexpected base URL: %s", cfg.Exchange.BaseURL())
	}
	if len(cfg.Trading.Symbols) != 2 || cfg.Trading.Symbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %+v", cfg.Trading.Symbols)
	}
	if cfg.Trading.Leverage != 10 {
		t.Fatalf("unexpected leverage: %d", cfg.Trading.Leverage)
	}
	if len(cfg.Trading.Timeframes) != 3 || cfg.Trading.Primary().Interval != "5m" {
		t.Fatalf("unexpected timeframes: %+v", cfg.Trading.Timeframes)
	}
	if cfg.Trading.Primary().Candles != 200 {
		t.Fatalf("unexpected primary candle count: %d", cfg.Trading.Primary().Candles)
	}
	if cfg.Safety.StopPct != 8 || cfg.Safety.TargetPct != 15 {
		t.Fatalf("unexpected safety bounds: %+v", cfg.Safety)
	}
	if cfg.Oracle.Timeout() != 20*time.Second {
		t.Fatalf("unexpected oracle timeout: %s", cfg.Oracle.Timeout())
	}
	if cfg.Cycle.Deadline() != 25*time.Second {
		t.Fatalf("unexpected cycle deadline: %s", cfg.Cycle.Deadline())
	}
	if cfg.Cycle.SentimentTimeout() != 10*time.Second {
		t.Fatalf("unexpected sentiment timeout: %s", cfg.Cycle.SentimentTimeout())
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "minimal.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Trading.Leverage != 20 {
		t.Fatalf("expected default leverage 20, got %d", cfg.Trading.Leverage)
	}
	if cfg.Trading.MinOrderUSDT != 5 {
		t.Fatalf("expected default min order 5, got %.2f", cfg.Trading.MinOrderUSDT)
	}
	if len(cfg.Trading.Timeframes) != 3 {
		t.Fatalf("expected default timeframes, got %+v", cfg.Trading.Timeframes)
	}
	if cfg.Cycle.Deadline() != 30*time.Second {
		t.Fatalf("expected default deadline, got %s", cfg.Cycle.Deadline())
	}
	if cfg.Exchange.BaseURL() != "https://fapi.binance.com" {
		t.Fatalf("unexpected live base URL: %s", cfg.Exchange.BaseURL())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
