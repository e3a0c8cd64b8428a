package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v, want default [BTCUSDT]", cfg.Symbols)
	}
	if !cfg.Exchange.Paper {
		t.Error("missing file should default to paper trading")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
symbols: [ETHUSDT, BTCUSDT]
detector:
  atr_period: 14
  cooldown: 45s
hedge:
  notional_usdt: 25
  quick_tp_enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "ETHUSDT" {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
	if cfg.Detector.ATRPeriod != 14 {
		t.Errorf("ATRPeriod = %d, want 14", cfg.Detector.ATRPeriod)
	}
	if cfg.Detector.Cooldown != 45*time.Second {
		t.Errorf("Cooldown = %v, want 45s", cfg.Detector.Cooldown)
	}
	if cfg.Hedge.NotionalUSDT != 25 {
		t.Errorf("NotionalUSDT = %v, want 25", cfg.Hedge.NotionalUSDT)
	}
	if cfg.Hedge.QuickTPEnabled {
		t.Error("quick_tp_enabled: false not applied")
	}
	// Untouched keys keep their defaults.
	if cfg.Hedge.Leverage != 20 {
		t.Errorf("Leverage = %d, want default 20", cfg.Hedge.Leverage)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "solusdt, ethusdt")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("PAPER_TRADING", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "SOLUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Errorf("Symbols = %v, want [SOLUSDT ETHUSDT]", cfg.Symbols)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("RedisAddr = %s", cfg.RedisAddr)
	}
	if !cfg.Exchange.Paper {
		t.Error("PAPER_TRADING=true not applied")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }, "symbols"},
		{"sub-second timeframe", func(c *Config) { c.Timeframes = []time.Duration{500 * time.Millisecond} }, "below 1s"},
		{"short history", func(c *Config) { c.CandleHistory = 3 }, "candle_history"},
		{"atr period", func(c *Config) { c.Detector.ATRPeriod = 1 }, "atr_period"},
		{"detector timeframe unknown", func(c *Config) { c.Detector.Timeframe = 7 * time.Minute }, "detector.timeframe"},
		{"zero notional", func(c *Config) { c.Hedge.NotionalUSDT = 0 }, "notional"},
		{"leverage range", func(c *Config) { c.Hedge.Leverage = 200 }, "leverage"},
		{"trail pullback", func(c *Config) { c.Hedge.TrailPullback = 1.5 }, "trail_pullback"},
		{"live without keys", func(c *Config) { c.Exchange.Paper = false }, "api_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
