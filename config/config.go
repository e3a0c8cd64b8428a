// Package config loads application configuration from an optional YAML file
// with environment-variable overrides. Validate runs before the engine starts
// so the core never sees a nonsensical parameter set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Symbols to trade, e.g. ["BTCUSDT", "ETHUSDT"].
	Symbols []string `yaml:"symbols"`

	// Timeframes tracked by the candle aggregator.
	Timeframes []time.Duration `yaml:"timeframes"`
	// CandleHistory is the per-(symbol, timeframe) closed-candle capacity.
	CandleHistory int `yaml:"candle_history"`

	Detector DetectorConfig `yaml:"detector"`
	Hedge    HedgeConfig    `yaml:"hedge"`
	Exchange ExchangeConfig `yaml:"exchange"`

	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	SQLitePath    string `yaml:"sqlite_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	APIAddr       string `yaml:"api_addr"`

	// Signal recorder output directory ("" disables recording).
	RecorderDir string `yaml:"recorder_dir"`

	// Notification
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`
}

// DetectorConfig configures the ATR volatility estimator and spike detector.
type DetectorConfig struct {
	ATRPeriod        int           `yaml:"atr_period"`        // closed candles per ATR
	SpikeMultiplier  float64       `yaml:"spike_multiplier"`  // k1: velocity threshold = k1*ATR/price
	RetraceMult      float64       `yaml:"retrace_multiplier"` // k2: retrace threshold = k2*ATR/price
	Window           time.Duration `yaml:"window"`            // velocity detection window
	Cooldown         time.Duration `yaml:"cooldown"`          // per-symbol signal cooldown
	ShadowRatio      float64       `yaml:"shadow_ratio"`      // wick/body confirmation threshold
	FalseBreakoutPct float64       `yaml:"false_breakout_pct"` // fractional, e.g. 0.002
	Timeframe        time.Duration `yaml:"timeframe"`         // reference TF for morphology + ATR
}

// HedgeConfig configures the two-leg hedge state machine.
type HedgeConfig struct {
	NotionalUSDT float64 `yaml:"notional_usdt"` // per-leg position size before leverage
	Leverage     int     `yaml:"leverage"`
	FeeRate      float64 `yaml:"fee_rate"` // flat taker rate, charged open+close per leg

	// RetracementPct is the fixed hedge-target offset (fractional) used when
	// a signal does not carry a dynamic retrace threshold.
	RetracementPct float64       `yaml:"retracement_pct"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`  // max wait for the hedge leg
	MaxHold        time.Duration `yaml:"max_hold"`      // leg-2 force-close age

	QuickTPEnabled   bool    `yaml:"quick_tp_enabled"`   // take small profits on leg 2 immediately
	QuickTPPct       float64 `yaml:"quick_tp_pct"`       // leg-2 quick take-profit, percent
	BreakevenBandPct float64 `yaml:"breakeven_band_pct"` // slippage band around entry, fractional
	TrailArmPct      float64 `yaml:"trail_arm_pct"`      // peak profit % that arms the trail
	TrailPullback    float64 `yaml:"trail_pullback"`     // fraction of peak given back above 1%
}

// ExchangeConfig configures the Binance futures gateway.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
	// Paper switches to the in-process paper gateway. No exchange calls.
	Paper bool `yaml:"paper"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Symbols:       []string{"BTCUSDT"},
		Timeframes:    []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute, 15 * time.Minute},
		CandleHistory: 50,
		Detector: DetectorConfig{
			ATRPeriod:        7,
			SpikeMultiplier:  0.5,
			RetraceMult:      0.3,
			Window:           60 * time.Second,
			Cooldown:         30 * time.Second,
			ShadowRatio:      2.0,
			FalseBreakoutPct: 0.002,
			Timeframe:        time.Minute,
		},
		Hedge: HedgeConfig{
			NotionalUSDT:     15.0,
			Leverage:         20,
			FeeRate:          0.0004,
			RetracementPct:   0.008,
			WaitTimeout:      60 * time.Second,
			MaxHold:          300 * time.Second,
			QuickTPEnabled:   true,
			QuickTPPct:       0.3,
			BreakevenBandPct: 0.003,
			TrailArmPct:      0.5,
			TrailPullback:    0.3,
		},
		// Paper by default: going live requires an explicit config change
		// plus credentials.
		Exchange: ExchangeConfig{Paper: true},

		RedisAddr:   "localhost:6379",
		SQLitePath:  "data/trades.db",
		MetricsAddr: ":9090",
		APIAddr:     ":8080",
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates. path may be empty to run on defaults + env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment. Credentials in
// particular are expected to arrive this way rather than in the file.
func (c *Config) applyEnv() {
	setStr(&c.Exchange.APIKey, "BINANCE_API_KEY")
	setStr(&c.Exchange.APISecret, "BINANCE_API_SECRET")
	setBool(&c.Exchange.Testnet, "BINANCE_TESTNET")
	setBool(&c.Exchange.Paper, "PAPER_TRADING")

	setStr(&c.RedisAddr, "REDIS_ADDR")
	setStr(&c.RedisPassword, "REDIS_PASSWORD")
	setStr(&c.SQLitePath, "SQLITE_PATH")
	setStr(&c.MetricsAddr, "METRICS_ADDR")
	setStr(&c.APIAddr, "API_ADDR")
	setStr(&c.TelegramToken, "TELEGRAM_TOKEN")
	setStr(&c.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&c.WebhookURL, "WEBHOOK_URL")

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitSymbols(v)
	}
}

// Validate checks invariants the core relies on.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols: at least one required")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("timeframes: at least one required")
	}
	for _, tf := range c.Timeframes {
		if tf < time.Second {
			return fmt.Errorf("timeframes: %v below 1s", tf)
		}
	}
	if c.CandleHistory < c.Detector.ATRPeriod {
		return fmt.Errorf("candle_history %d smaller than atr_period %d",
			c.CandleHistory, c.Detector.ATRPeriod)
	}

	d := c.Detector
	if d.ATRPeriod < 2 {
		return fmt.Errorf("detector.atr_period: must be >= 2")
	}
	if d.SpikeMultiplier <= 0 || d.RetraceMult <= 0 {
		return fmt.Errorf("detector multipliers must be positive")
	}
	if d.Window <= 0 || d.Cooldown < 0 {
		return fmt.Errorf("detector window/cooldown invalid")
	}
	if d.ShadowRatio <= 0 {
		return fmt.Errorf("detector.shadow_ratio must be positive")
	}
	if !containsTF(c.Timeframes, d.Timeframe) {
		return fmt.Errorf("detector.timeframe %v not in configured timeframes", d.Timeframe)
	}

	h := c.Hedge
	if h.NotionalUSDT <= 0 {
		return fmt.Errorf("hedge.notional_usdt must be positive")
	}
	if h.Leverage < 1 || h.Leverage > 125 {
		return fmt.Errorf("hedge.leverage %d out of range 1..125", h.Leverage)
	}
	if h.FeeRate < 0 || h.FeeRate > 0.01 {
		return fmt.Errorf("hedge.fee_rate %v out of range", h.FeeRate)
	}
	if h.RetracementPct <= 0 {
		return fmt.Errorf("hedge.retracement_pct must be positive")
	}
	if h.WaitTimeout <= 0 || h.MaxHold <= 0 {
		return fmt.Errorf("hedge timeouts must be positive")
	}
	if h.BreakevenBandPct <= 0 || h.BreakevenBandPct >= 0.05 {
		return fmt.Errorf("hedge.breakeven_band_pct %v out of range", h.BreakevenBandPct)
	}
	if h.TrailPullback <= 0 || h.TrailPullback >= 1 {
		return fmt.Errorf("hedge.trail_pullback %v out of range (0,1)", h.TrailPullback)
	}

	if !c.Exchange.Paper && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange: api_key and api_secret required unless paper trading")
	}
	return nil
}

func containsTF(tfs []time.Duration, tf time.Duration) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
	}
}
