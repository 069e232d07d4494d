// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics address, and logging level.
type App struct {
	Name        string `yaml:"name"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	RecordsPath string `yaml:"records_path"`
}

// Exchange describes Binance futures connectivity. Credentials are overlaid
// from the environment so they never live in the YAML file.
type Exchange struct {
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
	Testnet   bool   `yaml:"testnet"`
}

// BaseURL returns the futures REST endpoint for the configured environment.
func (e Exchange) BaseURL() string {
	if e.Testnet {
		return "https://testnet.binancefuture.com"
	}
	return "https://fapi.binance.com"
}

// Timeframe pairs an interval name with the number of candles fetched for it.
type Timeframe struct {
	Interval string `yaml:"interval"`
	Candles  int    `yaml:"candles"`
}

// Trading groups the instrument set and order sizing floor.
type Trading struct {
	Symbols      []string    `yaml:"symbols"`
	Leverage     int         `yaml:"leverage"`
	MinOrderUSDT float64     `yaml:"min_order_usdt"`
	Timeframes   []Timeframe `yaml:"timeframes"`
}

// Primary returns the timeframe used for regime detection and latest price.
func (t Trading) Primary() Timeframe {
	if len(t.Timeframes) == 0 {
		return Timeframe{Interval: "5m", Candles: 200}
	}
	return t.Timeframes[0]
}

// Safety encodes the hard bracket bounds applied to every open position.
type Safety struct {
	StopPct   float64 `yaml:"stop_pct"`
	TargetPct float64 `yaml:"target_pct"`
}

// Oracle configures the external decision provider and its optional fallback.
type Oracle struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"-"`
	FallbackURL    string `yaml:"fallback_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the oracle request deadline.
func (o Oracle) Timeout() time.Duration { return time.Duration(o.TimeoutSeconds) * time.Second }

// Cycle bounds the run as a whole and its slowest auxiliary fetch.
type Cycle struct {
	DeadlineSeconds         int `yaml:"deadline_seconds"`
	SentimentTimeoutSeconds int `yaml:"sentiment_timeout_seconds"`
}

// Deadline returns the whole-cycle time budget.
func (c Cycle) Deadline() time.Duration { return time.Duration(c.DeadlineSeconds) * time.Second }

// SentimentTimeout returns the sub-deadline for the slowest auxiliary fetch.
func (c Cycle) SentimentTimeout() time.Duration {
	return time.Duration(c.SentimentTimeoutSeconds) * time.Second
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Trading  Trading  `yaml:"trading"`
	Safety   Safety   `yaml:"safety"`
	Oracle   Oracle   `yaml:"oracle"`
	Cycle    Cycle    `yaml:"cycle"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and overlays
// secrets from the environment (a .env file is honored when present).
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.RecordsPath == "" {
		c.App.RecordsPath = "data/cycles.jsonl"
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 20
	}
	if c.Trading.MinOrderUSDT <= 0 {
		c.Trading.MinOrderUSDT = 5
	}
	if len(c.Trading.Timeframes) == 0 {
		c.Trading.Timeframes = []Timeframe{
			{Interval: "5m", Candles: 200},
			{Interval: "15m", Candles: 100},
			{Interval: "1h", Candles: 48},
		}
	}
	if c.Safety.StopPct <= 0 {
		c.Safety.StopPct = 8
	}
	if c.Safety.TargetPct <= 0 {
		c.Safety.TargetPct = 15
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 30
	}
	if c.Cycle.DeadlineSeconds <= 0 {
		c.Cycle.DeadlineSeconds = 30
	}
	if c.Cycle.SentimentTimeoutSeconds <= 0 {
		c.Cycle.SentimentTimeoutSeconds = 15
	}
}

func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("TRADING_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				symbols = append(symbols, p)
			}
		}
		if len(symbols) > 0 {
			c.Trading.Symbols = symbols
		}
	}
}
