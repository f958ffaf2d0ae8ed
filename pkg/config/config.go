package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the signal engine.
type Config struct {
	Port string

	// Binance futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Env credentials are a deployment fallback used when no user has
	// connected keys through the API. Disable for multi-user deployments.
	AllowEnvCredentials bool

	// Notifications
	DiscordWebhookURL string

	// Trading limits (overridable via limits.yaml, see LoadLimits)
	Limits Limits

	// Signal processing
	SignalTimeout time.Duration

	// Trade statistics store
	DBPath string
}

// Limits bundles the guard, re-entry and sizing parameters.
type Limits struct {
	MaxFailedTrades    int
	MaxDailyTrades     int
	MaxOpenPositions   int
	ReentryWindow      time.Duration
	ReentryMaxAttempts int
	MinNotional        float64
	DefaultRiskPercent float64
	QuantityPrecision  int
}

// UnmarshalYAML decodes a limits file. The re-entry window is written as a
// duration string ("4h", "30m").
func (l *Limits) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxFailedTrades    int     `yaml:"max_failed_trades"`
		MaxDailyTrades     int     `yaml:"max_daily_trades_per_symbol"`
		MaxOpenPositions   int     `yaml:"max_open_positions"`
		ReentryWindow      string  `yaml:"reentry_window"`
		ReentryMaxAttempts int     `yaml:"reentry_max_attempts"`
		MinNotional        float64 `yaml:"min_notional"`
		DefaultRiskPercent float64 `yaml:"default_risk_percent"`
		QuantityPrecision  int     `yaml:"default_quantity_precision"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	l.MaxFailedTrades = raw.MaxFailedTrades
	l.MaxDailyTrades = raw.MaxDailyTrades
	l.MaxOpenPositions = raw.MaxOpenPositions
	l.ReentryMaxAttempts = raw.ReentryMaxAttempts
	l.MinNotional = raw.MinNotional
	l.DefaultRiskPercent = raw.DefaultRiskPercent
	l.QuantityPrecision = raw.QuantityPrecision
	if raw.ReentryWindow != "" {
		d, err := time.ParseDuration(raw.ReentryWindow)
		if err != nil {
			return fmt.Errorf("reentry_window: %w", err)
		}
		l.ReentryWindow = d
	}
	return nil
}

// DefaultLimits returns the reference limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxFailedTrades:    3,
		MaxDailyTrades:     10,
		MaxOpenPositions:   5,
		ReentryWindow:      4 * time.Hour,
		ReentryMaxAttempts: 3,
		MinNotional:        25.0,
		DefaultRiskPercent: 1.0,
		QuantityPrecision:  5,
	}
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	limits := DefaultLimits()
	if path := getEnv("LIMITS_FILE", "limits.yaml"); path != "" {
		if l, err := LoadLimits(path); err == nil {
			limits = l
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load limits file %s: %w", path, err)
		}
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		BinanceTestnet:      getEnv("BINANCE_TESTNET", "true") == "true",
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		AllowEnvCredentials: getEnv("ALLOW_ENV_CREDENTIALS", "true") == "true",
		DiscordWebhookURL:   os.Getenv("DISCORD_WEBHOOK_URL"),
		Limits:              limits,
		SignalTimeout:       time.Duration(getEnvInt("SIGNAL_TIMEOUT_SECONDS", 15)) * time.Second,
		DBPath:              getEnv("DB_PATH", "./data/trades.db"),
	}, nil
}

// LoadLimits reads limit overrides from a YAML file. Zero-valued fields fall
// back to the reference defaults so a partial file stays valid.
func LoadLimits(path string) (Limits, error) {
	def := DefaultLimits()
	raw, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	l := def
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return def, fmt.Errorf("parse limits yaml: %w", err)
	}
	if l.MaxFailedTrades <= 0 {
		l.MaxFailedTrades = def.MaxFailedTrades
	}
	if l.MaxDailyTrades <= 0 {
		l.MaxDailyTrades = def.MaxDailyTrades
	}
	if l.MaxOpenPositions <= 0 {
		l.MaxOpenPositions = def.MaxOpenPositions
	}
	if l.ReentryWindow <= 0 {
		l.ReentryWindow = def.ReentryWindow
	}
	if l.ReentryMaxAttempts <= 0 {
		l.ReentryMaxAttempts = def.ReentryMaxAttempts
	}
	if l.MinNotional <= 0 {
		l.MinNotional = def.MinNotional
	}
	if l.DefaultRiskPercent <= 0 {
		l.DefaultRiskPercent = def.DefaultRiskPercent
	}
	if l.QuantityPrecision <= 0 {
		l.QuantityPrecision = def.QuantityPrecision
	}
	return l, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
