package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLimitsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write limits file: %v", err)
	}
	return path
}

func TestLoadLimitsFull(t *testing.T) {
	path := writeLimitsFile(t, `
max_failed_trades: 5
max_daily_trades_per_symbol: 20
max_open_positions: 8
reentry_window: 2h30m
reentry_max_attempts: 2
min_notional: 50.0
default_risk_percent: 0.5
default_quantity_precision: 4
`)
	l, err := LoadLimits(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.MaxFailedTrades != 5 || l.MaxDailyTrades != 20 || l.MaxOpenPositions != 8 {
		t.Errorf("counts = %+v", l)
	}
	if l.ReentryWindow != 2*time.Hour+30*time.Minute {
		t.Errorf("window = %v", l.ReentryWindow)
	}
	if l.MinNotional != 50 || l.DefaultRiskPercent != 0.5 || l.QuantityPrecision != 4 {
		t.Errorf("sizing = %+v", l)
	}
}

func TestLoadLimitsPartialKeepsDefaults(t *testing.T) {
	path := writeLimitsFile(t, "max_failed_trades: 7\n")
	l, err := LoadLimits(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultLimits()
	if l.MaxFailedTrades != 7 {
		t.Errorf("max failed = %d", l.MaxFailedTrades)
	}
	if l.MaxDailyTrades != def.MaxDailyTrades || l.ReentryWindow != def.ReentryWindow || l.MinNotional != def.MinNotional {
		t.Errorf("defaults not kept: %+v", l)
	}
}

func TestLoadLimitsBadDuration(t *testing.T) {
	path := writeLimitsFile(t, "reentry_window: soon\n")
	if _, err := LoadLimits(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadLimitsMissingFile(t *testing.T) {
	l, err := LoadLimits(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if l != DefaultLimits() {
		t.Errorf("missing file must return defaults, got %+v", l)
	}
}
