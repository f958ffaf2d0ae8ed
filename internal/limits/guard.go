package limits

import (
	"context"
	"log"
	"sync"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/notify"
	"tradehook/pkg/config"
)

// PositionCounter reports how many positions are currently open on the
// exchange. Queried live so the cap reflects manual closes too.
type PositionCounter interface {
	OpenPositionCount(ctx context.Context) (int, error)
}

// SymbolCounters tracks one symbol's activity for the current day.
type SymbolCounters struct {
	TradeCount    int     `json:"trade_count"`
	FailedCount   int     `json:"failed_count"`
	CumulativePnL float64 `json:"cumulative_pnl"`
}

// Snapshot is a read-only view of the guard state for status endpoints.
type Snapshot struct {
	Date     string                    `json:"date"`
	Counters map[string]SymbolCounters `json:"counters"`
	Blocked  []string                  `json:"blocked"`
	Limits   config.Limits             `json:"limits"`
}

// Guard enforces per-symbol daily trading limits: a circuit breaker after
// repeated failures, a daily trade cap, and a global open-position cap.
// Counters are in-memory and keyed by the current UTC date; the key rolls
// lazily on first access after midnight.
type Guard struct {
	mu        sync.Mutex
	cfg       config.Limits
	now       func() time.Time
	positions PositionCounter
	notifier  notify.Notifier
	bus       *events.Bus

	date     string
	counters map[string]*SymbolCounters
	blocked  map[string]struct{}
}

// NewGuard creates a guard. The clock is injected for testability.
func NewGuard(cfg config.Limits, positions PositionCounter, notifier notify.Notifier, bus *events.Bus, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		cfg:       cfg,
		now:       now,
		positions: positions,
		notifier:  notifier,
		bus:       bus,
		counters:  make(map[string]*SymbolCounters),
		blocked:   make(map[string]struct{}),
	}
	g.date = g.today()
	return g
}

func (g *Guard) today() string {
	return g.now().UTC().Format("2006-01-02")
}

// rollDateLocked starts a fresh day if the date key is stale. Callers hold mu.
func (g *Guard) rollDateLocked() {
	if today := g.today(); today != g.date {
		g.date = today
		g.counters = make(map[string]*SymbolCounters)
		g.blocked = make(map[string]struct{})
		if g.bus != nil {
			g.bus.Publish(events.EventCountersReset, today)
		}
	}
}

func (g *Guard) counterLocked(symbol string) *SymbolCounters {
	c, ok := g.counters[symbol]
	if !ok {
		c = &SymbolCounters{}
		g.counters[symbol] = c
	}
	return c
}

// CanTrade reports whether a new trade on symbol is currently allowed.
// When it is not, the second return value names the limit that was hit.
func (g *Guard) CanTrade(ctx context.Context, symbol string) (bool, string) {
	g.mu.Lock()
	g.rollDateLocked()
	if _, blocked := g.blocked[symbol]; blocked {
		g.mu.Unlock()
		return false, "symbol blocked by circuit breaker"
	}
	if c, ok := g.counters[symbol]; ok && c.TradeCount >= g.cfg.MaxDailyTrades {
		g.mu.Unlock()
		return false, "daily trade limit reached"
	}
	g.mu.Unlock()

	// Live exchange query, kept outside the lock.
	open, err := g.positions.OpenPositionCount(ctx)
	if err != nil {
		log.Printf("limits: open position count: %v", err)
		return false, "position count unavailable"
	}
	if open >= g.cfg.MaxOpenPositions {
		return false, "max open positions reached"
	}
	return true, ""
}

// RecordTrade counts one trade attempt for symbol. A failed trade advances
// the circuit breaker; a successful one accumulates realized PnL.
func (g *Guard) RecordTrade(symbol string, success bool, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDateLocked()

	c := g.counterLocked(symbol)
	c.TradeCount++
	if success {
		c.CumulativePnL += pnl
		return
	}

	c.FailedCount++
	if c.FailedCount < g.cfg.MaxFailedTrades {
		return
	}
	if _, already := g.blocked[symbol]; already {
		return
	}
	g.blocked[symbol] = struct{}{}
	log.Printf("limits: %s blocked after %d failed trades", symbol, c.FailedCount)
	if g.bus != nil {
		g.bus.Publish(events.EventSymbolBlocked, symbol)
	}
	if g.notifier != nil {
		g.notifier.Sendf("🚫 %s blocked for today after %d failed trades", symbol, c.FailedCount)
	}
}

// ResetDaily starts a fresh day. When the stamped date is already current
// the call is a no-op, so the periodic ticker can never wipe counters the
// lazy roll already accounted to today.
func (g *Guard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDateLocked()
}

// Snapshot copies the current guard state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDateLocked()

	s := Snapshot{
		Date:     g.date,
		Counters: make(map[string]SymbolCounters, len(g.counters)),
		Blocked:  make([]string, 0, len(g.blocked)),
		Limits:   g.cfg,
	}
	for sym, c := range g.counters {
		s.Counters[sym] = *c
	}
	for sym := range g.blocked {
		s.Blocked = append(s.Blocked, sym)
	}
	return s
}
