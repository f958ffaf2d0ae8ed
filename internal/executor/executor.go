package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"tradehook/internal/events"
	"tradehook/internal/limits"
	"tradehook/internal/notify"
	"tradehook/pkg/db"
	"tradehook/pkg/exchanges/common"
)

// ErrNoPosition marks a reverse attempted with nothing open.
var ErrNoPosition = errors.New("no open position")

// ExchangeError wraps a failed exchange call so HTTP handlers can branch
// on the kind without string matching.
type ExchangeError struct {
	Op  string
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Sizer yields an order quantity for a fresh entry.
type Sizer interface {
	Size(ctx context.Context, symbol string) float64
}

// StatsRecorder is the durable trade-statistics collaborator. Failures are
// logged, never escalated: statistics must not affect trading.
type StatsRecorder interface {
	RecordTrade(ctx context.Context, t db.TradeRecord) error
	UpdateTradeStatus(ctx context.Context, id, status string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64) (bool, error)
	OpenTrade(ctx context.Context, symbol string) (*db.TradeRecord, error)
}

// CloseResult describes a completed full close.
type CloseResult struct {
	Closed     bool
	Side       common.PositionSide
	EntryPrice float64
	Qty        float64
	PnL        float64
	PnLPercent float64
}

// Executor places market orders for open, reverse, partial-close and
// full-close operations, serialized per symbol. Every attempt that reaches
// the exchange is recorded with the limit guard and announced through the
// notifier.
type Executor struct {
	client   common.Client
	sizer    Sizer
	guard    *limits.Guard
	stats    StatsRecorder
	notifier notify.Notifier
	bus      *events.Bus
	now      func() time.Time
	locks    *keyedMutex
}

func New(client common.Client, sizer Sizer, guard *limits.Guard, stats StatsRecorder, notifier notify.Notifier, bus *events.Bus, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		client:   client,
		sizer:    sizer,
		guard:    guard,
		stats:    stats,
		notifier: notifier,
		bus:      bus,
		now:      now,
		locks:    newKeyedMutex(),
	}
}

// Open places a market entry order. A non-positive qty is sized from the
// configured minimum notional.
func (e *Executor) Open(ctx context.Context, symbol string, side common.PositionSide, qty float64) error {
	unlock := e.locks.lock(symbol)
	defer unlock()
	return e.openLocked(ctx, symbol, side, qty)
}

func (e *Executor) openLocked(ctx context.Context, symbol string, side common.PositionSide, qty float64) error {
	if qty <= 0 {
		qty = e.sizer.Size(ctx, symbol)
	}

	res, err := e.client.PlaceMarketOrder(ctx, symbol, side.EntrySide(), qty)
	if err != nil {
		e.recordFailure(symbol, "open", err)
		return &ExchangeError{Op: "open", Err: err}
	}

	entryPrice, perr := e.client.GetPrice(ctx, symbol)
	if perr != nil {
		log.Printf("executor: entry price for %s: %v", symbol, perr)
	}
	e.guard.RecordTrade(symbol, true, 0)
	e.recordStats(ctx, db.TradeRecord{
		Symbol:     symbol,
		Side:       string(side),
		Qty:        res.Qty,
		EntryPrice: entryPrice,
		EntryTime:  e.now(),
		Status:     db.TradeStatusOpen,
	})
	if e.bus != nil {
		e.bus.Publish(events.EventOrderExecuted, res)
	}
	e.notifier.Sendf("✅ Opened %s %s, qty %s", side, symbol, formatQty(qty))
	log.Printf("executor: opened %s %s qty=%s order=%s", side, symbol, formatQty(qty), res.ExchangeOrderID)
	return nil
}

// Reverse closes the current position and, only if the close succeeds,
// opens a freshly sized position on the opposite exposure. With no open
// position it fails without touching the exchange.
func (e *Executor) Reverse(ctx context.Context, symbol string, newSide common.PositionSide) error {
	unlock := e.locks.lock(symbol)
	defer unlock()

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return &ExchangeError{Op: "reverse", Err: err}
	}
	if pos == nil {
		log.Printf("executor: reverse %s: nothing open", symbol)
		return ErrNoPosition
	}
	return e.reverseLocked(ctx, symbol, pos, newSide)
}

// OpenOrReverse is the entry-signal operation: open when flat, reverse
// when positioned on the opposite side, and do nothing when already
// positioned in the requested direction.
func (e *Executor) OpenOrReverse(ctx context.Context, symbol string, side common.PositionSide) error {
	unlock := e.locks.lock(symbol)
	defer unlock()

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return &ExchangeError{Op: "open", Err: err}
	}
	if pos == nil {
		return e.openLocked(ctx, symbol, side, 0)
	}
	if pos.Side == side {
		log.Printf("executor: %s already positioned %s, skipping", symbol, side)
		return nil
	}
	return e.reverseLocked(ctx, symbol, pos, side)
}

// reverseLocked closes pos fully and opens newSide only when the close
// succeeded, so a failed close never leaves us exposed on both sides.
// Callers hold the symbol lock.
func (e *Executor) reverseLocked(ctx context.Context, symbol string, pos *common.Position, newSide common.PositionSide) error {
	if _, err := e.closeLocked(ctx, symbol, pos, math.Abs(pos.Amount), db.TradeStatusClosed); err != nil {
		return err
	}
	return e.openLocked(ctx, symbol, newSide, 0)
}

// PartialClose reduces the open position by percentage of its absolute
// size. No open position is a benign no-op.
func (e *Executor) PartialClose(ctx context.Context, symbol string, percentage float64, level string) error {
	unlock := e.locks.lock(symbol)
	defer unlock()

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return &ExchangeError{Op: "partial close", Err: err}
	}
	if pos == nil {
		log.Printf("executor: partial close %s: nothing open", symbol)
		return nil
	}

	precision, perr := e.client.GetSymbolPrecision(ctx, symbol)
	if perr != nil {
		precision = 5
	}
	qty := roundToPrecision(math.Abs(pos.Amount)*percentage/100, precision)
	if qty <= 0 {
		log.Printf("executor: partial close %s: rounded qty is zero", symbol)
		return nil
	}

	if _, err := e.closeLocked(ctx, symbol, pos, qty, level); err != nil {
		return err
	}
	e.notifier.Sendf("📉 %s partial close %s: %.2f%% (qty %s)", symbol, level, percentage, formatQty(qty))
	return nil
}

// FullClose closes the entire open position and reports realized PnL. No
// open position is a benign no-op with Closed=false.
func (e *Executor) FullClose(ctx context.Context, symbol string) (CloseResult, error) {
	unlock := e.locks.lock(symbol)
	defer unlock()

	pos, err := e.position(ctx, symbol)
	if err != nil {
		return CloseResult{}, &ExchangeError{Op: "full close", Err: err}
	}
	if pos == nil {
		log.Printf("executor: full close %s: nothing open", symbol)
		return CloseResult{}, nil
	}

	res, err := e.closeLocked(ctx, symbol, pos, math.Abs(pos.Amount), db.TradeStatusClosed)
	if err != nil {
		return CloseResult{}, err
	}
	e.notifier.Sendf("🏁 %s fully closed, PnL %.2f (%.2f%%)", symbol, res.PnL, res.PnLPercent)
	return res, nil
}

// closeLocked places the closing market order for qty and applies the
// guard/stats side effects. status selects the trade-record status the
// close is booked under. Callers hold the symbol lock.
func (e *Executor) closeLocked(ctx context.Context, symbol string, pos *common.Position, qty float64, status string) (CloseResult, error) {
	side := pos.Side.EntrySide().Opposite()

	if _, err := e.client.PlaceMarketOrder(ctx, symbol, side, qty); err != nil {
		e.recordFailure(symbol, "close", err)
		return CloseResult{}, &ExchangeError{Op: "close", Err: err}
	}

	direction := 1.0
	if pos.Amount < 0 {
		direction = -1
	}
	pnl := (pos.MarkPrice - pos.EntryPrice) * qty * direction
	pnlPercent := 0.0
	if pos.EntryPrice > 0 {
		pnlPercent = (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice * 100 * direction
	}

	e.guard.RecordTrade(symbol, true, pnl)
	e.updateStats(ctx, symbol, status, pos.MarkPrice, pnl, pnlPercent)
	if e.bus != nil {
		e.bus.Publish(events.EventPositionChange, symbol)
	}
	log.Printf("executor: closed %s qty=%s status=%s pnl=%.4f", symbol, formatQty(qty), status, pnl)

	return CloseResult{
		Closed:     true,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		Qty:        qty,
		PnL:        pnl,
		PnLPercent: pnlPercent,
	}, nil
}

// position returns the open position for symbol, nil when flat.
func (e *Executor) position(ctx context.Context, symbol string) (*common.Position, error) {
	positions, err := e.client.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Amount != 0 {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (e *Executor) recordFailure(symbol, op string, err error) {
	e.guard.RecordTrade(symbol, false, 0)
	if e.bus != nil {
		e.bus.Publish(events.EventOrderFailed, symbol)
	}
	e.notifier.Sendf("❌ %s %s failed: %v", symbol, op, err)
	log.Printf("executor: %s %s: %v", op, symbol, err)
}

func (e *Executor) recordStats(ctx context.Context, t db.TradeRecord) {
	if e.stats == nil {
		return
	}
	if err := e.stats.RecordTrade(ctx, t); err != nil {
		log.Printf("executor: record trade: %v", err)
	}
}

func (e *Executor) updateStats(ctx context.Context, symbol, status string, exitPrice, pnl, pnlPercent float64) {
	if e.stats == nil {
		return
	}
	open, err := e.stats.OpenTrade(ctx, symbol)
	if err != nil || open == nil {
		if err != nil {
			log.Printf("executor: lookup open trade: %v", err)
		}
		return
	}
	if _, err := e.stats.UpdateTradeStatus(ctx, open.ID, status, exitPrice, e.now(), pnl, pnlPercent); err != nil {
		log.Printf("executor: update trade status: %v", err)
	}
}

func roundToPrecision(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Floor(v*p) / p
}

func formatQty(q float64) string {
	return fmt.Sprintf("%g", q)
}
