package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/limits"
	"tradehook/internal/reentry"
	"tradehook/internal/signal"
	"tradehook/pkg/exchanges/common"
)

// ErrNotRunning rejects signals while the engine is stopped.
var ErrNotRunning = errors.New("trading engine is not running")

// ErrTrendMisaligned rejects a smart entry whose direction contradicts the
// trend evaluation. Counted as a failed trade.
var ErrTrendMisaligned = errors.New("signal direction misaligned with trend")

// LimitError is a guard rejection: the trade never reached the exchange.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string {
	return "trading limit: " + e.Reason
}

// TrendEvaluator gates smart entry variants on trend alignment. The
// default implementation is neutral and never rejects; the seam exists so
// a real evaluation can be plugged in.
type TrendEvaluator interface {
	Aligned(ctx context.Context, sym string, side common.PositionSide) bool
}

// NeutralTrend reports every direction as aligned.
type NeutralTrend struct{}

func (NeutralTrend) Aligned(context.Context, string, common.PositionSide) bool { return true }

// Partial close percentages for the first two take-profit levels.
const (
	tp1Percent = 33.33
	tp2Percent = 50.0
)

// Dispatcher routes a normalized signal through the limit guard, the
// trend gate and the re-entry tracker to the executor.
type Dispatcher struct {
	running  func() bool
	guard    *limits.Guard
	tracker  *reentry.Tracker
	executor *executor.Executor
	trend    TrendEvaluator
	bus      *events.Bus
}

func New(running func() bool, guard *limits.Guard, tracker *reentry.Tracker, exec *executor.Executor, trend TrendEvaluator, bus *events.Bus) *Dispatcher {
	if trend == nil {
		trend = NeutralTrend{}
	}
	return &Dispatcher{
		running:  running,
		guard:    guard,
		tracker:  tracker,
		executor: exec,
		trend:    trend,
		bus:      bus,
	}
}

// Dispatch executes one signal end to end and returns the action taken.
func (d *Dispatcher) Dispatch(ctx context.Context, sig signal.Signal) (string, error) {
	if d.bus != nil {
		d.bus.Publish(events.EventSignalReceived, sig)
	}

	if !d.running() {
		return "", ErrNotRunning
	}

	if ok, reason := d.guard.CanTrade(ctx, sig.Symbol); !ok {
		if d.bus != nil {
			d.bus.Publish(events.EventSignalRejected, sig.Symbol)
		}
		return "", &LimitError{Reason: reason}
	}

	side, hasSide := sig.Kind.Side()

	if sig.Kind.IsSmart() && hasSide && !d.trend.Aligned(ctx, sig.Symbol, side) {
		d.guard.RecordTrade(sig.Symbol, false, 0)
		return "", ErrTrendMisaligned
	}

	// A matching re-entry fires its own trade and the current signal still
	// dispatches normally below.
	if hasSide && d.tracker.Trigger(sig.Symbol, side) {
		if err := d.executor.Open(ctx, sig.Symbol, side, 0); err != nil {
			log.Printf("dispatch: re-entry trade for %s: %v", sig.Symbol, err)
		}
	}

	switch sig.Kind {
	case signal.KindBuy, signal.KindSmartBuy:
		return "open_long", d.executor.OpenOrReverse(ctx, sig.Symbol, common.PositionLong)
	case signal.KindSell, signal.KindSmartSell:
		return "open_short", d.executor.OpenOrReverse(ctx, sig.Symbol, common.PositionShort)
	case signal.KindTP1:
		return "partial_close", d.executor.PartialClose(ctx, sig.Symbol, tp1Percent, "TP1")
	case signal.KindTP2:
		return "partial_close", d.executor.PartialClose(ctx, sig.Symbol, tp2Percent, "TP2")
	case signal.KindTP3:
		res, err := d.executor.FullClose(ctx, sig.Symbol)
		if err != nil {
			return "", err
		}
		if res.Closed {
			d.tracker.Arm(sig.Symbol, res.Side, res.EntryPrice)
		}
		return "full_close", nil
	}
	return "", fmt.Errorf("unhandled signal kind %q", sig.Kind)
}
