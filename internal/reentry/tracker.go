package reentry

import (
	"log"
	"sync"
	"time"

	"tradehook/internal/events"
	"tradehook/pkg/config"
	"tradehook/pkg/exchanges/common"
)

// State is one symbol's re-entry state. A symbol is Idle until a position
// closes at its final take-profit level, then waits for a matching
// follow-up signal inside the window.
type State struct {
	Waiting        bool                `json:"waiting"`
	LastSide       common.PositionSide `json:"last_side,omitempty"`
	LastClosedAt   time.Time           `json:"last_closed_at,omitempty"`
	Attempts       int                 `json:"attempts"`
	ReferencePrice float64             `json:"reference_price,omitempty"`
}

// Tracker decides whether a fresh entry signal should be treated as a
// re-entry after a prior full close.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	now    func() time.Time
	bus    *events.Bus
	states map[string]*State
}

// NewTracker creates a tracker. The clock is injected for testability.
func NewTracker(cfg config.Limits, bus *events.Bus, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		window: cfg.ReentryWindow,
		max:    cfg.ReentryMaxAttempts,
		now:    now,
		bus:    bus,
		states: make(map[string]*State),
	}
}

// Arm records a full close for symbol and starts waiting for a matching
// re-entry signal. Attempts restart at zero on every arm.
func (t *Tracker) Arm(symbol string, side common.PositionSide, referencePrice float64) {
	t.mu.Lock()
	t.states[symbol] = &State{
		Waiting:        true,
		LastSide:       side,
		LastClosedAt:   t.now(),
		ReferencePrice: referencePrice,
	}
	t.mu.Unlock()

	log.Printf("reentry: %s armed, side=%s ref=%.4f", symbol, side, referencePrice)
	if t.bus != nil {
		t.bus.Publish(events.EventReentryArmed, symbol)
	}
}

// Trigger reports whether an entry signal with the given side is a
// re-entry for symbol. A stale window expires the state; a side mismatch
// keeps waiting without consuming an attempt; a match consumes one and
// the third match returns the state to idle.
func (t *Tracker) Trigger(symbol string, side common.PositionSide) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[symbol]
	if !ok || !s.Waiting {
		return false
	}
	if t.now().Sub(s.LastClosedAt) > t.window {
		*s = State{}
		log.Printf("reentry: %s window expired", symbol)
		return false
	}
	if side != s.LastSide {
		return false
	}

	s.Attempts++
	if s.Attempts >= t.max {
		s.Waiting = false
	}
	log.Printf("reentry: %s triggered, attempt %d/%d", symbol, s.Attempts, t.max)
	if t.bus != nil {
		t.bus.Publish(events.EventReentryTrigger, symbol)
	}
	return true
}

// StateOf returns a copy of the symbol's state.
func (t *Tracker) StateOf(symbol string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[symbol]; ok {
		return *s
	}
	return State{}
}

// Snapshot copies all non-idle states for status endpoints.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State)
	for sym, s := range t.states {
		if s.Waiting {
			out[sym] = *s
		}
	}
	return out
}
