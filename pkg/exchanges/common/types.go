package common

import "context"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an order side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide denotes the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// EntrySide maps a position direction to the order side that opens it.
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// Position is a snapshot of an open position as reported by the exchange.
// Amount is signed: positive for long, negative for short, never zero.
type Position struct {
	Symbol     string
	Side       PositionSide
	Amount     float64
	EntryPrice float64
	MarkPrice  float64
}

// OrderResult returns the exchange ack for a placed order.
type OrderResult struct {
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Qty             float64
	Status          string
}

// AccountInfo is the subset of account state used to live-test credentials.
type AccountInfo struct {
	CanTrade           bool
	TotalWalletBalance string
}

// Client abstracts the exchange operations the signal engine needs.
// Implementations must honor the context deadline on every call.
type Client interface {
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderResult, error)
	GetSymbolPrecision(ctx context.Context, symbol string) (int, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
}
