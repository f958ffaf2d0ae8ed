package sizing

import (
	"context"
	"log"
	"math"

	"tradehook/pkg/config"
)

// PriceSource is the slice of exchange capability the sizer needs.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolPrecision(ctx context.Context, symbol string) (int, error)
}

// Quantity floors for assets whose lot sizes make tiny rounded quantities
// illegal. Anything else falls back to defaultFloor.
var quantityFloors = map[string]float64{
	"DOGEUSDT":     10,
	"XRPUSDT":      1,
	"ADAUSDT":      1,
	"SHIBUSDT":     100000,
	"1000PEPEUSDT": 100,
}

const defaultFloor = 0.001

// Sizer converts the configured minimum notional into an exchange-legal
// base-asset quantity. It never fails: every lookup error degrades to a
// safe floor quantity.
type Sizer struct {
	prices      PriceSource
	minNotional float64
	defaultPrec int
}

func NewSizer(cfg config.Limits, prices PriceSource) *Sizer {
	return &Sizer{
		prices:      prices,
		minNotional: cfg.MinNotional,
		defaultPrec: cfg.QuantityPrecision,
	}
}

// Size returns a positive, precision-legal order quantity for symbol whose
// notional meets the configured minimum.
func (s *Sizer) Size(ctx context.Context, symbol string) float64 {
	price, err := s.prices.GetPrice(ctx, symbol)
	if err != nil || price <= 0 {
		log.Printf("sizing: price lookup for %s failed (%v), using floor", symbol, err)
		return floorFor(symbol)
	}

	precision, err := s.prices.GetSymbolPrecision(ctx, symbol)
	if err != nil || precision < 0 {
		precision = s.defaultPrec
	}

	qty := roundToPrecision(s.minNotional/price, precision)
	if qty <= 0 {
		qty = floorFor(symbol)
	}
	if qty*price < s.minNotional {
		// 10% headroom so rounding losses cannot drop us under the minimum
		qty = roundToPrecision(qty*1.10, precision)
		if qty <= 0 {
			qty = floorFor(symbol)
		}
	}
	return qty
}

func floorFor(symbol string) float64 {
	if f, ok := quantityFloors[symbol]; ok {
		return f
	}
	return defaultFloor
}

func roundToPrecision(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
