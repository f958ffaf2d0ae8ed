package sizing

import (
	"context"
	"errors"
	"testing"

	"tradehook/pkg/config"
)

type stubPrices struct {
	price     float64
	precision int
	priceErr  error
	precErr   error
}

func (s *stubPrices) GetPrice(context.Context, string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubPrices) GetSymbolPrecision(context.Context, string) (int, error) {
	return s.precision, s.precErr
}

func TestSizeRoundsToPrecision(t *testing.T) {
	s := NewSizer(config.DefaultLimits(), &stubPrices{price: 100, precision: 3})

	qty := s.Size(context.Background(), "TESTUSDT")
	if qty != 0.25 {
		t.Fatalf("qty = %v, want 0.25", qty)
	}
	if notional := qty * 100; notional < 25 {
		t.Errorf("notional = %v, want >= 25", notional)
	}
}

func TestSizeHeadroomWhenRoundingUndershoots(t *testing.T) {
	// 25 / 77777 rounds at precision 0 to 0, then the floor applies.
	s := NewSizer(config.DefaultLimits(), &stubPrices{price: 77777, precision: 0})
	qty := s.Size(context.Background(), "TESTUSDT")
	if qty <= 0 {
		t.Fatalf("qty = %v, want > 0", qty)
	}
}

func TestSizePriceFailureFallsBack(t *testing.T) {
	s := NewSizer(config.DefaultLimits(), &stubPrices{priceErr: errors.New("down")})

	if qty := s.Size(context.Background(), "TESTUSDT"); qty != defaultFloor {
		t.Errorf("qty = %v, want default floor %v", qty, defaultFloor)
	}
	if qty := s.Size(context.Background(), "DOGEUSDT"); qty != 10 {
		t.Errorf("DOGEUSDT floor = %v, want 10", qty)
	}
}

func TestSizePrecisionFailureUsesDefault(t *testing.T) {
	s := NewSizer(config.DefaultLimits(), &stubPrices{price: 5, precErr: errors.New("down")})

	qty := s.Size(context.Background(), "TESTUSDT")
	if qty != 5 {
		t.Errorf("qty = %v, want 5 at default precision", qty)
	}
}
