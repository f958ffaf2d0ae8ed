package signal

import (
	"fmt"
	"strconv"
	"strings"

	"tradehook/pkg/exchanges/common"
)

// Kind is the closed set of alert kinds the webhook accepts.
type Kind string

const (
	KindBuy       Kind = "buy"
	KindSmartBuy  Kind = "smart_buy"
	KindSell      Kind = "sell"
	KindSmartSell Kind = "smart_sell"
	KindTP1       Kind = "tp1"
	KindTP2       Kind = "tp2"
	KindTP3       Kind = "tp3"
)

// ParseKind resolves a raw signal string to a Kind.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindBuy, KindSmartBuy, KindSell, KindSmartSell, KindTP1, KindTP2, KindTP3:
		return k, true
	}
	return "", false
}

// IsSmart reports whether the kind is a trend-gated entry variant.
func (k Kind) IsSmart() bool {
	return k == KindSmartBuy || k == KindSmartSell
}

// IsTakeProfit reports whether the kind closes (part of) a position.
func (k Kind) IsTakeProfit() bool {
	return k == KindTP1 || k == KindTP2 || k == KindTP3
}

// Base strips the smart_ prefix, leaving the directional base kind.
func (k Kind) Base() Kind {
	return Kind(strings.TrimPrefix(string(k), "smart_"))
}

// Side returns the implied position side of an entry kind. Take-profit
// kinds have no implied side.
func (k Kind) Side() (common.PositionSide, bool) {
	switch k.Base() {
	case KindBuy:
		return common.PositionLong, true
	case KindSell:
		return common.PositionShort, true
	}
	return "", false
}

// Signal is a normalized, validated alert. Immutable once built.
type Signal struct {
	Kind        Kind
	Symbol      string
	Price       float64
	ATR         float64
	RiskPercent float64
}

// ValidationError reports a payload that decoded fine but fails the
// logical schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: field %q %s", e.Field, e.Reason)
}

// FromMapping validates a decoded payload and builds a Signal. Required
// keys are "signal" and "symbol"; price, atr and risk are optional and
// tolerated as either strings or numbers.
func FromMapping(m map[string]any) (Signal, error) {
	rawKind := stringField(m, "signal")
	if rawKind == "" {
		return Signal{}, &ValidationError{Field: "signal", Reason: "is required"}
	}
	kind, ok := ParseKind(rawKind)
	if !ok {
		return Signal{}, &ValidationError{Field: "signal", Reason: fmt.Sprintf("has unknown value %q", rawKind)}
	}
	symbol := strings.ToUpper(stringField(m, "symbol"))
	if symbol == "" {
		return Signal{}, &ValidationError{Field: "symbol", Reason: "is required"}
	}

	s := Signal{
		Kind:        kind,
		Symbol:      symbol,
		Price:       floatField(m, "price"),
		ATR:         floatField(m, "atr"),
		RiskPercent: 1.0,
	}
	if r := floatField(m, "risk"); r > 0 {
		s.RiskPercent = r
	}
	return s, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case nil:
		return 0
	default:
		f, err := strconv.ParseFloat(fmt.Sprint(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
}
