package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tradehook/pkg/config"
	"tradehook/pkg/exchanges/common"
)

type stubExchange struct {
	accountErr error
	canTrade   bool
}

func (s *stubExchange) GetPositions(context.Context, string) ([]common.Position, error) {
	return nil, nil
}

func (s *stubExchange) PlaceMarketOrder(context.Context, string, common.Side, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}

func (s *stubExchange) GetSymbolPrecision(context.Context, string) (int, error) { return 3, nil }
func (s *stubExchange) GetPrice(context.Context, string) (float64, error)       { return 100, nil }
func (s *stubExchange) GetAccountInfo(context.Context) (common.AccountInfo, error) {
	return common.AccountInfo{CanTrade: s.canTrade}, s.accountErr
}

const (
	validKey    = "0123456789012345678901234567890123456789"
	validSecret = "abcdefghijabcdefghijabcdefghijabcdefghij"
)

func newTestEngine(exchange *stubExchange) *Engine {
	cfg := &config.Config{BinanceTestnet: true}
	return New(cfg, func(string, string, bool) common.Client { return exchange }, nil, nil)
}

func TestConnectValidatesAndPromotes(t *testing.T) {
	e := newTestEngine(&stubExchange{canTrade: true})
	ctx := context.Background()

	if err := e.Connect(ctx, "alice", "short", "short"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := e.Connect(ctx, "alice", validKey, validSecret); err != nil {
		t.Fatalf("connect: %v", err)
	}
	st := e.Status()
	if st.ActiveUser != "alice" || st.Status != StatusStopped {
		t.Errorf("status = %+v", st)
	}

	s, ok := e.SessionOf("alice")
	if !ok {
		t.Fatal("session missing")
	}
	if strings.Contains(s.MaskedKey, validKey[5:35]) {
		t.Errorf("masked key leaks material: %q", s.MaskedKey)
	}

	// Second user connects but alice stays active.
	if err := e.Connect(ctx, "bob", validKey, validSecret); err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	if e.Status().ActiveUser != "alice" {
		t.Errorf("active = %q, want alice", e.Status().ActiveUser)
	}
}

func TestConnectLiveTestFailure(t *testing.T) {
	e := newTestEngine(&stubExchange{accountErr: errors.New("401")})
	if err := e.Connect(context.Background(), "alice", validKey, validSecret); err == nil {
		t.Fatal("expected live credential test to fail")
	}
	if _, ok := e.SessionOf("alice"); ok {
		t.Error("failed connect must not register a session")
	}
}

func TestStartRequiresCredentials(t *testing.T) {
	e := newTestEngine(&stubExchange{canTrade: true})
	if err := e.Start(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}

	if err := e.Connect(context.Background(), "alice", validKey, validSecret); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.Running() {
		t.Error("engine should be running")
	}

	e.Stop()
	if e.Running() {
		t.Error("engine should be stopped")
	}
}

func TestStartEnvFallback(t *testing.T) {
	exchange := &stubExchange{canTrade: true}
	cfg := &config.Config{
		BinanceTestnet:      true,
		AllowEnvCredentials: true,
		BinanceAPIKey:       validKey,
		BinanceAPISecret:    validSecret,
	}
	e := New(cfg, func(string, string, bool) common.Client { return exchange }, nil, nil)

	if err := e.Start(); err != nil {
		t.Fatalf("start with env credentials: %v", err)
	}
	if e.Status().ActiveUser != "env" {
		t.Errorf("active = %q, want env", e.Status().ActiveUser)
	}
}

func TestDisconnectActiveStopsTrading(t *testing.T) {
	e := newTestEngine(&stubExchange{canTrade: true})
	ctx := context.Background()

	if err := e.Connect(ctx, "alice", validKey, validSecret); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Disconnect("alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if e.Running() {
		t.Error("engine must stop when the active session goes away")
	}
	if _, err := e.ActiveClient(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}

	if err := e.Disconnect("ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestClientProxyWithoutSession(t *testing.T) {
	e := newTestEngine(&stubExchange{canTrade: true})
	proxy := e.Client()
	if _, err := proxy.GetPrice(context.Background(), "BTCUSDT"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	if _, err := proxy.OpenPositionCount(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}
