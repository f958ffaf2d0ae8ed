package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradehook/internal/dispatch"
	"tradehook/internal/engine"
	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/limits"
	"tradehook/internal/notify"
	"tradehook/internal/reentry"
	"tradehook/internal/sizing"
	"tradehook/pkg/config"
	"tradehook/pkg/db"
	"tradehook/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	testKey    = "0123456789012345678901234567890123456789"
	testSecret = "abcdefghijabcdefghijabcdefghijabcdefghij"
)

type placedOrder struct {
	Symbol string
	Side   common.Side
	Qty    float64
}

type fakeExchange struct {
	positions []common.Position
	placed    []placedOrder
	price     float64
}

func (f *fakeExchange) GetPositions(_ context.Context, symbol string) ([]common.Position, error) {
	var out []common.Position
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	f.placed = append(f.placed, placedOrder{Symbol: symbol, Side: side, Qty: qty})
	return common.OrderResult{
		ExchangeOrderID: fmt.Sprint(len(f.placed)),
		Symbol:          symbol, Side: side, Qty: qty, Status: "FILLED",
	}, nil
}

func (f *fakeExchange) GetSymbolPrecision(context.Context, string) (int, error) { return 3, nil }
func (f *fakeExchange) GetPrice(context.Context, string) (float64, error)       { return f.price, nil }
func (f *fakeExchange) GetAccountInfo(context.Context) (common.AccountInfo, error) {
	return common.AccountInfo{CanTrade: true}, nil
}

type testStack struct {
	server   *httptest.Server
	exchange *fakeExchange
	database *db.Database
	tracker  *reentry.Tracker
	guard    *limits.Guard
	bus      *events.Bus
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	exchange := &fakeExchange{price: 50000}
	cfg := &config.Config{
		BinanceTestnet: true,
		Limits:         config.DefaultLimits(),
		SignalTimeout:  5 * time.Second,
	}

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.ApplyMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	eng := engine.New(cfg, func(string, string, bool) common.Client { return exchange }, bus, nil)
	proxy := eng.Client()
	guard := limits.NewGuard(cfg.Limits, proxy, notify.Noop{}, bus, nil)
	tracker := reentry.NewTracker(cfg.Limits, bus, nil)
	sizer := sizing.NewSizer(cfg.Limits, proxy)
	exec := executor.New(proxy, sizer, guard, database, notify.Noop{}, bus, nil)
	dispatcher := dispatch.New(eng.Running, guard, tracker, exec, nil, bus)

	srv := NewServer(cfg, bus, database, eng, guard, tracker, dispatcher)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return &testStack{
		server:   ts,
		exchange: exchange,
		database: database,
		tracker:  tracker,
		guard:    guard,
		bus:      bus,
	}
}

func (s *testStack) postJSON(t *testing.T, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := http.Post(s.server.URL+path, "application/json", &body)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *testStack) connectAndStart(t *testing.T) {
	t.Helper()
	resp, body := s.postJSON(t, "/api/keys", map[string]string{
		"user_id": "alice", "action": "connect",
		"api_key": testKey, "secret_key": testSecret,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %v", resp.StatusCode, body)
	}
	resp, body = s.postJSON(t, "/api/bot/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestStack(t)
	resp, err := http.Get(s.server.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWebhookRejectedWhileStopped(t *testing.T) {
	s := newTestStack(t)
	resp, body := s.postJSON(t, "/webhook", map[string]string{"signal": "buy", "symbol": "BTCUSDT"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestWebhookParseFailure(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	resp, err := http.Post(s.server.URL+"/webhook", "application/json", strings.NewReader("garbage"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWebhookMissingSymbol(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	resp, _ := s.postJSON(t, "/webhook", map[string]string{"signal": "buy"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWebhookBuyOpensPosition(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	resp, body := s.postJSON(t, "/webhook", map[string]string{"signal": "buy", "symbol": "BTCUSDT"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["status"] != "ok" || body["symbol"] != "BTCUSDT" {
		t.Errorf("body = %v", body)
	}
	if len(s.exchange.placed) != 1 || s.exchange.placed[0].Side != common.SideBuy {
		t.Errorf("orders = %+v", s.exchange.placed)
	}
}

func TestWebhookCircuitBreakerReturns429(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	for i := 0; i < 3; i++ {
		s.guard.RecordTrade("BTCUSDT", false, 0)
	}
	resp, _ := s.postJSON(t, "/webhook", map[string]string{"signal": "buy", "symbol": "BTCUSDT"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestWebhookTP3FullCloseFlow(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	// Open first so a trade record exists, then simulate the exchange
	// position having run up to 52000.
	if resp, body := s.postJSON(t, "/webhook", map[string]string{"signal": "buy", "symbol": "BTCUSDT"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("buy: %d %v", resp.StatusCode, body)
	}
	s.exchange.positions = []common.Position{{
		Symbol: "BTCUSDT", Side: common.PositionLong,
		Amount: 0.01, EntryPrice: 50000, MarkPrice: 52000,
	}}

	resp, body := s.postJSON(t, "/webhook", map[string]string{"signal": "tp3", "symbol": "BTCUSDT"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tp3: %d %v", resp.StatusCode, body)
	}
	if body["action"] != "full_close" {
		t.Errorf("action = %v", body["action"])
	}

	// Realized PnL lands in the guard counters.
	c := s.guard.Snapshot().Counters["BTCUSDT"]
	if math.Abs(c.CumulativePnL-20) > 1e-9 {
		t.Errorf("cumulative pnl = %v, want 20", c.CumulativePnL)
	}

	// The tracker is armed for a Long re-entry.
	st := s.tracker.StateOf("BTCUSDT")
	if !st.Waiting || st.LastSide != common.PositionLong {
		t.Errorf("tracker state = %+v", st)
	}

	// The durable trade record is closed with the PnL.
	summary, err := s.database.Summarize(context.Background(), 0)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTrades != 1 || math.Abs(summary.TotalPnL-20) > 1e-9 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestKeysValidation(t *testing.T) {
	s := newTestStack(t)

	resp, _ := s.postJSON(t, "/api/keys", map[string]string{
		"user_id": "alice", "action": "connect",
		"api_key": "short", "secret_key": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short keys: status = %d", resp.StatusCode)
	}

	resp, body := s.postJSON(t, "/api/keys", map[string]string{"user_id": "alice", "action": "status"})
	if resp.StatusCode != http.StatusOK || body["connected"] != false {
		t.Errorf("status: %d %v", resp.StatusCode, body)
	}

	resp, _ = s.postJSON(t, "/api/keys", map[string]string{"user_id": "alice", "action": "reboot"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action: status = %d", resp.StatusCode)
	}
}

func TestStartWithoutCredentials(t *testing.T) {
	s := newTestStack(t)
	resp, _ := s.postJSON(t, "/api/bot/start", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestBotStatusAndStop(t *testing.T) {
	s := newTestStack(t)
	s.connectAndStart(t)

	resp, err := http.Get(s.server.URL + "/api/bot/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	eng, _ := body["engine"].(map[string]any)
	if eng["status"] != "running" {
		t.Errorf("engine = %v", eng)
	}

	if resp, body := s.postJSON(t, "/api/bot/stop", nil); resp.StatusCode != http.StatusOK || body["status"] != "stopped" {
		t.Errorf("stop: %d %v", resp.StatusCode, body)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	s := newTestStack(t)

	// No credentials yet.
	resp, err := http.Get(s.server.URL + "/api/positions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	s.connectAndStart(t)
	s.exchange.positions = []common.Position{{
		Symbol: "BTCUSDT", Side: common.PositionLong,
		Amount: 0.5, EntryPrice: 50000, MarkPrice: 51000,
	}}

	resp, err = http.Get(s.server.URL + "/api/positions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestStack(t)
	resp, err := http.Get(s.server.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["summary"]; !ok {
		t.Errorf("missing summary: %v", body)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	s := newTestStack(t)

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The handler subscribes after the upgrade, so publish repeatedly until
	// the first frame comes back.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.bus.Publish(events.EventOrderExecuted, map[string]any{"symbol": "BTCUSDT"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Topic   string         `json:"topic"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Topic != string(events.EventOrderExecuted) {
		t.Errorf("topic = %q, want %q", frame.Topic, events.EventOrderExecuted)
	}
	if frame.Payload["symbol"] != "BTCUSDT" {
		t.Errorf("payload = %v", frame.Payload)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestStack(t)
	resp, err := http.Get(s.server.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["system"]; !ok {
		t.Errorf("missing system metrics: %v", body)
	}
}
