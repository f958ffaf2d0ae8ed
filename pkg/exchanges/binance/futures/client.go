package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradehook/pkg/cache"
	"tradehook/pkg/exchanges/common"
)

// priceTTL bounds how stale a cached ticker price may be. Alert bursts
// for one symbol reuse the same ticker read within this window.
const priceTTL = 2 * time.Second

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client talks to the Binance USDT-M futures REST API and implements
// common.Client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter

	prices *cache.PriceCache

	mu         sync.RWMutex
	precisions map[string]int // symbol -> quantityPrecision, filled lazily
}

// NewClient creates a futures client. The reference deployment trades
// against the futures testnet.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: common.NewRateLimiter(2400, time.Minute),
		prices:      cache.NewPriceCache(),
		precisions:  make(map[string]int),
	}
}

// PlaceMarketOrder submits a market order and returns the exchange ack.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance futures: API key/secret required")
	}
	if qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("binance futures: invalid quantity %.8f", qty)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(qty))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:          resp.Symbol,
		Side:            side,
		Qty:             qty,
		Status:          resp.Status,
	}, nil
}

// GetPositions returns open positions; symbol is optional. Flat entries
// (positionAmt == 0) are filtered out.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance futures: API key/secret required")
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var raw []positionRisk
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		side := common.PositionLong
		if amt < 0 {
			side = common.PositionShort
		}
		out = append(out, common.Position{
			Symbol:     p.Symbol,
			Side:       side,
			Amount:     amt,
			EntryPrice: entry,
			MarkPrice:  mark,
		})
	}
	return out, nil
}

// RateUsage reports request-weight consumption within the current window.
func (c *Client) RateUsage() (used, limit int) {
	return c.rateLimiter.Usage()
}

// GetPrice returns the latest traded price for a symbol, served from a
// short-lived cache when possible.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := c.prices.GetFresh(symbol, priceTTL); ok {
		return price, nil
	}

	endpoint := c.baseURL + "/fapi/v1/ticker/price?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("binance futures ticker status %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", out.Price, err)
	}
	c.prices.Set(symbol, price)
	return price, nil
}

// GetSymbolPrecision returns the quantity precision for a symbol from
// exchangeInfo, caching results per process.
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (int, error) {
	c.mu.RLock()
	if p, ok := c.precisions[symbol]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	endpoint := c.baseURL + "/fapi/v1/exchangeInfo?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("binance futures exchangeInfo status %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	for _, s := range out.Symbols {
		if s.Symbol == symbol {
			c.mu.Lock()
			c.precisions[symbol] = s.QuantityPrecision
			c.mu.Unlock()
			return s.QuantityPrecision, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
}

// GetAccountInfo returns futures account trading state; used to live-test
// credentials before activating a user.
func (c *Client) GetAccountInfo(ctx context.Context) (common.AccountInfo, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.AccountInfo{}, errors.New("binance futures: API key/secret required")
	}
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v2/account", params)
	if err != nil {
		return common.AccountInfo{}, err
	}
	var info struct {
		CanTrade           bool   `json:"canTrade"`
		TotalWalletBalance string `json:"totalWalletBalance"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return common.AccountInfo{}, fmt.Errorf("decode account info: %w", err)
	}
	return common.AccountInfo{
		CanTrade:           info.CanTrade,
		TotalWalletBalance: info.TotalWalletBalance,
	}, nil
}

// doSigned handles signing and sending authenticated requests.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	sig := sign(params.Encode(), c.cfg.APISecret)
	params.Set("signature", sig)

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance futures %s %s status %d: %s", method, endpoint, res.StatusCode, string(body))
	}
	return body, nil
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	MarkPrice   string `json:"markPrice"`
}
