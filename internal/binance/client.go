// Package binance is the signed REST layer against USDT-margined futures.
// It owns request signing and response schemas, never business logic.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aphsx/24openClaw/internal/market"
)

// Client talks to one Binance futures environment. The underlying
// http.Client is reused across calls; Close releases its idle connections
// at cycle end.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	log       zerolog.Logger
}

// NewClient builds a client for the given base URL and credentials.
func NewClient(baseURL, apiKey, apiSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Close releases pooled connections. Safe to call on every cycle exit path.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// do executes one request. Signed requests get a millisecond timestamp and
// an HMAC-SHA256 signature over the canonical query string.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", c.sign(params.Encode()))
	}

	reqURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Code != 0 {
			return apiErr
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ---- public (unsigned) endpoints ----

// Klines fetches the candle window for (symbol, interval).
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}
	return parseKlines(raw)
}

// parseKlines converts the exchange's positional kline arrays into candles:
// [openTime, open, high, low, close, volume, ...].
func parseKlines(raw [][]json.RawMessage) (market.Series, error) {
	series := make(market.Series, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d: got %d fields, need 6", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}
		var fields [5]Quoted
		for j := 1; j <= 5; j++ {
			if err := json.Unmarshal(row[j], &fields[j-1]); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j, err)
			}
		}
		series = append(series, market.Candle{
			OpenTime: time.UnixMilli(openTime),
			Open:     fields[0].Float(),
			High:     fields[1].Float(),
			Low:      fields[2].Float(),
			Close:    fields[3].Float(),
			Volume:   fields[4].Float(),
		})
	}
	return series, nil
}

// Ticker24h fetches rolling 24h stats for one symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var out Ticker24h
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", params, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TickerPrice fetches the current mark for one symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var out tickerPrice
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &out); err != nil {
		return 0, err
	}
	return out.Price.Float(), nil
}

// FundingRate fetches the latest funding rate for one symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", "1")
	var out []fundingRateEntry
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/fundingRate", params, false, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("no funding rate for %s", symbol)
	}
	return out[len(out)-1].FundingRate.Float(), nil
}

// LongShortRatio fetches the global long/short account ratio for one symbol.
func (c *Client) LongShortRatio(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period", "5m")
	params.Set("limit", "1")
	var out []longShortRatioEntry
	if err := c.do(ctx, http.MethodGet, "/futures/data/globalLongShortAccountRatio", params, false, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("no long/short ratio for %s", symbol)
	}
	return out[len(out)-1].LongShortRatio.Float(), nil
}

// SymbolPrecision looks up quantity/price precision and the LOT_SIZE floor.
func (c *Client) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	var info exchangeInfo
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		p := &SymbolPrecision{
			QuantityPrecision: s.QuantityPrecision,
			PricePrecision:    s.PricePrecision,
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				p.MinQty = f.MinQty.Float()
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("symbol %s not in exchange info", symbol)
}

// ---- signed endpoints ----

// Account fetches futures account balances.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions returns open positions only (zero-quantity rows filtered out).
func (c *Client) Positions(ctx context.Context) ([]PositionRisk, error) {
	var out []PositionRisk
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true, &out); err != nil {
		return nil, err
	}
	open := out[:0]
	for _, p := range out {
		if p.PositionAmt.Float() != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// AllOrders returns recent orders for a symbol, oldest first.
func (c *Client) AllOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var out []Order
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/allOrders", params, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserTrades returns recent fills for a symbol, oldest first.
func (c *Client) UserTrades(ctx context.Context, symbol string, limit int) ([]UserTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var out []UserTrade
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOrder submits a new order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	if req.Quantity != "" {
		params.Set("quantity", req.Quantity)
	}
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("newOrderRespType", "RESULT")

	var out Order
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &out); err != nil {
		return nil, err
	}
	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("type", req.Type).
		Str("qty", req.Quantity).
		Int64("order_id", out.OrderID).
		Msg("order placed")
	return &out, nil
}

// CancelAllOrders cancels every resting order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, nil)
}

// SetLeverage sets the symbol's leverage. Idempotent on the exchange side.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

// SetMarginType sets isolated/crossed margin. The exchange rejects a no-op
// change with a dedicated code; callers swallow it via IsAlreadySet.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	return c.do(ctx, http.MethodPost, "/fapi/v1/marginType", params, true, nil)
}
