package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Binance quotes most numbers as JSON strings. Quoted accepts either form
// so endpoint structs stay flat.
type Quoted float64

func (q *Quoted) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty number")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*q = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse quoted number %q: %w", s, err)
		}
		*q = Quoted(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = Quoted(v)
	return nil
}

// Float unwraps the value.
func (q Quoted) Float() float64 { return float64(q) }

// APIError is a non-2xx exchange response body.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code %d: %s", e.Code, e.Message)
}

// IsAlreadySet reports whether err is the exchange telling us an idempotent
// setup call (margin type, leverage) found nothing to change.
func IsAlreadySet(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	// -4046: "No need to change margin type".
	return apiErr.Code == -4046
}

// Order sides and types used by this engine.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket           = "MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"

	OrderStatusFilled = "FILLED"

	MarginTypeIsolated = "ISOLATED"
)

// Ticker24h is one row of /fapi/v1/ticker/24hr.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          Quoted `json:"lastPrice"`
	PriceChangePercent Quoted `json:"priceChangePercent"`
	QuoteVolume        Quoted `json:"quoteVolume"`
	HighPrice          Quoted `json:"highPrice"`
	LowPrice           Quoted `json:"lowPrice"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  Quoted `json:"price"`
}

type fundingRateEntry struct {
	Symbol      string `json:"symbol"`
	FundingRate Quoted `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

type longShortRatioEntry struct {
	Symbol         string `json:"symbol"`
	LongShortRatio Quoted `json:"longShortRatio"`
	Timestamp      int64  `json:"timestamp"`
}

// AccountAsset is one asset row of /fapi/v2/account.
type AccountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    Quoted `json:"walletBalance"`
	AvailableBalance Quoted `json:"availableBalance"`
}

// Account is the subset of /fapi/v2/account the engine consumes.
type Account struct {
	Assets []AccountAsset `json:"assets"`
}

// USDTBalance returns (wallet, available) for the USDT asset.
func (a *Account) USDTBalance() (float64, float64) {
	for _, asset := range a.Assets {
		if asset.Asset == "USDT" {
			return asset.WalletBalance.Float(), asset.AvailableBalance.Float()
		}
	}
	return 0, 0
}

// PositionRisk is one row of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      Quoted `json:"positionAmt"`
	EntryPrice       Quoted `json:"entryPrice"`
	MarkPrice        Quoted `json:"markPrice"`
	UnrealizedProfit Quoted `json:"unRealizedProfit"`
	Leverage         Quoted `json:"leverage"`
	IsolatedMargin   Quoted `json:"isolatedMargin"`
	InitialMargin    Quoted `json:"positionInitialMargin"`
	MarginType       string `json:"marginType"`
}

// Margin prefers the isolated wallet, falling back to initial margin.
func (p PositionRisk) Margin() float64 {
	if m := p.IsolatedMargin.Float(); m > 0 {
		return m
	}
	return p.InitialMargin.Float()
}

// Order is the order schema shared by place/query endpoints.
type Order struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	AvgPrice      Quoted `json:"avgPrice"`
	ExecutedQty   Quoted `json:"executedQty"`
	OrigQty       Quoted `json:"origQty"`
	StopPrice     Quoted `json:"stopPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

// UserTrade is one fill row of /fapi/v1/userTrades.
type UserTrade struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Price       Quoted `json:"price"`
	Qty         Quoted `json:"qty"`
	RealizedPnl Quoted `json:"realizedPnl"`
	Commission  Quoted `json:"commission"`
	Time        int64  `json:"time"`
}

// SymbolPrecision is the per-symbol rounding metadata from exchangeInfo.
type SymbolPrecision struct {
	QuantityPrecision int
	PricePrecision    int
	MinQty            float64
}

type exchangeInfo struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

type exchangeSymbol struct {
	Symbol            string           `json:"symbol"`
	PricePrecision    int              `json:"pricePrecision"`
	QuantityPrecision int              `json:"quantityPrecision"`
	Filters           []exchangeFilter `json:"filters"`
}

type exchangeFilter struct {
	FilterType string `json:"filterType"`
	MinQty     Quoted `json:"minQty"`
}

// OrderRequest is a new-order submission. Quantity and StopPrice are
// pre-rounded decimal strings so no float formatting happens at the wire.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	StopPrice     string
	ReduceOnly    bool
	ClientOrderID string
}
