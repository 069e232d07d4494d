// Package order turns approved trade actions into exchange operations:
// leverage setup, market entry, bracket stop/target placement, and closes,
// with all rounding done against the symbol's declared precision.
package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/metrics"
	"github.com/aphsx/24openClaw/internal/oracle"
	"github.com/aphsx/24openClaw/internal/risk"
	"github.com/aphsx/24openClaw/internal/tracker"
)

// Trade is one Executed Trade Record. Immutable once created; a non-empty
// Error marks a placement the exchange rejected.
type Trade struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        risk.Side `json:"side"`
	Action      string    `json:"action"` // "open" or "close"
	FillPrice   float64   `json:"fill_price"`
	Quantity    float64   `json:"quantity"`
	Margin      float64   `json:"margin"`
	Leverage    int       `json:"leverage"`
	Commission  float64   `json:"commission"`
	RealizedPnl float64   `json:"realized_pnl,omitempty"`
	StopPrice   float64   `json:"stop_price,omitempty"`
	TargetPrice float64   `json:"target_price,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Exchange is the slice of the exchange client the manager needs.
type Exchange interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	SymbolPrecision(ctx context.Context, symbol string) (*binance.SymbolPrecision, error)
	PlaceOrder(ctx context.Context, req binance.OrderRequest) (*binance.Order, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// Manager executes trade actions sequentially per symbol. Precision
// metadata is fetched once per symbol and cached for the process lifetime.
type Manager struct {
	ex         Exchange
	bound      risk.Bound
	leverage   int
	log        zerolog.Logger
	precisions map[string]*binance.SymbolPrecision
}

// NewManager wires the manager to an exchange with the configured leverage
// and safety bound.
func NewManager(ex Exchange, bound risk.Bound, leverage int, log zerolog.Logger) *Manager {
	return &Manager{
		ex:         ex,
		bound:      bound,
		leverage:   leverage,
		log:        log,
		precisions: make(map[string]*binance.SymbolPrecision),
	}
}

// Execute runs every action against the exchange. Invalid actions are
// logged and skipped; a failure on one symbol never aborts the others.
func (m *Manager) Execute(ctx context.Context, actions []oracle.TradeAction, open map[string]tracker.Position) []Trade {
	var trades []Trade
	for _, action := range actions {
		switch action.Action {
		case oracle.ActionHold, oracle.ActionSkip:
			continue
		case oracle.ActionOpenLong, oracle.ActionOpenShort:
			side := risk.Long
			if action.Action == oracle.ActionOpenShort {
				side = risk.Short
			}
			if trade := m.openPosition(ctx, action, side); trade != nil {
				trades = append(trades, *trade)
			}
		case oracle.ActionClose:
			pos, ok := open[action.Symbol]
			if !ok {
				m.log.Warn().Str("symbol", action.Symbol).Msg("close requested with no open position, skipping")
				continue
			}
			if trade := m.closePosition(ctx, action, pos); trade != nil {
				trades = append(trades, *trade)
			}
		default:
			m.log.Warn().Str("action", action.Action).Str("symbol", action.Symbol).Msg("unknown action, skipping")
		}
	}
	return trades
}

func (m *Manager) openPosition(ctx context.Context, action oracle.TradeAction, side risk.Side) *Trade {
	log := m.log.With().Str("symbol", action.Symbol).Str("side", string(side)).Logger()

	if action.MarginUSDT <= 0 {
		log.Warn().Float64("margin", action.MarginUSDT).Msg("non-positive margin, skipping")
		return nil
	}

	if err := m.ex.SetLeverage(ctx, action.Symbol, m.leverage); err != nil && !binance.IsAlreadySet(err) {
		log.Error().Err(err).Msg("set leverage failed")
		return &Trade{Symbol: action.Symbol, Side: side, Action: "open", Error: err.Error()}
	}
	if err := m.ex.SetMarginType(ctx, action.Symbol, binance.MarginTypeIsolated); err != nil && !binance.IsAlreadySet(err) {
		log.Warn().Err(err).Msg("set margin type failed, proceeding")
	}

	precision, err := m.precision(ctx, action.Symbol)
	if err != nil {
		log.Error().Err(err).Msg("precision lookup failed")
		return &Trade{Symbol: action.Symbol, Side: side, Action: "open", Error: err.Error()}
	}

	price, err := m.ex.TickerPrice(ctx, action.Symbol)
	if err != nil || price <= 0 {
		log.Error().Err(err).Float64("price", price).Msg("cannot price entry")
		return &Trade{Symbol: action.Symbol, Side: side, Action: "open", Error: "no price"}
	}

	qty := Quantity(action.MarginUSDT, m.leverage, price, precision.QuantityPrecision)
	if qty.LessThan(decimal.NewFromFloat(precision.MinQty)) || qty.IsZero() {
		log.Warn().
			Str("qty", qty.String()).
			Float64("min_qty", precision.MinQty).
			Msg("quantity below exchange minimum, no order placed")
		return nil
	}

	entrySide := binance.SideBuy
	if side == risk.Short {
		entrySide = binance.SideSell
	}
	placed, err := m.ex.PlaceOrder(ctx, binance.OrderRequest{
		Symbol:        action.Symbol,
		Side:          entrySide,
		Type:          binance.OrderTypeMarket,
		Quantity:      qty.String(),
		ClientOrderID: "claw-" + uuid.NewString(),
	})
	if err != nil {
		log.Error().Err(err).Msg("entry order rejected")
		return &Trade{Symbol: action.Symbol, Side: side, Action: "open", Error: err.Error()}
	}
	metrics.OrdersTotal.WithLabelValues(action.Symbol, entrySide).Inc()

	fillPrice := placed.AvgPrice.Float()
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillQty := placed.ExecutedQty.Float()
	if fillQty <= 0 {
		fillQty, _ = qty.Float64()
	}

	stop, target := m.bracketPrices(action, side, fillPrice, precision.PricePrecision)
	m.placeBrackets(ctx, action.Symbol, side, fillQty, stop, target, precision.QuantityPrecision)

	log.Info().
		Float64("fill_price", fillPrice).
		Float64("qty", fillQty).
		Float64("stop", stop).
		Float64("target", target).
		Msg("position opened")

	return &Trade{
		OrderID:     fmt.Sprintf("%d", placed.OrderID),
		Symbol:      action.Symbol,
		Side:        side,
		Action:      "open",
		FillPrice:   fillPrice,
		Quantity:    fillQty,
		Margin:      action.MarginUSDT,
		Leverage:    m.leverage,
		StopPrice:   stop,
		TargetPrice: target,
		Reason:      action.Reason,
	}
}

// bracketPrices resolves the stop/target pair. The safety bound always wins
// over an oracle stop that would risk more; the target is only validated
// for direction. The asymmetry is deliberate: the bound caps loss, not
// profit.
func (m *Manager) bracketPrices(action oracle.TradeAction, side risk.Side, entry float64, pricePrecision int) (float64, float64) {
	stop := m.bound.StopPrice(side, entry)
	if action.StopPrice > 0 {
		stop = m.bound.ClampStop(side, entry, action.StopPrice)
	}
	target := m.bound.TargetPrice(side, entry)
	if action.TargetPrice > 0 && risk.ValidTarget(side, entry, action.TargetPrice) {
		target = action.TargetPrice
	}
	stop = roundPrice(stop, pricePrecision)
	target = roundPrice(target, pricePrecision)
	return stop, target
}

// placeBrackets attaches the two reduce-only protective orders. A bracket
// rejection leaves the position unprotected until the next cycle, so it is
// logged loudly but does not fail the already-filled entry.
func (m *Manager) placeBrackets(ctx context.Context, symbol string, side risk.Side, qty, stop, target float64, qtyPrecision int) {
	exitSide := binance.SideSell
	if side == risk.Short {
		exitSide = binance.SideBuy
	}
	qtyStr := decimal.NewFromFloat(qty).RoundFloor(int32(qtyPrecision)).String()

	for _, bracket := range []struct {
		orderType string
		price     float64
	}{
		{binance.OrderTypeStopMarket, stop},
		{binance.OrderTypeTakeProfitMarket, target},
	} {
		_, err := m.ex.PlaceOrder(ctx, binance.OrderRequest{
			Symbol:     symbol,
			Side:       exitSide,
			Type:       bracket.orderType,
			Quantity:   qtyStr,
			StopPrice:  decimal.NewFromFloat(bracket.price).String(),
			ReduceOnly: true,
		})
		if err != nil {
			m.log.Error().Err(err).
				Str("symbol", symbol).
				Str("type", bracket.orderType).
				Msg("bracket order rejected, position unprotected")
			continue
		}
		metrics.OrdersTotal.WithLabelValues(symbol, exitSide).Inc()
	}
}

func (m *Manager) closePosition(ctx context.Context, action oracle.TradeAction, pos tracker.Position) *Trade {
	log := m.log.With().Str("symbol", pos.Symbol).Str("side", string(pos.Side)).Logger()

	// Resting brackets go first so a stale stop cannot race this close.
	if err := m.ex.CancelAllOrders(ctx, pos.Symbol); err != nil {
		log.Error().Err(err).Msg("cancel brackets failed, aborting close")
		return &Trade{Symbol: pos.Symbol, Side: pos.Side, Action: "close", Error: err.Error()}
	}

	precision, err := m.precision(ctx, pos.Symbol)
	if err != nil {
		log.Error().Err(err).Msg("precision lookup failed")
		return &Trade{Symbol: pos.Symbol, Side: pos.Side, Action: "close", Error: err.Error()}
	}

	closeSide := binance.SideSell
	if pos.Side == risk.Short {
		closeSide = binance.SideBuy
	}
	qty := decimal.NewFromFloat(pos.Quantity).RoundFloor(int32(precision.QuantityPrecision))

	placed, err := m.ex.PlaceOrder(ctx, binance.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          closeSide,
		Type:          binance.OrderTypeMarket,
		Quantity:      qty.String(),
		ReduceOnly:    true,
		ClientOrderID: "claw-" + uuid.NewString(),
	})
	if err != nil {
		log.Error().Err(err).Msg("close order rejected")
		return &Trade{Symbol: pos.Symbol, Side: pos.Side, Action: "close", Error: err.Error()}
	}
	metrics.OrdersTotal.WithLabelValues(pos.Symbol, closeSide).Inc()

	exitPrice := placed.AvgPrice.Float()
	pnl := RealizedPnl(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)

	log.Info().
		Float64("exit_price", exitPrice).
		Float64("realized_pnl", pnl).
		Msg("position closed")

	return &Trade{
		OrderID:     fmt.Sprintf("%d", placed.OrderID),
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Action:      "close",
		FillPrice:   exitPrice,
		Quantity:    pos.Quantity,
		Margin:      pos.Margin,
		Leverage:    pos.Leverage,
		RealizedPnl: pnl,
		Reason:      action.Reason,
	}
}

func (m *Manager) precision(ctx context.Context, symbol string) (*binance.SymbolPrecision, error) {
	if p, ok := m.precisions[symbol]; ok {
		return p, nil
	}
	p, err := m.ex.SymbolPrecision(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol precision: %w", err)
	}
	m.precisions[symbol] = p
	return p, nil
}

// Quantity computes (margin × leverage) / price rounded down to the
// symbol's quantity precision.
func Quantity(margin float64, leverage int, price float64, precision int) decimal.Decimal {
	notional := decimal.NewFromFloat(margin).Mul(decimal.NewFromInt(int64(leverage)))
	return notional.Div(decimal.NewFromFloat(price)).RoundFloor(int32(precision))
}

// RealizedPnl is (exit−entry)×qty for longs, (entry−exit)×qty for shorts.
func RealizedPnl(side risk.Side, entry, exit, qty float64) float64 {
	if side == risk.Long {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}

func roundPrice(price float64, precision int) float64 {
	f, _ := decimal.NewFromFloat(price).Round(int32(precision)).Float64()
	return f
}
