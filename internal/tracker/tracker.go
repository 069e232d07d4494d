// Package tracker reconciles the exchange's authoritative position state
// against the engine's last-known snapshot. The exchange pushes nothing:
// everything that happened between cycles has to be inferred by diffing.
package tracker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/metrics"
	"github.com/aphsx/24openClaw/internal/risk"
)

// CloseCause labels how a position left the book.
type CloseCause string

const (
	ClosedByStopLoss   CloseCause = "stop_loss"
	ClosedByTakeProfit CloseCause = "take_profit"
	ClosedByMarket     CloseCause = "market"
	ClosedByUnknown    CloseCause = "unknown"
)

// Position is the engine's read-only view of one open exchange position,
// refreshed once per cycle.
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             risk.Side `json:"side"`
	EntryPrice       float64   `json:"entry_price"`
	MarkPrice        float64   `json:"mark_price"`
	Quantity         float64   `json:"quantity"`
	Margin           float64   `json:"margin"`
	Leverage         int       `json:"leverage"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	UnrealizedPnlPct float64   `json:"unrealized_pnl_pct"`
	SafetyStopPrice  float64   `json:"safety_stop_price"`
	SafetyTargetPrice float64  `json:"safety_target_price"`
}

// ClosedPositionEvent is synthesized when a previously tracked symbol
// disappears from the current snapshot. It never exists on the exchange.
type ClosedPositionEvent struct {
	Symbol      string     `json:"symbol"`
	Side        risk.Side  `json:"side"`
	ClosedBy    CloseCause `json:"closed_by"`
	RealizedPnl float64    `json:"realized_pnl"`
	Commission  float64    `json:"commission"`
	OrderID     int64      `json:"order_id,omitempty"`
}

// ExchangeAPI is the slice of the exchange client the tracker needs.
type ExchangeAPI interface {
	Positions(ctx context.Context) ([]binance.PositionRisk, error)
	Account(ctx context.Context) (*binance.Account, error)
	AllOrders(ctx context.Context, symbol string, limit int) ([]binance.Order, error)
	UserTrades(ctx context.Context, symbol string, limit int) ([]binance.UserTrade, error)
}

const closeLookback = 10

// Tracker owns the previous cycle's position snapshot. Not safe for use
// from concurrent cycles; the invocation layer guarantees one at a time.
type Tracker struct {
	api   ExchangeAPI
	bound risk.Bound
	log   zerolog.Logger
	prev  map[string]Position
}

// New builds a tracker with an empty previous snapshot.
func New(api ExchangeAPI, bound risk.Bound, log zerolog.Logger) *Tracker {
	return &Tracker{api: api, bound: bound, log: log, prev: make(map[string]Position)}
}

// Update fetches positions and balance, synthesizes ClosedPositionEvents for
// symbols that vanished since the previous cycle, and replaces the snapshot.
//
// Known blind spot: a symbol that closed and reopened entirely inside one
// cycle window shows up as "still open" and the intervening close is
// invisible. Snapshot diffing cannot see finer granularity than the poll.
func (t *Tracker) Update(ctx context.Context) ([]Position, []ClosedPositionEvent, float64, float64, error) {
	raw, err := t.api.Positions(ctx)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("fetch positions: %w", err)
	}
	account, err := t.api.Account(ctx)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("fetch account: %w", err)
	}
	balance, available := account.USDTBalance()

	positions := make([]Position, 0, len(raw))
	current := make(map[string]Position, len(raw))
	for _, p := range raw {
		pos := t.toPosition(p)
		positions = append(positions, pos)
		current[pos.Symbol] = pos
	}

	var closed []ClosedPositionEvent
	for symbol, old := range t.prev {
		if _, stillOpen := current[symbol]; stillOpen {
			continue
		}
		event := t.closeDetails(ctx, symbol, old)
		closed = append(closed, event)
		metrics.ClosedBetweenTotal.WithLabelValues(string(event.ClosedBy)).Inc()
		t.log.Info().
			Str("symbol", symbol).
			Str("side", string(old.Side)).
			Str("closed_by", string(event.ClosedBy)).
			Float64("realized_pnl", event.RealizedPnl).
			Msg("position closed between cycles")
	}

	t.prev = current
	return positions, closed, balance, available, nil
}

func (t *Tracker) toPosition(p binance.PositionRisk) Position {
	amt := p.PositionAmt.Float()
	side := risk.Long
	if amt < 0 {
		side = risk.Short
		amt = -amt
	}
	entry := p.EntryPrice.Float()
	margin := p.Margin()
	pos := Position{
		Symbol:        p.Symbol,
		Side:          side,
		EntryPrice:    entry,
		MarkPrice:     p.MarkPrice.Float(),
		Quantity:      amt,
		Margin:        margin,
		Leverage:      int(p.Leverage.Float()),
		UnrealizedPnl: p.UnrealizedProfit.Float(),
	}
	if margin > 0 {
		pos.UnrealizedPnlPct = pos.UnrealizedPnl / margin * 100
	}
	if entry > 0 {
		pos.SafetyStopPrice = t.bound.StopPrice(side, entry)
		pos.SafetyTargetPrice = t.bound.TargetPrice(side, entry)
	}
	return pos
}

// closeDetails infers how the position left the book: realized PnL and
// commission come from recent fills, the cause from the newest filled order.
// Best effort only; every lookup failure degrades to unknown.
func (t *Tracker) closeDetails(ctx context.Context, symbol string, old Position) ClosedPositionEvent {
	event := ClosedPositionEvent{
		Symbol:   symbol,
		Side:     old.Side,
		ClosedBy: ClosedByUnknown,
	}

	trades, err := t.api.UserTrades(ctx, symbol, closeLookback)
	if err != nil {
		t.log.Warn().Err(err).Str("symbol", symbol).Msg("close details: fills lookup failed")
	} else {
		for _, tr := range trades {
			event.RealizedPnl += tr.RealizedPnl.Float()
			event.Commission += tr.Commission.Float()
		}
	}

	orders, err := t.api.AllOrders(ctx, symbol, closeLookback)
	if err != nil {
		t.log.Warn().Err(err).Str("symbol", symbol).Msg("close details: order lookup failed")
		return event
	}
	// Orders arrive oldest first; walk newest first and take the first fill.
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Status != binance.OrderStatusFilled {
			continue
		}
		switch orders[i].Type {
		case binance.OrderTypeStopMarket:
			event.ClosedBy = ClosedByStopLoss
		case binance.OrderTypeTakeProfitMarket:
			event.ClosedBy = ClosedByTakeProfit
		default:
			event.ClosedBy = ClosedByMarket
		}
		event.OrderID = orders[i].OrderID
		break
	}
	return event
}

// Open reports the tracked snapshot from the last Update call.
func (t *Tracker) Open() map[string]Position {
	out := make(map[string]Position, len(t.prev))
	for k, v := range t.prev {
		out[k] = v
	}
	return out
}
