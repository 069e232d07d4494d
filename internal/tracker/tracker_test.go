package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/risk"
)

type fakeExchange struct {
	positions []binance.PositionRisk
	account   *binance.Account
	orders    map[string][]binance.Order
	trades    map[string][]binance.UserTrade
	ordersErr error
}

func (f *fakeExchange) Positions(ctx context.Context) ([]binance.PositionRisk, error) {
	return f.positions, nil
}

func (f *fakeExchange) Account(ctx context.Context) (*binance.Account, error) {
	return f.account, nil
}

func (f *fakeExchange) AllOrders(ctx context.Context, symbol string, limit int) ([]binance.Order, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return f.orders[symbol], nil
}

func (f *fakeExchange) UserTrades(ctx context.Context, symbol string, limit int) ([]binance.UserTrade, error) {
	return f.trades[symbol], nil
}

func usdtAccount(balance, available float64) *binance.Account {
	return &binance.Account{Assets: []binance.AccountAsset{
		{Asset: "USDT", WalletBalance: binance.Quoted(balance), AvailableBalance: binance.Quoted(available)},
	}}
}

func btcLong() binance.PositionRisk {
	return binance.PositionRisk{
		Symbol:           "BTCUSDT",
		PositionAmt:      binance.Quoted(0.004),
		EntryPrice:       binance.Quoted(50000),
		MarkPrice:        binance.Quoted(50500),
		UnrealizedProfit: binance.Quoted(2),
		Leverage:         binance.Quoted(20),
		IsolatedMargin:   binance.Quoted(10),
	}
}

func newTracker(f *fakeExchange) *Tracker {
	return New(f, risk.Bound{StopPct: 8, TargetPct: 15}, zerolog.Nop())
}

func TestUpdateParsesPositions(t *testing.T) {
	f := &fakeExchange{positions: []binance.PositionRisk{btcLong()}, account: usdtAccount(100, 80)}
	tr := newTracker(f)

	positions, closed, balance, available, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if balance != 100 || available != 80 {
		t.Fatalf("unexpected balances: %.2f %.2f", balance, available)
	}
	if len(closed) != 0 {
		t.Fatalf("expected no closed events on first cycle, got %+v", closed)
	}
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Side != risk.Long || pos.Quantity != 0.004 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if pos.UnrealizedPnlPct != 20 {
		t.Fatalf("expected pnl pct 20, got %.2f", pos.UnrealizedPnlPct)
	}
	if pos.SafetyStopPrice != 46000 || pos.SafetyTargetPrice != 57500 {
		t.Fatalf("unexpected safety prices: %+v", pos)
	}
}

func closeScenario(t *testing.T, orderType string) ClosedPositionEvent {
	t.Helper()
	f := &fakeExchange{positions: []binance.PositionRisk{btcLong()}, account: usdtAccount(100, 80)}
	tr := newTracker(f)
	if _, _, _, _, err := tr.Update(context.Background()); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Position vanishes; history shows how.
	f.positions = nil
	f.trades = map[string][]binance.UserTrade{"BTCUSDT": {
		{Symbol: "BTCUSDT", RealizedPnl: binance.Quoted(-1.6), Commission: binance.Quoted(0.02)},
	}}
	if orderType != "" {
		f.orders = map[string][]binance.Order{"BTCUSDT": {
			{OrderID: 1, Type: binance.OrderTypeMarket, Status: "NEW"},
			{OrderID: 2, Type: orderType, Status: binance.OrderStatusFilled},
		}}
	}

	_, closed, _, _, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected one closed event, got %d", len(closed))
	}
	return closed[0]
}

func TestReconcileStopLoss(t *testing.T) {
	event := closeScenario(t, binance.OrderTypeStopMarket)
	if event.ClosedBy != ClosedByStopLoss {
		t.Fatalf("expected stop_loss, got %s", event.ClosedBy)
	}
	if event.RealizedPnl != -1.6 || event.Commission != 0.02 {
		t.Fatalf("unexpected pnl/commission: %+v", event)
	}
}

func TestReconcileTakeProfit(t *testing.T) {
	event := closeScenario(t, binance.OrderTypeTakeProfitMarket)
	if event.ClosedBy != ClosedByTakeProfit {
		t.Fatalf("expected take_profit, got %s", event.ClosedBy)
	}
}

func TestReconcileMarketClose(t *testing.T) {
	event := closeScenario(t, binance.OrderTypeMarket)
	if event.ClosedBy != ClosedByMarket {
		t.Fatalf("expected market, got %s", event.ClosedBy)
	}
}

func TestReconcileNoMatchingOrder(t *testing.T) {
	event := closeScenario(t, "")
	if event.ClosedBy != ClosedByUnknown {
		t.Fatalf("expected unknown, got %s", event.ClosedBy)
	}
}

func TestReconcileDegradesOnLookupFailure(t *testing.T) {
	f := &fakeExchange{positions: []binance.PositionRisk{btcLong()}, account: usdtAccount(100, 80)}
	tr := newTracker(f)
	if _, _, _, _, err := tr.Update(context.Background()); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	f.positions = nil
	f.ordersErr = errors.New("boom")
	_, closed, _, _, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("expected best-effort success, got %v", err)
	}
	if len(closed) != 1 || closed[0].ClosedBy != ClosedByUnknown {
		t.Fatalf("expected unknown cause on lookup failure, got %+v", closed)
	}
}

func TestSnapshotReplacedEachCycle(t *testing.T) {
	f := &fakeExchange{positions: []binance.PositionRisk{btcLong()}, account: usdtAccount(100, 80)}
	tr := newTracker(f)
	if _, _, _, _, err := tr.Update(context.Background()); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	f.positions = nil
	if _, _, _, _, err := tr.Update(context.Background()); err != nil {
		t.Fatalf("second update failed: %v", err)
	}

	// Third cycle: nothing left to reconcile, the event must not repeat.
	_, closed, _, _, err := tr.Update(context.Background())
	if err != nil {
		t.Fatalf("third update failed: %v", err)
	}
	if len(closed) != 0 {
		t.Fatalf("expected no repeated events, got %+v", closed)
	}
	if len(tr.Open()) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", tr.Open())
	}
}
