package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/config"
	"github.com/aphsx/24openClaw/internal/market"
	"github.com/aphsx/24openClaw/internal/oracle"
	"github.com/aphsx/24openClaw/internal/order"
	"github.com/aphsx/24openClaw/internal/sentiment"
	"github.com/aphsx/24openClaw/internal/tracker"
)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.Trading{
			Symbols:      []string{"BTCUSDT", "ETHUSDT"},
			Leverage:     20,
			MinOrderUSDT: 5,
			Timeframes:   []config.Timeframe{{Interval: "5m", Candles: 60}},
		},
	}
}

func testSeries(n int, base float64) market.Series {
	s := make(market.Series, n)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range s {
		price := base + float64(i%7)
		s[i] = market.Candle{
			OpenTime: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:     price,
			High:     price + 2,
			Low:      price - 2,
			Close:    price + 1,
			Volume:   100,
		}
	}
	return s
}

type fakeData struct {
	failKlines map[string]error
}

func (f *fakeData) Klines(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	if err := f.failKlines[symbol]; err != nil {
		return nil, err
	}
	return testSeries(limit, 100), nil
}

func (f *fakeData) Ticker24h(ctx context.Context, symbol string) (*binance.Ticker24h, error) {
	return &binance.Ticker24h{Symbol: symbol, QuoteVolume: 1e6, PriceChangePercent: 2.5}, nil
}

func (f *fakeData) FundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0.0001, nil
}

func (f *fakeData) LongShortRatio(ctx context.Context, symbol string) (float64, error) {
	return 1.8, nil
}

type fakeTracker struct {
	err       error
	positions []tracker.Position
	closed    []tracker.ClosedPositionEvent
}

func (f *fakeTracker) Update(ctx context.Context) ([]tracker.Position, []tracker.ClosedPositionEvent, float64, float64, error) {
	if f.err != nil {
		return nil, nil, 0, 0, f.err
	}
	return f.positions, f.closed, 250, 200, nil
}

func (f *fakeTracker) Open() map[string]tracker.Position {
	out := make(map[string]tracker.Position)
	for _, p := range f.positions {
		out[p.Symbol] = p
	}
	return out
}

type fakeExecutor struct {
	got    []oracle.TradeAction
	trades []order.Trade
}

func (f *fakeExecutor) Execute(ctx context.Context, actions []oracle.TradeAction, open map[string]tracker.Position) []order.Trade {
	f.got = actions
	return f.trades
}

type deciderFunc func(ctx context.Context, req oracle.Request) (oracle.Response, error)

func (fn deciderFunc) Decide(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	return fn(ctx, req)
}

func newTestEngine(cfg *config.Config, data MarketData, trk PositionTracker, exec Executor, d oracle.Decider) *Engine {
	store := market.NewStore("5m", 200)
	return New(cfg, data, store, trk, exec, d, sentiment.Static{Summary: "calm"}, zerolog.Nop())
}

func TestRunCompletes(t *testing.T) {
	exec := &fakeExecutor{trades: []order.Trade{{Symbol: "BTCUSDT", Action: "open"}}}
	var gotReq oracle.Request
	d := deciderFunc(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		gotReq = req
		return oracle.Response{
			Analysis: "both look fine",
			Actions:  []oracle.TradeAction{{Action: oracle.ActionOpenLong, Symbol: "BTCUSDT", MarginUSDT: 10}},
		}, nil
	})

	e := newTestEngine(testConfig(), &fakeData{}, &fakeTracker{}, exec, d)
	rec := e.Run(context.Background())

	if rec.Status != StatusCompleted {
		t.Fatalf("status = %s, errors = %v", rec.Status, rec.Errors)
	}
	if len(rec.Symbols) != 2 {
		t.Fatalf("expected 2 symbol reports, got %d", len(rec.Symbols))
	}
	if len(gotReq.Symbols) != 2 || gotReq.Balance != 250 {
		t.Fatalf("oracle request incomplete: %+v", gotReq)
	}
	if gotReq.NewsDigest != "calm" {
		t.Fatalf("news digest not forwarded: %q", gotReq.NewsDigest)
	}
	if len(rec.Trades) != 1 {
		t.Fatalf("expected executed trade in record, got %+v", rec.Trades)
	}
	for _, phase := range []string{"reconcile", "fetch", "analyze", "decide", "execute"} {
		if _, ok := rec.PhaseMillis[phase]; !ok {
			t.Fatalf("missing phase timing %q: %v", phase, rec.PhaseMillis)
		}
	}
}

func TestRunDegradesWhenOneSymbolFails(t *testing.T) {
	data := &fakeData{failKlines: map[string]error{"ETHUSDT": errors.New("timeout")}}
	var gotReq oracle.Request
	d := deciderFunc(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		gotReq = req
		return oracle.Response{}, nil
	})

	e := newTestEngine(testConfig(), data, &fakeTracker{}, &fakeExecutor{}, d)
	rec := e.Run(context.Background())

	if rec.Status != StatusCompletedWithErrors {
		t.Fatalf("status = %s, want completed_with_errors", rec.Status)
	}
	if len(rec.Symbols) != 1 || rec.Symbols[0].Symbol != "BTCUSDT" {
		t.Fatalf("failed symbol should be excluded, got %+v", rec.Symbols)
	}
	if len(gotReq.Symbols) != 1 {
		t.Fatalf("oracle should only see analyzable symbols, got %d", len(gotReq.Symbols))
	}
	var sawKlineErr bool
	for _, msg := range rec.Errors {
		if strings.Contains(msg, "klines ETHUSDT") {
			sawKlineErr = true
		}
	}
	if !sawKlineErr {
		t.Fatalf("fetch failure not recorded: %v", rec.Errors)
	}
}

func TestRunFailsWhenReconcileFails(t *testing.T) {
	d := deciderFunc(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		t.Fatal("oracle must not be consulted without account state")
		return oracle.Response{}, nil
	})

	e := newTestEngine(testConfig(), &fakeData{}, &fakeTracker{err: errors.New("auth rejected")}, &fakeExecutor{}, d)
	rec := e.Run(context.Background())

	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if len(rec.Errors) == 0 {
		t.Fatalf("expected reconcile error recorded")
	}
}

func TestRunHoldsWhenOracleFails(t *testing.T) {
	exec := &fakeExecutor{}
	d := deciderFunc(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		return oracle.Response{}, errors.New("all providers down")
	})

	e := newTestEngine(testConfig(), &fakeData{}, &fakeTracker{}, exec, d)
	rec := e.Run(context.Background())

	if rec.Status != StatusCompletedWithErrors {
		t.Fatalf("status = %s, want completed_with_errors", rec.Status)
	}
	if len(rec.Trades) != 0 || exec.got != nil {
		t.Fatalf("no orders may be placed when the oracle fails")
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	d := deciderFunc(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		panic("decider exploded")
	})

	e := newTestEngine(testConfig(), &fakeData{}, &fakeTracker{}, &fakeExecutor{}, d)
	rec := e.Run(context.Background())

	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Stack == "" {
		t.Fatalf("expected stack trace in failed record")
	}
}
