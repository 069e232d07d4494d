// Package engine orchestrates one trading cycle end to end: reconcile
// exchange state, fan out data fetches, run the indicator engine, consult
// the decision oracle, execute the approved actions, and emit an audit
// record. One Run call is one cycle; the process invokes it and exits.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aphsx/24openClaw/internal/binance"
	"github.com/aphsx/24openClaw/internal/config"
	"github.com/aphsx/24openClaw/internal/indicator"
	"github.com/aphsx/24openClaw/internal/market"
	"github.com/aphsx/24openClaw/internal/metrics"
	"github.com/aphsx/24openClaw/internal/oracle"
	"github.com/aphsx/24openClaw/internal/order"
	"github.com/aphsx/24openClaw/internal/risk"
	"github.com/aphsx/24openClaw/internal/sentiment"
	"github.com/aphsx/24openClaw/internal/tracker"
)

// MarketData is the slice of the exchange client the fetch phase needs.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) (market.Series, error)
	Ticker24h(ctx context.Context, symbol string) (*binance.Ticker24h, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
	LongShortRatio(ctx context.Context, symbol string) (float64, error)
}

// PositionTracker reconciles exchange position state once per cycle.
type PositionTracker interface {
	Update(ctx context.Context) ([]tracker.Position, []tracker.ClosedPositionEvent, float64, float64, error)
	Open() map[string]tracker.Position
}

// Executor turns approved actions into exchange orders.
type Executor interface {
	Execute(ctx context.Context, actions []oracle.TradeAction, open map[string]tracker.Position) []order.Trade
}

// Engine wires the cycle phases together. It holds no cross-cycle state of
// its own; everything persistent lives in the tracker and the store.
type Engine struct {
	cfg       *config.Config
	data      MarketData
	store     *market.Store
	tracker   PositionTracker
	executor  Executor
	decider   oracle.Decider
	sentiment sentiment.Fetcher
	log       zerolog.Logger
}

// New assembles an engine from its collaborators.
func New(cfg *config.Config, data MarketData, store *market.Store, trk PositionTracker,
	exec Executor, decider oracle.Decider, sent sentiment.Fetcher, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		data:      data,
		store:     store,
		tracker:   trk,
		executor:  exec,
		decider:   decider,
		sentiment: sent,
		log:       log,
	}
}

// Run executes one full cycle and always returns a record, never an error:
// a panic anywhere inside becomes a failed record carrying the stack.
func (e *Engine) Run(ctx context.Context) (rec *CycleRecord) {
	rec = &CycleRecord{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		Status:      StatusCompleted,
		PhaseMillis: make(map[string]int64),
	}
	log := e.log.With().Str("cycle_id", rec.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			rec.Status = StatusFailed
			rec.Errors = append(rec.Errors, fmt.Sprintf("panic: %v", r))
			rec.Stack = string(debug.Stack())
			log.Error().Interface("panic", r).Msg("cycle panicked")
		}
		rec.FinishedAt = time.Now()
		metrics.CyclesTotal.WithLabelValues(string(rec.Status)).Inc()
		metrics.CycleDuration.Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	}()

	if err := e.reconcile(ctx, rec); err != nil {
		// Without the account snapshot there is no safe basis for any
		// decision; stop here rather than trade blind.
		rec.Status = StatusFailed
		rec.Errors = append(rec.Errors, err.Error())
		log.Error().Err(err).Msg("reconciliation failed, aborting cycle")
		return rec
	}

	stats := e.fetch(ctx, rec)
	e.analyze(rec, stats)
	actions := e.decide(ctx, rec, log)
	e.execute(ctx, rec, actions)

	if len(rec.Errors) > 0 && rec.Status == StatusCompleted {
		rec.Status = StatusCompletedWithErrors
	}
	log.Info().
		Str("status", string(rec.Status)).
		Int("symbols", len(rec.Symbols)).
		Int("actions", len(rec.Actions)).
		Int("trades", len(rec.Trades)).
		Msg("cycle finished")
	return rec
}

func (e *Engine) reconcile(ctx context.Context, rec *CycleRecord) error {
	defer e.timed(rec, "reconcile")()
	positions, closed, balance, available, err := e.tracker.Update(ctx)
	if err != nil {
		return err
	}
	rec.Positions = positions
	rec.ClosedBetween = closed
	rec.Balance = balance
	rec.Available = available
	return nil
}

// fetch fans out one task per (symbol, timeframe) kline window plus one
// stats task per symbol and a single sentiment task, then waits for all of
// them. A failed task is recorded and skipped; it never blocks the rest.
func (e *Engine) fetch(ctx context.Context, rec *CycleRecord) map[string]MarketStats {
	defer e.timed(rec, "fetch")()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats = make(map[string]MarketStats, len(e.cfg.Trading.Symbols))
	)
	fail := func(source, symbol string, err error) {
		metrics.FetchErrorsTotal.WithLabelValues(source).Inc()
		mu.Lock()
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s %s: %v", source, symbol, err))
		mu.Unlock()
	}

	for _, symbol := range e.cfg.Trading.Symbols {
		for _, tf := range e.cfg.Trading.Timeframes {
			wg.Add(1)
			go func(symbol string, tf config.Timeframe) {
				defer wg.Done()
				series, err := e.data.Klines(ctx, symbol, tf.Interval, tf.Candles)
				if err != nil {
					fail("klines", symbol+"/"+tf.Interval, err)
					return
				}
				e.store.Put(symbol, tf.Interval, series)
			}(symbol, tf)
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			var st MarketStats
			if rate, err := e.data.FundingRate(ctx, symbol); err != nil {
				fail("funding", symbol, err)
			} else {
				st.FundingRate = rate
			}
			if ratio, err := e.data.LongShortRatio(ctx, symbol); err != nil {
				fail("long_short", symbol, err)
			} else {
				st.LongShortRatio = ratio
			}
			if t, err := e.data.Ticker24h(ctx, symbol); err != nil {
				fail("ticker", symbol, err)
			} else {
				st.QuoteVolume24h = t.QuoteVolume.Float()
				st.PriceChange24hPct = t.PriceChangePercent.Float()
			}
			mu.Lock()
			stats[symbol] = st
			mu.Unlock()
		}(symbol)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		digest, err := e.sentiment.Fetch(ctx)
		if err != nil {
			fail("sentiment", "", err)
			return
		}
		mu.Lock()
		rec.NewsDigest = digest.Summary
		mu.Unlock()
	}()

	wg.Wait()
	return stats
}

// analyze computes indicator snapshots per timeframe and classifies the
// regime from the primary timeframe. A symbol whose primary window is
// missing or too short is excluded from the decision entirely.
func (e *Engine) analyze(rec *CycleRecord, stats map[string]MarketStats) {
	defer e.timed(rec, "analyze")()
	primary := e.cfg.Trading.Primary().Interval

	for _, symbol := range e.cfg.Trading.Symbols {
		report := SymbolReport{
			Symbol:     symbol,
			Price:      e.store.LatestPrice(symbol),
			Indicators: make(map[string]*indicator.Snapshot, len(e.cfg.Trading.Timeframes)),
			Stats:      stats[symbol],
		}
		for _, tf := range e.cfg.Trading.Timeframes {
			series := e.store.Get(symbol, tf.Interval)
			if series == nil {
				continue
			}
			snap, err := indicator.Compute(series)
			if err != nil {
				rec.Errors = append(rec.Errors, fmt.Sprintf("indicators %s/%s: %v", symbol, tf.Interval, err))
				continue
			}
			report.Indicators[tf.Interval] = snap
		}

		primarySnap, ok := report.Indicators[primary]
		if !ok {
			rec.Errors = append(rec.Errors, fmt.Sprintf("analysis %s: no primary timeframe snapshot", symbol))
			continue
		}
		report.Regime = indicator.Classify(primarySnap)
		rec.Symbols = append(rec.Symbols, report)
	}
}

// decide sends the snapshot to the oracle. Any failure means no actions
// this cycle; open positions stay protected by their resting brackets.
func (e *Engine) decide(ctx context.Context, rec *CycleRecord, log zerolog.Logger) []oracle.TradeAction {
	defer e.timed(rec, "decide")()
	if len(rec.Symbols) == 0 {
		rec.Errors = append(rec.Errors, "decide: no analyzable symbols")
		return nil
	}

	tier := risk.Tier(rec.Balance)
	req := oracle.Request{
		CycleID:       rec.ID,
		Balance:       rec.Balance,
		Available:     rec.Available,
		Positions:     rec.Positions,
		ClosedBetween: rec.ClosedBetween,
		NewsDigest:    rec.NewsDigest,
		Risk: oracle.RiskHint{
			BalanceTier:      tier.Label,
			SuggestedRiskPct: tier.PercentPer,
			MinOrderUSDT:     e.cfg.Trading.MinOrderUSDT,
		},
	}
	for _, s := range rec.Symbols {
		req.Symbols = append(req.Symbols, oracle.SymbolSnapshot{
			Symbol:         s.Symbol,
			Price:          s.Price,
			Regime:         s.Regime,
			Indicators:     s.Indicators,
			FundingRate:    s.Stats.FundingRate,
			LongShortRatio: s.Stats.LongShortRatio,
			QuoteVolume24h: s.Stats.QuoteVolume24h,
			PriceChange24h: s.Stats.PriceChange24hPct,
		})
	}

	resp, err := e.decider.Decide(ctx, req)
	if err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("decide: %v", err))
		log.Warn().Err(err).Msg("oracle unavailable, holding all positions")
		return nil
	}
	rec.OracleAnalysis = resp.Analysis
	rec.Actions = resp.Actions
	return resp.Actions
}

func (e *Engine) execute(ctx context.Context, rec *CycleRecord, actions []oracle.TradeAction) {
	defer e.timed(rec, "execute")()
	if len(actions) == 0 {
		return
	}
	rec.Trades = e.executor.Execute(ctx, actions, e.tracker.Open())
	for _, tr := range rec.Trades {
		if tr.Error != "" {
			rec.Errors = append(rec.Errors, fmt.Sprintf("order %s %s: %s", tr.Action, tr.Symbol, tr.Error))
		}
	}
}

func (e *Engine) timed(rec *CycleRecord, phase string) func() {
	start := time.Now()
	return func() { rec.PhaseMillis[phase] = time.Since(start).Milliseconds() }
}
