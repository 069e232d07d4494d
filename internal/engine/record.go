package engine

import (
	"time"

	"github.com/aphsx/24openClaw/internal/indicator"
	"github.com/aphsx/24openClaw/internal/oracle"
	"github.com/aphsx/24openClaw/internal/order"
	"github.com/aphsx/24openClaw/internal/tracker"
)

// Status is a cycle's terminal outcome.
type Status string

const (
	// StatusCompleted means every phase finished cleanly.
	StatusCompleted Status = "completed"
	// StatusCompletedWithErrors means the cycle finished but degraded:
	// some fetch, analysis, or decision step failed and was skipped.
	StatusCompletedWithErrors Status = "completed_with_errors"
	// StatusFailed means the cycle could not establish its ground truth
	// (account/position reconciliation) or panicked.
	StatusFailed Status = "failed"
)

// MarketStats is the per-symbol context fetched alongside candles.
type MarketStats struct {
	FundingRate       float64 `json:"funding_rate"`
	LongShortRatio    float64 `json:"long_short_ratio"`
	QuoteVolume24h    float64 `json:"quote_volume_24h"`
	PriceChange24hPct float64 `json:"price_change_24h_pct"`
}

// SymbolReport is everything the cycle derived for one instrument.
type SymbolReport struct {
	Symbol     string                         `json:"symbol"`
	Price      float64                        `json:"price"`
	Regime     indicator.Regime               `json:"regime"`
	Indicators map[string]*indicator.Snapshot `json:"indicators"` // keyed by timeframe
	Stats      MarketStats                    `json:"stats"`
}

// CycleRecord is the append-only audit artifact of one full cycle: what was
// seen, what was decided, and what was done.
type CycleRecord struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Status      Status           `json:"status"`
	PhaseMillis map[string]int64 `json:"phase_millis"`

	Balance   float64 `json:"balance"`
	Available float64 `json:"available_margin"`

	Positions     []tracker.Position            `json:"positions"`
	ClosedBetween []tracker.ClosedPositionEvent `json:"closed_between_cycles,omitempty"`

	Symbols    []SymbolReport `json:"symbols"`
	NewsDigest string         `json:"news_digest,omitempty"`

	OracleAnalysis string               `json:"oracle_analysis,omitempty"`
	Actions        []oracle.TradeAction `json:"actions,omitempty"`
	Trades         []order.Trade        `json:"trades,omitempty"`

	Errors []string `json:"errors,omitempty"`
	Stack  string   `json:"stack,omitempty"`
}
