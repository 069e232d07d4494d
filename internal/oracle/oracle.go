// Package oracle is the decision boundary: the engine hands a structured
// market snapshot to an opaque decider and gets trade actions back. Any
// response that fails validation collapses to "no actions" — the fail-safe
// direction is always inaction.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aphsx/24openClaw/internal/indicator"
	"github.com/aphsx/24openClaw/internal/tracker"
)

// Action values a decider may return.
const (
	ActionOpenLong  = "open_long"
	ActionOpenShort = "open_short"
	ActionClose     = "close"
	ActionHold      = "hold"
	ActionSkip      = "skip"
)

// TradeAction is one instruction from the decider. StopPrice/TargetPrice of
// zero mean "no suggestion".
type TradeAction struct {
	Action      string  `json:"action"`
	Symbol      string  `json:"symbol"`
	MarginUSDT  float64 `json:"margin_usdt,omitempty"`
	StopPrice   float64 `json:"stop_price,omitempty"`
	TargetPrice float64 `json:"target_price,omitempty"`
	Confidence  int     `json:"confidence,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// SymbolSnapshot is everything the decider sees about one instrument.
type SymbolSnapshot struct {
	Symbol         string                          `json:"symbol"`
	Price          float64                         `json:"price"`
	Regime         indicator.Regime                `json:"regime"`
	Indicators     map[string]*indicator.Snapshot  `json:"indicators"` // keyed by timeframe
	FundingRate    float64                         `json:"funding_rate"`
	LongShortRatio float64                         `json:"long_short_ratio"`
	QuoteVolume24h float64                         `json:"quote_volume_24h"`
	PriceChange24h float64                         `json:"price_change_24h_pct"`
}

// RiskHint tells the decider how much one trade should risk.
type RiskHint struct {
	BalanceTier      string  `json:"balance_tier"`
	SuggestedRiskPct float64 `json:"suggested_risk_pct"`
	MinOrderUSDT     float64 `json:"min_order_usdt"`
}

// Request is the full decision payload for one cycle.
type Request struct {
	CycleID       string                        `json:"cycle_id"`
	Symbols       []SymbolSnapshot              `json:"symbols"`
	Balance       float64                       `json:"balance"`
	Available     float64                       `json:"available_margin"`
	Positions     []tracker.Position            `json:"positions"`
	ClosedBetween []tracker.ClosedPositionEvent `json:"closed_between_cycles,omitempty"`
	NewsDigest    string                        `json:"news_digest,omitempty"`
	Risk          RiskHint                      `json:"risk"`
}

// Response is the decider's parsed, validated output.
type Response struct {
	Analysis string        `json:"analysis"`
	Actions  []TradeAction `json:"actions"`
}

// Decider turns a market snapshot into trade actions. Implementations are
// swappable; the engine treats any error as "no actions".
type Decider interface {
	Decide(ctx context.Context, req Request) (Response, error)
}

// ErrAllProvidersFailed is returned by a Chain when no provider answered.
var ErrAllProvidersFailed = errors.New("all decision providers failed")

// Chain tries providers in order and returns the first usable response.
type Chain []Decider

func (c Chain) Decide(ctx context.Context, req Request) (Response, error) {
	var lastErr error = ErrAllProvidersFailed
	for _, d := range c {
		resp, err := d.Decide(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return Response{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// ParseResponse validates raw decider output. Malformed JSON, missing
// fields, or unknown action values yield a response with zero actions —
// never an aggressive default.
func ParseResponse(raw []byte) Response {
	// Deciders sometimes wrap the JSON object in prose; take the outermost
	// object if one exists.
	start := strings.IndexByte(string(raw), '{')
	end := strings.LastIndexByte(string(raw), '}')
	if start < 0 || end <= start {
		return Response{}
	}

	var parsed Response
	if err := json.Unmarshal(raw[start:end+1], &parsed); err != nil {
		return Response{}
	}

	valid := parsed.Actions[:0]
	for _, a := range parsed.Actions {
		a.Action = strings.ToLower(strings.TrimSpace(a.Action))
		switch a.Action {
		case ActionOpenLong, ActionOpenShort, ActionClose, ActionHold, ActionSkip:
		default:
			continue
		}
		if a.Symbol == "" {
			continue
		}
		valid = append(valid, a)
	}
	parsed.Actions = valid
	return parsed
}
