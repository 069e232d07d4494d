// Package risk encodes sizing guard-rails: the balance-tier hint passed to
// the decision oracle and the hard safety bound on bracket prices.
package risk

// TierHint suggests how much of the balance one trade may risk.
type TierHint struct {
	Label      string
	PercentPer float64
}

// Tier buckets an account balance. Smaller accounts risk a larger share so
// orders clear the exchange minimum.
func Tier(balance float64) TierHint {
	switch {
	case balance < 50:
		return TierHint{Label: "<$50", PercentPer: 20}
	case balance < 100:
		return TierHint{Label: "$50-100", PercentPer: 10}
	case balance < 300:
		return TierHint{Label: "$100-300", PercentPer: 7}
	case balance < 1000:
		return TierHint{Label: "$300-1000", PercentPer: 4}
	default:
		return TierHint{Label: ">$1000", PercentPer: 2.5}
	}
}

// Side is a position direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Bound is the hard maximum-loss stop and default target, as percentages
// of entry price. No upstream suggestion may loosen the stop side.
type Bound struct {
	StopPct   float64
	TargetPct float64
}

// StopPrice returns the bound's stop level for a position entered at entry.
func (b Bound) StopPrice(side Side, entry float64) float64 {
	if side == Long {
		return entry * (1 - b.StopPct/100)
	}
	return entry * (1 + b.StopPct/100)
}

// TargetPrice returns the bound's symmetric take-profit level.
func (b Bound) TargetPrice(side Side, entry float64) float64 {
	if side == Long {
		return entry * (1 + b.TargetPct/100)
	}
	return entry * (1 - b.TargetPct/100)
}

// ClampStop returns proposed unless it sits farther from entry than the
// bound allows (or on the wrong side of entry entirely), in which case the
// bound's own stop wins.
func (b Bound) ClampStop(side Side, entry, proposed float64) float64 {
	limit := b.StopPrice(side, entry)
	if side == Long {
		if proposed < limit || proposed >= entry {
			return limit
		}
		return proposed
	}
	if proposed > limit || proposed <= entry {
		return limit
	}
	return proposed
}

// ValidTarget reports whether proposed sits on the profit side of entry.
func ValidTarget(side Side, entry, proposed float64) bool {
	if side == Long {
		return proposed > entry
	}
	return proposed < entry && proposed > 0
}
