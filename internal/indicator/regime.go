package indicator

// Regime is a coarse classification of current market behavior. Downstream
// sizing depends on these exact labels.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeVolatile     Regime = "volatile"
	RegimeUnknown      Regime = "unknown"
)

const (
	volatileATRPct  = 1.5
	trendADX        = 25.0
	rangeADX        = 20.0
	narrowBandWidth = 0.03
)

// Classify maps one snapshot to a regime. First match wins:
// high ATR% → volatile; strong ADX → trending (EMA stack plus Supertrend
// agreement, falling back to Supertrend direction alone); weak ADX with a
// narrow Bollinger channel → ranging; everything else ranges too.
// A nil snapshot classifies as unknown.
func Classify(snap *Snapshot) Regime {
	if snap == nil {
		return RegimeUnknown
	}

	if snap.ATR14Pct > volatileATRPct {
		return RegimeVolatile
	}

	if snap.ADX > trendADX {
		up := snap.Supertrend.Direction == "up"
		switch {
		case snap.EMA9 > snap.EMA21 && snap.EMA21 > snap.EMA55 && up:
			return RegimeTrendingUp
		case snap.EMA9 < snap.EMA21 && snap.EMA21 < snap.EMA55 && !up:
			return RegimeTrendingDown
		case up:
			return RegimeTrendingUp
		default:
			return RegimeTrendingDown
		}
	}

	if snap.ADX < rangeADX && snap.Bollinger.Width < narrowBandWidth {
		return RegimeRanging
	}
	return RegimeRanging
}
