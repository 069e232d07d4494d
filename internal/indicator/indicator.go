// Package indicator is the pure numeric core: candle series in, indicator
// snapshot out. No I/O, no state across calls.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/aphsx/24openClaw/internal/market"
)

// MinBars is the longest lookback among the constituent indicators (EMA55).
const MinBars = 55

// ErrInsufficientData is returned when the series is shorter than MinBars.
var ErrInsufficientData = errors.New("insufficient candle data")

// MACD holds the converging-average triple.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bollinger holds band levels plus relative width.
type Bollinger struct {
	Upper float64 `json:"upper"`
	Mid   float64 `json:"mid"`
	Lower float64 `json:"lower"`
	Width float64 `json:"width"`
}

// Supertrend carries the trailing band value and its direction.
type Supertrend struct {
	Value     float64 `json:"value"`
	Direction string  `json:"direction"` // "up" or "down"
}

// Snapshot is the latest value of every indicator computed from one series.
type Snapshot struct {
	EMA9        float64    `json:"ema9"`
	EMA21       float64    `json:"ema21"`
	EMA55       float64    `json:"ema55"`
	EMA200      float64    `json:"ema200,omitempty"`
	HasEMA200   bool       `json:"-"`
	RSI14       float64    `json:"rsi14"`
	MACD        MACD       `json:"macd"`
	Bollinger   Bollinger  `json:"bb"`
	ATR14       float64    `json:"atr14"`
	ATR14Pct    float64    `json:"atr14_pct"`
	VWAP        float64    `json:"vwap"`
	ADX         float64    `json:"adx"`
	StochRSIK   float64    `json:"stoch_rsi_k"`
	StochRSID   float64    `json:"stoch_rsi_d"`
	OBV         float64    `json:"obv"`
	OBVTrend    string     `json:"obv_trend"` // rising, falling, neutral
	Supertrend  Supertrend `json:"supertrend"`
	VolumeRatio float64    `json:"volume_ratio"`
}

// Compute derives the full snapshot from one candle series. It fails rather
// than degrade when fewer than MinBars candles are supplied. Identical input
// always produces identical output.
func Compute(s market.Series) (*Snapshot, error) {
	if len(s) < MinBars {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(s), MinBars)
	}

	closes := s.Closes()
	highs := s.Highs()
	lows := s.Lows()
	volumes := s.Volumes()
	last := len(closes) - 1
	lastClose := closes[last]

	snap := &Snapshot{
		EMA9:  lastOf(emaSeries(closes, 9)),
		EMA21: lastOf(emaSeries(closes, 21)),
		EMA55: lastOf(emaSeries(closes, 55)),
	}
	if len(closes) >= 200 {
		snap.EMA200 = lastOf(emaSeries(closes, 200))
		snap.HasEMA200 = true
	}

	rsi := rsiSeries(closes, 14)
	snap.RSI14 = rsi[last]

	snap.MACD = macd(closes, 12, 26, 9)
	snap.Bollinger = bollinger(closes, 20, 2.0)

	atr := atrSeries(highs, lows, closes, 14)
	snap.ATR14 = atr[last]
	if lastClose != 0 {
		snap.ATR14Pct = snap.ATR14 / lastClose * 100
	}

	snap.VWAP = vwap(highs, lows, closes, volumes)
	snap.ADX = adx(highs, lows, closes, 14)
	snap.StochRSIK, snap.StochRSID = stochRSI(rsi, 14, 3, 3)

	obv := obvSeries(closes, volumes)
	snap.OBV = obv[last]
	snap.OBVTrend = "neutral"
	if len(obv) >= 5 {
		if obv[last] > obv[len(obv)-5] {
			snap.OBVTrend = "rising"
		} else {
			snap.OBVTrend = "falling"
		}
	}

	snap.Supertrend = supertrend(highs, lows, closes, 10, 3.0)

	snap.VolumeRatio = 1.0
	if avg := sma(volumes, 20); avg > 0 {
		snap.VolumeRatio = volumes[last] / avg
	}

	return snap, nil
}

func lastOf(v []float64) float64 { return v[len(v)-1] }

// emaSeries computes an exponential moving average over the whole series,
// seeded with the first value (alpha = 2/(span+1)).
func emaSeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// sma averages the trailing window ending at the last element.
func sma(values []float64, window int) float64 {
	if len(values) < window {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// rsiSeries computes Wilder-smoothed RSI. Indices before the first full
// lookback hold the neutral value 50. Zero average loss maps to 100 (or 50
// when there were no gains either), never NaN.
func rsiSeries(closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := 0; i < n && i <= period; i++ {
		out[i] = 50
	}
	if n <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func macd(closes []float64, fast, slow, signal int) MACD {
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := emaSeries(line, signal)
	last := len(closes) - 1
	return MACD{
		Line:      line[last],
		Signal:    sig[last],
		Histogram: line[last] - sig[last],
	}
}

func bollinger(closes []float64, period int, mult float64) Bollinger {
	mid := sma(closes, period)
	window := closes[len(closes)-period:]
	var variance float64
	for _, v := range window {
		variance += (v - mid) * (v - mid)
	}
	// Sample variance, matching a rolling std with one delta degree of freedom.
	std := math.Sqrt(variance / float64(period-1))
	b := Bollinger{
		Upper: mid + mult*std,
		Mid:   mid,
		Lower: mid - mult*std,
	}
	if mid != 0 {
		b.Width = (b.Upper - b.Lower) / b.Mid
	}
	return b
}

// trueRanges takes the max of the three candidates; the first bar has no
// previous close so its range is high-low.
func trueRanges(highs, lows, closes []float64) []float64 {
	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

func atrSeries(highs, lows, closes []float64, period int) []float64 {
	return emaSeries(trueRanges(highs, lows, closes), period)
}

func adx(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr := atrSeries(highs, lows, closes, period)
	plusSm := emaSeries(plusDM, period)
	minusSm := emaSeries(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if atr[i] == 0 {
			continue
		}
		pdi := 100 * plusSm[i] / atr[i]
		mdi := 100 * minusSm[i] / atr[i]
		if pdi+mdi == 0 {
			continue
		}
		dx[i] = math.Abs(pdi-mdi) / (pdi + mdi) * 100
	}
	return lastOf(emaSeries(dx, period))
}

// stochRSI normalizes RSI within its rolling range and smooths twice.
// Returns K and D scaled to 0..100; undefined windows resolve to the
// neutral midpoint.
func stochRSI(rsi []float64, stochPeriod, smoothK, smoothD int) (float64, float64) {
	n := len(rsi)
	stoch := make([]float64, n)
	valid := make([]bool, n)
	for i := stochPeriod - 1; i < n; i++ {
		lo, hi := rsi[i], rsi[i]
		for j := i - stochPeriod + 1; j <= i; j++ {
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if hi-lo == 0 {
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo)
		valid[i] = true
	}

	k := rollingMean(stoch, valid, smoothK)
	kValid := make([]bool, n)
	for i := range kValid {
		kValid[i] = !math.IsNaN(k[i])
	}
	d := rollingMean(k, kValid, smoothD)

	kLast, dLast := k[n-1], d[n-1]
	if math.IsNaN(kLast) {
		kLast = 0.5
	}
	if math.IsNaN(dLast) {
		dLast = 0.5
	}
	return kLast * 100, dLast * 100
}

// rollingMean averages trailing windows, yielding NaN until the window holds
// only valid values.
func rollingMean(values []float64, valid []bool, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
		if i < window-1 {
			continue
		}
		sum, ok := 0.0, true
		for j := i - window + 1; j <= i; j++ {
			if !valid[j] {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(window)
		}
	}
	return out
}

func obvSeries(closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		out[i] = out[i-1]
		switch {
		case closes[i] > closes[i-1]:
			out[i] += volumes[i]
		case closes[i] < closes[i-1]:
			out[i] -= volumes[i]
		}
	}
	return out
}

func vwap(highs, lows, closes, volumes []float64) float64 {
	var cumPV, cumVol float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumVol += volumes[i]
	}
	if cumVol == 0 {
		return 0
	}
	return cumPV / cumVol
}

// supertrend trails price with ATR bands. Direction flips only when the
// close crosses the opposite band from the previous bar; within one
// direction the band ratchets toward price and never loosens.
func supertrend(highs, lows, closes []float64, period int, mult float64) Supertrend {
	n := len(closes)
	atr := atrSeries(highs, lows, closes, period)

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < n; i++ {
		mid := (highs[i] + lows[i]) / 2
		upper[i] = mid + mult*atr[i]
		lower[i] = mid - mult*atr[i]
	}

	value := make([]float64, n)
	dir := make([]int, n)
	value[0] = lower[0]
	dir[0] = 1

	for i := 1; i < n; i++ {
		switch {
		case closes[i] > upper[i-1]:
			dir[i] = 1
		case closes[i] < lower[i-1]:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
		}

		if dir[i] == 1 {
			if dir[i-1] == 1 {
				value[i] = math.Max(lower[i], value[i-1])
			} else {
				value[i] = lower[i]
			}
		} else {
			if dir[i-1] == -1 {
				value[i] = math.Min(upper[i], value[i-1])
			} else {
				value[i] = upper[i]
			}
		}
	}

	direction := "up"
	if dir[n-1] == -1 {
		direction = "down"
	}
	return Supertrend{Value: value[n-1], Direction: direction}
}
