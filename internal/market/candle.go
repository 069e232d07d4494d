// Package market standardizes candle data shared between the fetch layer,
// the indicator engine, and the cycle orchestrator.
package market

import (
	"sort"
	"sync"
	"time"
)

// Candle is one immutable OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Series is an ordered candle sequence, strictly increasing by OpenTime.
type Series []Candle

// Closes returns the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high column.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows returns the low column.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Volumes returns the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// Store holds the latest candle window per (symbol, timeframe). Each Put
// wholesale-replaces the previous window; nothing mutates a stored series.
type Store struct {
	mu         sync.RWMutex
	maxCandles int
	primary    string
	series     map[string]map[string]Series
}

// NewStore builds a store. primary names the timeframe used for latest-price
// lookups; maxCandles bounds each stored window (0 means unbounded).
func NewStore(primary string, maxCandles int) *Store {
	return &Store{
		maxCandles: maxCandles,
		primary:    primary,
		series:     make(map[string]map[string]Series),
	}
}

// Put replaces the window for (symbol, timeframe). The input is copied,
// sorted by open time, and truncated to the newest maxCandles bars.
func (st *Store) Put(symbol, timeframe string, s Series) {
	if len(s) == 0 {
		return
	}
	cp := make(Series, len(s))
	copy(cp, s)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime.Before(cp[j].OpenTime) })
	if st.maxCandles > 0 && len(cp) > st.maxCandles {
		cp = cp[len(cp)-st.maxCandles:]
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.series[symbol] == nil {
		st.series[symbol] = make(map[string]Series)
	}
	st.series[symbol][timeframe] = cp
}

// Get returns the stored window for (symbol, timeframe), or nil.
func (st *Store) Get(symbol, timeframe string) Series {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.series[symbol][timeframe]
}

// LatestPrice returns the last close on the primary timeframe, 0 if absent.
func (st *Store) LatestPrice(symbol string) float64 {
	s := st.Get(symbol, st.primary)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Close
}

// Symbols lists every symbol with at least one stored window.
func (st *Store) Symbols() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.series))
	for sym := range st.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
