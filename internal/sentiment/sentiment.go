// Package sentiment is the boundary to external news/sentiment collection.
// The collection itself lives outside this engine; what matters here is that
// a slow or failing source can never stall a cycle.
package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Digest is the condensed sentiment input handed to the decision oracle.
type Digest struct {
	Summary   string    `json:"summary"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Fetcher produces a fresh digest. Implementations may be arbitrarily slow.
type Fetcher interface {
	Fetch(ctx context.Context) (Digest, error)
}

// Static returns a fixed digest; the default placeholder when no external
// collector is wired.
type Static struct{ Summary string }

func (s Static) Fetch(ctx context.Context) (Digest, error) {
	return Digest{Summary: s.Summary, FetchedAt: time.Now()}, nil
}

// Cached wraps a fetcher with a sub-deadline. On timeout or error it serves
// the last good digest, marked stale, so the orchestrator always proceeds.
type Cached struct {
	inner   Fetcher
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	last Digest
}

// NewCached builds the wrapper around inner with the given sub-deadline.
func NewCached(inner Fetcher, timeout time.Duration, log zerolog.Logger) *Cached {
	return &Cached{inner: inner, timeout: timeout, log: log}
}

// Fetch runs the inner fetcher under the sub-deadline and falls back to the
// cached digest rather than blocking the cycle.
func (c *Cached) Fetch(ctx context.Context) (Digest, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		digest Digest
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := c.inner.Fetch(fetchCtx)
		ch <- result{d, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			c.log.Warn().Err(res.err).Msg("sentiment fetch failed, serving cached digest")
			return c.cached(), nil
		}
		c.mu.Lock()
		c.last = res.digest
		c.mu.Unlock()
		return res.digest, nil
	case <-fetchCtx.Done():
		c.log.Warn().Dur("timeout", c.timeout).Msg("sentiment fetch timed out, serving cached digest")
		return c.cached(), nil
	}
}

func (c *Cached) cached() Digest {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.last
	d.Stale = true
	return d
}
