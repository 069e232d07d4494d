package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type slowFetcher struct {
	delay  time.Duration
	digest Digest
	err    error
}

func (s slowFetcher) Fetch(ctx context.Context) (Digest, error) {
	select {
	case <-time.After(s.delay):
		return s.digest, s.err
	case <-ctx.Done():
		return Digest{}, ctx.Err()
	}
}

func TestCachedServesFreshDigest(t *testing.T) {
	c := NewCached(slowFetcher{digest: Digest{Summary: "fresh"}}, time.Second, zerolog.Nop())
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if got.Summary != "fresh" || got.Stale {
		t.Fatalf("expected fresh digest, got %+v", got)
	}
}

func TestCachedFallsBackOnTimeout(t *testing.T) {
	inner := &toggleFetcher{first: Digest{Summary: "cached copy"}}
	c := NewCached(inner, 50*time.Millisecond, zerolog.Nop())

	// Prime the cache.
	if _, err := c.Fetch(context.Background()); err != nil {
		t.Fatalf("priming fetch failed: %v", err)
	}

	inner.slow = true
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if got.Summary != "cached copy" || !got.Stale {
		t.Fatalf("expected stale cached digest, got %+v", got)
	}
}

func TestCachedFallsBackOnError(t *testing.T) {
	c := NewCached(slowFetcher{err: errors.New("feed down")}, time.Second, zerolog.Nop())
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if !got.Stale {
		t.Fatalf("expected stale marker on empty cache fallback, got %+v", got)
	}
}

type toggleFetcher struct {
	first Digest
	slow  bool
}

func (f *toggleFetcher) Fetch(ctx context.Context) (Digest, error) {
	if f.slow {
		<-ctx.Done()
		return Digest{}, ctx.Err()
	}
	return f.first, nil
}
