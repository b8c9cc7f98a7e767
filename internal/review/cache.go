package review

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// CachedProvider memoizes terminal states, which never change, so a ref that
// already resolved is not queried again. Open states always pass through.
// Concurrent lookups of the same ref share one inner call.
type CachedProvider struct {
	inner    StatusProvider
	cache    *ristretto.Cache[string, State]
	inflight singleflight.Group
}

const minCounters = 100

// NewCachedProvider wraps inner with a cache bounded to maxCostBytes.
func NewCachedProvider(inner StatusProvider, maxCostBytes int64) (*CachedProvider, error) {
	if maxCostBytes <= 0 {
		return nil, fmt.Errorf("create review cache: max cost must be positive, got %d", maxCostBytes)
	}
	counters := maxCostBytes / 100 * 10 // ~10x expected items
	if counters < minCounters {
		counters = minCounters
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, State]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create review cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: c}, nil
}

func (p *CachedProvider) Status(ctx context.Context, ref string) (State, error) {
	if st, ok := p.cache.Get(ref); ok {
		return st, nil
	}
	v, err, _ := p.inflight.Do(ref, func() (any, error) {
		st, err := p.inner.Status(ctx, ref)
		if err != nil {
			return "", err
		}
		if st.Terminal() {
			p.cache.Set(ref, st, int64(len(ref)+len(st)))
		}
		return st, nil
	})
	if err != nil {
		return "", err
	}
	return v.(State), nil
}

// Wait blocks until pending cache writes are applied.
func (p *CachedProvider) Wait() {
	p.cache.Wait()
}

func (p *CachedProvider) Close() {
	p.cache.Close()
}
