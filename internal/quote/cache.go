package quote

import (
	"context"
	"sync"
	"time"

	"github.com/philipodonnell/paperbroker/internal/asset"
)

// CurrentDater is implemented by sources that answer quotes for an explicit
// "current" date (historical/backtest sources). The cache uses it to key
// entries by (symbol, date) so advancing the date never serves stale prices.
type CurrentDater interface {
	CurrentDate() time.Time
}

// Cache wraps a Source with an in-memory read-through cache keyed by
// (symbol, quote date). It is an explicit, injected component rather than
// process-wide mutable state.
type Cache struct {
	inner Source

	mu     sync.RWMutex
	quotes map[cacheKey]*Quote
}

type cacheKey struct {
	symbol string
	date   string // YYYY-MM-DD, empty for undated sources
}

// NewCache creates a cache around a source.
func NewCache(inner Source) *Cache {
	return &Cache{
		inner:  inner,
		quotes: make(map[cacheKey]*Quote),
	}
}

func (c *Cache) key(symbol string) cacheKey {
	k := cacheKey{symbol: symbol}
	if d, ok := c.inner.(CurrentDater); ok {
		k.date = d.CurrentDate().Format("2006-01-02")
	}
	return k
}

func (c *Cache) GetQuote(ctx context.Context, a asset.Asset) (*Quote, error) {
	key := c.key(a.Symbol)

	c.mu.RLock()
	q, ok := c.quotes[key]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := c.inner.GetQuote(ctx, a)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.quotes[key] = q
	c.mu.Unlock()
	return q, nil
}

func (c *Cache) GetOptions(ctx context.Context, underlying asset.Asset, expiration time.Time) ([]*Quote, error) {
	return c.inner.GetOptions(ctx, underlying, expiration)
}

func (c *Cache) GetExpirationDates(ctx context.Context, underlying asset.Asset) ([]time.Time, error) {
	return c.inner.GetExpirationDates(ctx, underlying)
}

// Invalidate drops every cached quote. Required after mutating an undated
// source's prices in place.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.quotes = make(map[cacheKey]*Quote)
	c.mu.Unlock()
}
