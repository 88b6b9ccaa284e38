package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// TickerSource is the REST fallback when the cache misses, typically the
// exchange gateway.
type TickerSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceFeed implements domain.PriceFeed by reading the WebSocket-fed cache
// first and falling back to a REST ticker query when the cached price is
// missing or older than MaxAge.
type PriceFeed struct {
	cache  domain.PriceCache
	rest   TickerSource
	maxAge time.Duration
}

// NewPriceFeed creates a cache-first price feed. maxAge bounds how stale a
// cached price may be before the REST fallback is consulted.
func NewPriceFeed(cache domain.PriceCache, rest TickerSource, maxAge time.Duration) *PriceFeed {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &PriceFeed{cache: cache, rest: rest, maxAge: maxAge}
}

var _ domain.PriceFeed = (*PriceFeed)(nil)

// LastPrice returns the freshest known price for symbol.
func (f *PriceFeed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	price, ts, err := f.cache.GetPrice(ctx, symbol)
	if err == nil && price > 0 && time.Since(ts) <= f.maxAge {
		return price, nil
	}
	// A cache miss and a cache infrastructure failure both fall through to
	// the REST path.
	if f.rest == nil {
		return 0, fmt.Errorf("feed: %s: %w", symbol, domain.ErrNoPrice)
	}
	price, restErr := f.rest.LastPrice(ctx, symbol)
	if restErr != nil {
		return 0, fmt.Errorf("feed: %s rest fallback: %w", symbol, restErr)
	}
	if price <= 0 {
		return 0, fmt.Errorf("feed: %s: %w", symbol, domain.ErrNoPrice)
	}
	return price, nil
}

// FillPrice estimates the execution price for a market order on side. The
// mark price is the best available estimate for both sides here; the side
// parameter exists so a spread-aware implementation can slot in.
func (f *PriceFeed) FillPrice(ctx context.Context, symbol string, side domain.Side) (float64, error) {
	return f.LastPrice(ctx, symbol)
}
