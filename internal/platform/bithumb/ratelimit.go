package bithumb

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// RateLimitedSource waits on a shared limiter before each fetch so that all
// replicas together stay under the exchange's public API quota.
type RateLimitedSource struct {
	next    domain.PriceSource
	limiter domain.RateLimiter
	key     string
	limit   int
	window  time.Duration
}

// NewRateLimitedSource wraps next with a limit of limit requests per window.
func NewRateLimitedSource(next domain.PriceSource, limiter domain.RateLimiter, key string, limit int, window time.Duration) *RateLimitedSource {
	return &RateLimitedSource{
		next:    next,
		limiter: limiter,
		key:     key,
		limit:   limit,
		window:  window,
	}
}

// Fetch implements domain.PriceSource.
func (s *RateLimitedSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := s.limiter.Wait(ctx, s.key, s.limit, s.window); err != nil {
		return decimal.Zero, fmt.Errorf("bithumb: %w: %s: rate limit wait: %w", domain.ErrFetch, symbol, err)
	}
	return s.next.Fetch(ctx, symbol)
}
