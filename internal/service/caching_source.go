package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// CachingSource decorates a PriceSource: every successful fetch is written to
// the price cache and published on the price_updates channel. Cache and bus
// failures never fail the fetch.
type CachingSource struct {
	next   domain.PriceSource
	cache  domain.PriceCache
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.PriceSource = (*CachingSource)(nil)

// NewCachingSource wraps next. cache and bus may be nil.
func NewCachingSource(next domain.PriceSource, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *CachingSource {
	return &CachingSource{
		next:   next,
		cache:  cache,
		bus:    bus,
		now:    time.Now,
		logger: logger.With(slog.String("component", "price_cache")),
	}
}

// Fetch delegates to the wrapped source.
func (s *CachingSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := s.next.Fetch(ctx, symbol)
	if err != nil {
		return price, err
	}
	ts := s.now()

	if s.cache != nil {
		if cerr := s.cache.SetPrice(ctx, symbol, price, ts); cerr != nil {
			s.logger.WarnContext(ctx, "cache price failed",
				slog.String("symbol", symbol),
				slog.String("error", cerr.Error()),
			)
		}
	}
	if s.bus != nil {
		evt, _ := marshalEvent("price_update", map[string]any{
			"symbol":     symbol,
			"price":      price.String(),
			"fetched_at": ts.UTC().Format(time.RFC3339Nano),
		})
		if perr := s.bus.Publish(ctx, domain.ChannelPriceUpdates, evt); perr != nil {
			s.logger.WarnContext(ctx, "publish price update failed",
				slog.String("symbol", symbol),
				slog.String("error", perr.Error()),
			)
		}
	}
	return price, nil
}
