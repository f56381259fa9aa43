package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each symbol's price is stored as a hash at key "price:{SYMBOL}" with fields
// "price" (decimal string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl; zero keeps them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(symbol string) string {
	return pc.c.Key("price", domain.NormalizeSymbol(symbol))
}

// SetPrice stores the latest price and timestamp for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := pc.priceKey(symbol)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok, err := parsePriceHash(vals)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices retrieves the latest prices for multiple symbols using a pipeline.
// Symbols whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[domain.NormalizeSymbol(s)] = pipe.HGetAll(ctx, pc.priceKey(s))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		price, _, ok, err := parsePriceHash(vals)
		if err != nil || !ok {
			continue
		}
		result[sym] = price
	}

	return result, nil
}

func parsePriceHash(vals map[string]string) (decimal.Decimal, time.Time, bool, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, false, nil
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, false, err
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, false, nil
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, false, err
	}
	return price, time.Unix(0, tsNano).UTC(), true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
