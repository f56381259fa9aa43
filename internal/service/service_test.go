package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
	"github.com/alanyoungcy/pricealertbot/internal/subscription"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu      sync.Mutex
	pubs    []published
	streams []published
	failPub error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub != nil {
		return b.failPub
	}
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, published{stream, payload})
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	events []string
	fail   error
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	if a.fail != nil {
		return a.fail
	}
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeAlertStore struct {
	inserted  []domain.Alert
	delivered []string
	failIns   error
}

func (s *fakeAlertStore) Insert(_ context.Context, a domain.Alert) error {
	if s.failIns != nil {
		return s.failIns
	}
	s.inserted = append(s.inserted, a)
	return nil
}

func (s *fakeAlertStore) MarkDelivered(_ context.Context, id string) error {
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *fakeAlertStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.inserted {
		if a.OwnerID == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) ListBetween(context.Context, time.Time, time.Time) ([]domain.Alert, error) {
	return nil, nil
}

func (s *fakeAlertStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newSubscriptionService(audit domain.AuditStore, bus domain.SignalBus) *SubscriptionService {
	store := subscription.NewStore(domain.Band{UpperPct: d("10"), LowerPct: d("-5")})
	return NewSubscriptionService(store, audit, bus, discard())
}

func TestSubscriptionServiceRegisterAudits(t *testing.T) {
	audit := &fakeAudit{}
	bus := &fakeBus{}
	svc := newSubscriptionService(audit, bus)

	sub, err := svc.Register(context.Background(), "chat-1", "btc", d("100"), dp("20"))
	require.NoError(t, err)
	assert.Equal(t, "BTC", sub.Symbol)
	assert.True(t, d("120").Equal(sub.UpperThreshold))

	assert.Equal(t, []string{"subscription.upserted"}, audit.events)
	require.Len(t, bus.pubs, 1)
	assert.Equal(t, domain.ChannelSubscriptions, bus.pubs[0].channel)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.pubs[0].payload, &evt))
	assert.Equal(t, "subscription.upserted", evt["event"])
	assert.Equal(t, 1, svc.Count())
}

func TestSubscriptionServiceRejectsInvalid(t *testing.T) {
	audit := &fakeAudit{}
	svc := newSubscriptionService(audit, nil)

	_, err := svc.Register(context.Background(), "o", "BTC", d("-1"), nil)
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, audit.events)
	assert.Zero(t, svc.Count())
}

func TestSubscriptionServiceAuditFailureIsNotFatal(t *testing.T) {
	svc := newSubscriptionService(&fakeAudit{fail: errors.New("db down")}, &fakeBus{failPub: errors.New("redis down")})

	_, err := svc.Register(context.Background(), "o", "BTC", d("100"), nil)
	assert.NoError(t, err)
}

func TestSubscriptionServiceRemove(t *testing.T) {
	audit := &fakeAudit{}
	svc := newSubscriptionService(audit, nil)
	ctx := context.Background()

	err := svc.Remove(ctx, "o", "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Register(ctx, "o", "BTC", d("100"), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, "o", "btc"))
	assert.Equal(t, []string{"subscription.upserted", "subscription.removed"}, audit.events)

	_, err = svc.Get("o", "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscriptionServiceSetThresholds(t *testing.T) {
	svc := newSubscriptionService(nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "o", "BTC", d("100"), nil)
	require.NoError(t, err)

	sub, err := svc.SetThresholds(ctx, "o", "BTC", dp("130"), dp("80"))
	require.NoError(t, err)
	assert.True(t, d("130").Equal(sub.UpperThreshold))
	assert.True(t, d("80").Equal(sub.LowerThreshold))

	_, err = svc.SetThresholds(ctx, "o", "BTC", dp("70"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSubscriptionServiceSeedCollectsErrors(t *testing.T) {
	svc := newSubscriptionService(nil, nil)

	err := svc.Seed(context.Background(), []Seed{
		{OwnerID: "o", Symbol: "BTC", ReferencePrice: d("100")},
		{OwnerID: "o", Symbol: "", ReferencePrice: d("100")},
		{OwnerID: "o", Symbol: "ETH", ReferencePrice: d("0")},
		{OwnerID: "o", Symbol: "XRP", ReferencePrice: d("1"), TargetReturnPct: dp("-20")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	var symbols []string
	for _, sub := range svc.List("o") {
		symbols = append(symbols, sub.Symbol)
	}
	assert.Equal(t, []string{"BTC", "XRP"}, symbols)
}

func TestSubscriptionServicePortfolio(t *testing.T) {
	svc := newSubscriptionService(nil, nil)
	assert.Equal(t, "no tracked symbols", svc.Portfolio("o"))

	_, err := svc.Register(context.Background(), "o", "BTC", d("100"), nil)
	require.NoError(t, err)
	assert.Equal(t, "BTC  ref 100.00  ▲ 110.00  ▼ 95.00", svc.Portfolio("o"))
}

func TestFormatPortfolioWithLastPrice(t *testing.T) {
	last := d("101")
	subs := []domain.Subscription{{
		Symbol:         "BTC",
		ReferencePrice: d("100"),
		UpperThreshold: d("110"),
		LowerThreshold: d("95"),
		LastPrice:      &last,
	}, {
		Symbol:         "ETH",
		ReferencePrice: d("200"),
		UpperThreshold: d("220"),
		LowerThreshold: d("190"),
	}}
	assert.Equal(t,
		"BTC  ref 100.00  ▲ 110.00  ▼ 95.00  last 101.00 (+1.00%)\nETH  ref 200.00  ▲ 220.00  ▼ 190.00",
		FormatPortfolio(subs))
}

func sampleAlert(id, owner string, at time.Time) domain.Alert {
	return domain.Alert{
		ID:        id,
		OwnerID:   owner,
		Symbol:    "BTC",
		Side:      domain.SideUpper,
		Price:     d("111"),
		FiredAt:   at,
		Threshold: d("110"),
	}
}

func TestAlertServiceRecordPersistsAndPublishes(t *testing.T) {
	store := &fakeAlertStore{}
	bus := &fakeBus{}
	svc := NewAlertService(store, bus, 10, discard())
	ctx := context.Background()

	a := sampleAlert("a1", "o", time.Now())
	require.NoError(t, svc.Record(ctx, a))
	require.NoError(t, svc.MarkDelivered(ctx, "a1"))

	assert.Len(t, store.inserted, 1)
	assert.Equal(t, []string{"a1"}, store.delivered)
	require.Len(t, bus.pubs, 1)
	assert.Equal(t, domain.ChannelAlerts, bus.pubs[0].channel)
	require.Len(t, bus.streams, 1)
	assert.Equal(t, domain.StreamAlerts, bus.streams[0].channel)

	history, err := svc.History(ctx, "o", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAlertServiceStoreFailureStillPublishes(t *testing.T) {
	store := &fakeAlertStore{failIns: errors.New("insert failed")}
	bus := &fakeBus{}
	svc := NewAlertService(store, bus, 10, discard())

	err := svc.Record(context.Background(), sampleAlert("a1", "o", time.Now()))
	assert.Error(t, err)
	assert.Len(t, bus.pubs, 1)
}

func TestAlertServiceInMemoryHistory(t *testing.T) {
	svc := NewAlertService(nil, nil, 3, discard())
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3", "a4"} {
		require.NoError(t, svc.Record(ctx, sampleAlert(id, "o", base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, svc.Record(ctx, sampleAlert("x1", "other", base)))
	require.NoError(t, svc.MarkDelivered(ctx, "a4"))

	history, err := svc.History(ctx, "o", domain.ListOpts{})
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, a := range history {
		ids = append(ids, a.ID)
	}
	// Limit of 3 evicted a1 and a2 once x1 arrived.
	assert.Equal(t, []string{"a4", "a3"}, ids)
	assert.True(t, history[0].Delivered)

	history, err = svc.History(ctx, "o", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a3", history[0].ID)
}

type staticSource struct {
	price decimal.Decimal
	err   error
}

func (s staticSource) Fetch(context.Context, string) (decimal.Decimal, error) { return s.price, s.err }

type memCache struct {
	prices map[string]decimal.Decimal
	fail   error
}

func (c *memCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, _ time.Time) error {
	if c.fail != nil {
		return c.fail
	}
	c.prices[symbol] = price
	return nil
}

func (c *memCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	p, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func (c *memCache) GetPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return c.prices, nil
}

func TestCachingSourceStoresAndPublishes(t *testing.T) {
	cache := &memCache{prices: map[string]decimal.Decimal{}}
	bus := &fakeBus{}
	src := NewCachingSource(staticSource{price: d("123.45")}, cache, bus, discard())

	price, err := src.Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, d("123.45").Equal(price))
	assert.True(t, d("123.45").Equal(cache.prices["BTC"]))
	require.Len(t, bus.pubs, 1)
	assert.Equal(t, domain.ChannelPriceUpdates, bus.pubs[0].channel)
}

func TestCachingSourcePassesThroughErrors(t *testing.T) {
	cache := &memCache{prices: map[string]decimal.Decimal{}}
	src := NewCachingSource(staticSource{err: domain.ErrFetch}, cache, nil, discard())

	_, err := src.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.Empty(t, cache.prices)
}

func TestCachingSourceIgnoresCacheFailure(t *testing.T) {
	cache := &memCache{fail: errors.New("redis down")}
	src := NewCachingSource(staticSource{price: d("1")}, cache, &fakeBus{failPub: errors.New("down")}, discard())

	price, err := src.Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, d("1").Equal(price))
}
