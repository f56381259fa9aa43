package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "alertbot:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClientKey(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "alertbot:price:BTC", c.Key("price", "BTC"))
	bare := &Client{}
	assert.Equal(t, "lock:x", bare.Key("lock", "x"))
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	_, _, err := pc.GetPrice(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, pc.SetPrice(ctx, "btc", decimal.RequireFromString("152000000.25"), ts))
	price, gotTS, err := pc.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "152000000.25", price.String())
	assert.True(t, ts.Equal(gotTS))
	assert.Equal(t, time.Minute, mr.TTL("alertbot:price:BTC"))

	require.NoError(t, pc.SetPrice(ctx, "ETH", decimal.NewFromInt(4000000), ts))
	prices, err := pc.GetPrices(ctx, []string{"BTC", "eth", "XRP"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, decimal.NewFromInt(4000000).Equal(prices["ETH"]))
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "evaluator:cycle", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("alertbot:lock:evaluator:cycle"))

	_, err = lm.Acquire(ctx, "evaluator:cycle", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("alertbot:lock:evaluator:cycle"))

	unlock2, err := lm.Acquire(ctx, "evaluator:cycle", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockUnlockDoesNotReleaseForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("alertbot:lock:k", "someone-else"))
	unlock()

	got, err := mr.Get("alertbot:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRateLimiterAllow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "bithumb", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "bithumb", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWaitGivesUp(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	rl.pollInterval = 5 * time.Millisecond

	require.NoError(t, rl.Wait(context.Background(), "k", 1, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "k", 1, time.Minute)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelAlerts)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelAlerts, []byte(`{"symbol":"BTC"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"symbol":"BTC"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.StreamAlerts, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamAlerts, []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamAlerts, []byte("two")))

	msgs, err = bus.StreamRead(ctx, domain.StreamAlerts, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, domain.StreamAlerts, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", string(msgs[0].Payload))
}
