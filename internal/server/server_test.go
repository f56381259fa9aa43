package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisc "github.com/alanyoungcy/pricealertbot/internal/cache/redis"
	"github.com/alanyoungcy/pricealertbot/internal/domain"
	"github.com/alanyoungcy/pricealertbot/internal/evaluator"
	"github.com/alanyoungcy/pricealertbot/internal/server/handler"
	"github.com/alanyoungcy/pricealertbot/internal/server/ws"
	"github.com/alanyoungcy/pricealertbot/internal/service"
	"github.com/alanyoungcy/pricealertbot/internal/subscription"
)

type fakeRunner struct{ calls int }

func (f *fakeRunner) RunCycle(context.Context) evaluator.CycleReport {
	f.calls++
	return evaluator.CycleReport{Subscriptions: 2, Evaluated: 2, Fired: 1}
}

type fixture struct {
	handler http.Handler
	subs    *service.SubscriptionService
	alerts  *service.AlertService
	prices  *redisc.PriceCache
	runner  *fakeRunner
	redis   *redisc.Client
	mr      *miniredis.Miniredis
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, cfg Config, checks map[string]handler.Checker) *fixture {
	t.Helper()
	logger := discard()

	mr := miniredis.RunT(t)
	rc, err := redisc.New(context.Background(), redisc.ClientConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	store := subscription.NewStore(domain.Band{UpperPct: decimal.NewFromInt(10), LowerPct: decimal.NewFromInt(-5)})
	subs := service.NewSubscriptionService(store, nil, nil, logger)
	alerts := service.NewAlertService(nil, nil, 50, logger)
	prices := redisc.NewPriceCache(rc, time.Minute)
	runner := &fakeRunner{}

	h := NewHandler(cfg, Handlers{
		Health:        handler.NewHealthHandler("server", checks, subs.Count, logger),
		Subscriptions: handler.NewSubscriptionHandler(subs, logger),
		Alerts:        handler.NewAlertHandler(alerts, logger),
		Prices:        handler.NewPriceHandler(prices, logger),
		Evaluator:     handler.NewEvaluatorHandler(runner, logger),
	}, nil, redisc.NewRateLimiter(rc), logger)

	return &fixture{handler: h, subs: subs, alerts: alerts, prices: prices, runner: runner, redis: rc, mr: mr}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(t, http.MethodPut, "/api/owners/42/subscriptions/btc", `{"reference_price":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "BTC", body["symbol"])
	assert.Equal(t, "110", body["upper_threshold"])
	assert.Equal(t, "95", body["lower_threshold"])

	rec = f.do(t, http.MethodPut, "/api/owners/42/subscriptions/ETH", `{"reference_price":"200","target_return_pct":"-10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "180", decodeBody(t, rec)["lower_threshold"])

	rec = f.do(t, http.MethodGet, "/api/owners/42/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["count"])

	rec = f.do(t, http.MethodPut, "/api/owners/42/subscriptions/BTC/thresholds", `{"upper":"150"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "150", decodeBody(t, rec)["upper_threshold"])

	rec = f.do(t, http.MethodGet, "/api/owners/42/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTC  ref 100.00  ▲ 150.00  ▼ 95.00")

	rec = f.do(t, http.MethodDelete, "/api/owners/42/subscriptions/btc", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/owners/42/subscriptions/BTC", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/owners/42/subscriptions/BTC", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionValidationErrors(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"negative reference", "/api/owners/1/subscriptions/BTC", `{"reference_price":"-5"}`, "invalid reference price"},
		{"missing reference", "/api/owners/1/subscriptions/BTC", `{}`, "invalid reference price: is required"},
		{"zero target", "/api/owners/1/subscriptions/BTC", `{"reference_price":"1","target_return_pct":"0"}`, "invalid target return"},
		{"unknown field", "/api/owners/1/subscriptions/BTC", `{"price":"1"}`, "invalid request body"},
		{"malformed json", "/api/owners/1/subscriptions/BTC", `{`, "invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tc.want)
		})
	}
	assert.Zero(t, f.subs.Count())

	rec := f.do(t, http.MethodPut, "/api/owners/1/subscriptions/BTC/thresholds", `{"upper":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertHistory(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, f.alerts.Record(ctx, domain.Alert{ID: id, OwnerID: "42", Symbol: "BTC", FiredAt: time.Now()}))
	}

	rec := f.do(t, http.MethodGet, "/api/owners/42/alerts?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts []domain.Alert `json:"alerts"`
		Limit  int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Alerts, 2)
	assert.Equal(t, "a3", body.Alerts[0].ID)
	assert.Equal(t, 2, body.Limit)

	rec = f.do(t, http.MethodGet, "/api/owners/nobody/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeBody(t, rec)["alerts"])
}

func TestPrices(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	require.NoError(t, f.prices.SetPrice(context.Background(), "BTC", decimal.RequireFromString("152000000"), time.Now()))

	rec := f.do(t, http.MethodGet, "/api/prices/btc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "152000000", decodeBody(t, rec)["price"])

	rec = f.do(t, http.MethodGet, "/api/prices/XRP", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/prices?symbols=btc,xrp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	prices := decodeBody(t, rec)["prices"].(map[string]any)
	assert.Len(t, prices, 1)
	assert.Equal(t, "152000000", prices["BTC"])

	rec = f.do(t, http.MethodGet, "/api/prices", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluatorTrigger(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(t, http.MethodPost, "/api/evaluator/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["fired"])
	assert.Equal(t, 1, f.runner.calls)

	rec = f.do(t, http.MethodGet, "/api/evaluator/trigger", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{}, map[string]handler.Checker{
		"redis": func(ctx context.Context) error { return nil },
	})
	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "server", body["mode"])

	f = newFixture(t, Config{}, map[string]handler.Checker{
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rec = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/api/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Minute}, nil)
	f.mr.Close()

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodGet, "/api/owners/1/subscriptions", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://dash.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStreamsOwnerAlerts(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisc.New(context.Background(), redisc.ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	bus := redisc.NewSignalBus(rc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(bus, discard(), ws.Config{Mode: "full", Tracked: func() int { return 3 }})
	go hub.Run(ctx)

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("*")) == len(ws.Channels)
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(NewHandler(Config{}, Handlers{}, hub, nil, discard()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?owner=a", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var status map[string]any
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "bot_status", status["event"])
	assert.EqualValues(t, 3, status["data"].(map[string]any)["subscriptions"])

	other, _ := json.Marshal(map[string]any{"event": "alert_fired", "data": map[string]any{"owner_id": "b", "id": "x"}})
	mine, _ := json.Marshal(map[string]any{"event": "alert_fired", "data": map[string]any{"owner_id": "a", "id": "y"}})
	require.NoError(t, bus.Publish(ctx, domain.ChannelAlerts, other))
	require.NoError(t, bus.Publish(ctx, domain.ChannelAlerts, mine))

	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "y", got["data"].(map[string]any)["id"])
}
