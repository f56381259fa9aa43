// Package evaluator runs the periodic price check that turns raw samples into
// threshold-crossing alerts and rebases the fired threshold.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

const cycleLockKey = "evaluator:cycle"

// Store is the subset of the subscription store the evaluator needs.
type Store interface {
	ListAll() []domain.Subscription
	RecordSample(ownerID, symbol string, version uint64, price decimal.Decimal) (domain.Subscription, error)
	ApplyFireAt(ownerID, symbol string, version uint64, side domain.Side, newPrice decimal.Decimal) (domain.Subscription, error)
}

// AlertRecorder keeps a history of fired alerts. Recording failures are
// logged and never block the notification.
type AlertRecorder interface {
	Record(ctx context.Context, alert domain.Alert) error
	MarkDelivered(ctx context.Context, id string) error
}

// Config controls scheduling and resource limits.
type Config struct {
	PollInterval         time.Duration
	InitialDelay         time.Duration
	FetchTimeout         time.Duration
	SendTimeout          time.Duration
	DrainTimeout         time.Duration
	MaxConcurrentFetches int
	LockTTL              time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 8
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.PollInterval
	}
	return c
}

// CycleReport summarizes one evaluation cycle.
type CycleReport struct {
	Subscriptions int           `json:"subscriptions"`
	Symbols       int           `json:"symbols"`
	Evaluated     int64         `json:"evaluated"`
	Baselines     int64         `json:"baselines"`
	Fired         int64         `json:"fired"`
	FetchFailures int64         `json:"fetch_failures"`
	Dropped       int64         `json:"dropped"`
	SendFailures  int64         `json:"send_failures"`
	Skipped       bool          `json:"skipped,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

type counters struct {
	evaluated, baselines, fired, fetchFailures, dropped, sendFailures atomic.Int64
}

// Evaluator polls prices for every subscription and emits at most one alert
// per subscription per cycle.
type Evaluator struct {
	store    Store
	source   domain.PriceSource
	sink     domain.NotificationSink
	recorder AlertRecorder
	locker   domain.LockManager
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	cycles singleflight.Group
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRecorder stores every fired alert through r.
func WithRecorder(r AlertRecorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// WithLocker makes each cycle hold a distributed lock so that only one
// replica evaluates at a time.
func WithLocker(l domain.LockManager) Option {
	return func(e *Evaluator) { e.locker = l }
}

// WithClock overrides the time source used for alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator.
func New(store Store, source domain.PriceSource, sink domain.NotificationSink, cfg Config, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:  store,
		source: source,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "evaluator")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run waits for the initial delay, then runs a cycle on every poll interval
// until ctx is cancelled. A cycle that is in flight at cancellation is given
// DrainTimeout to finish before it is cancelled too.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("evaluator started",
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Duration("initial_delay", e.cfg.InitialDelay),
		slog.Int("max_concurrent_fetches", e.cfg.MaxConcurrentFetches),
	)

	delay := time.NewTimer(e.cfg.InitialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		e.logger.Info("evaluator stopped before first cycle")
		return ctx.Err()
	case <-delay.C:
	}

	e.RunCycle(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("evaluator stopped")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every subscription once. Concurrent callers share the
// cycle that is already running. The cycle runs on a context detached from
// ctx so a caller going away cannot cut it between a store commit and its
// notification; once ctx is done the cycle gets DrainTimeout to finish
// before it is cancelled too.
func (e *Evaluator) RunCycle(ctx context.Context) CycleReport {
	v, _, _ := e.cycles.Do("cycle", func() (any, error) {
		return e.runDraining(ctx), nil
	})
	return v.(CycleReport)
}

func (e *Evaluator) runDraining(ctx context.Context) CycleReport {
	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan CycleReport, 1)
	go func() {
		done <- e.runCycle(cycleCtx)
	}()

	select {
	case report := <-done:
		return report
	case <-ctx.Done():
	}

	e.logger.Info("draining in-flight cycle", slog.Duration("timeout", e.cfg.DrainTimeout))
	timer := time.NewTimer(e.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case report := <-done:
		return report
	case <-timer.C:
		e.logger.Warn("drain timeout exceeded, cancelling cycle")
		cancel()
		return <-done
	}
}

func (e *Evaluator) runCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: e.now()}
	start := time.Now()

	if e.locker != nil {
		unlock, err := e.locker.Acquire(ctx, cycleLockKey, e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				e.logger.Debug("cycle lock held elsewhere, skipping")
			} else {
				e.logger.Error("acquire cycle lock failed", slog.String("error", err.Error()))
			}
			report.Skipped = true
			report.Duration = time.Since(start)
			return report
		}
		defer unlock()
	}

	subs := e.store.ListAll()
	bySymbol := make(map[string][]domain.Subscription)
	var symbols []string
	for _, sub := range subs {
		if _, ok := bySymbol[sub.Symbol]; !ok {
			symbols = append(symbols, sub.Symbol)
		}
		bySymbol[sub.Symbol] = append(bySymbol[sub.Symbol], sub)
	}
	report.Subscriptions = len(subs)
	report.Symbols = len(symbols)

	var c counters
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxConcurrentFetches)
	for _, symbol := range symbols {
		group := bySymbol[symbol]
		g.Go(func() error {
			e.evaluateSymbol(ctx, symbol, group, &c)
			return nil
		})
	}
	_ = g.Wait()

	report.Evaluated = c.evaluated.Load()
	report.Baselines = c.baselines.Load()
	report.Fired = c.fired.Load()
	report.FetchFailures = c.fetchFailures.Load()
	report.Dropped = c.dropped.Load()
	report.SendFailures = c.sendFailures.Load()
	report.Duration = time.Since(start)

	e.logger.Info("cycle complete",
		slog.Int("subscriptions", report.Subscriptions),
		slog.Int("symbols", report.Symbols),
		slog.Int64("fired", report.Fired),
		slog.Int64("baselines", report.Baselines),
		slog.Int64("fetch_failures", report.FetchFailures),
		slog.Int64("dropped", report.Dropped),
		slog.Int64("send_failures", report.SendFailures),
		slog.Duration("duration", report.Duration),
	)
	return report
}

// evaluateSymbol fetches symbol once and applies the sample to every
// subscription tracking it.
func (e *Evaluator) evaluateSymbol(ctx context.Context, symbol string, subs []domain.Subscription, c *counters) {
	price, err := e.fetch(ctx, symbol)
	if err != nil {
		c.fetchFailures.Add(int64(len(subs)))
		e.logger.Warn("price fetch failed",
			slog.String("symbol", symbol),
			slog.Int("subscriptions", len(subs)),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, sub := range subs {
		e.evaluate(ctx, sub, price, c)
	}
}

func (e *Evaluator) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	price, err := e.source.Fetch(fctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrFetch) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrFetch, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", domain.ErrFetch, symbol, price)
	}
	return price, nil
}

func (e *Evaluator) evaluate(ctx context.Context, sub domain.Subscription, price decimal.Decimal, c *counters) {
	c.evaluated.Add(1)
	log := e.logger.With(slog.String("owner", sub.OwnerID), slog.String("symbol", sub.Symbol))

	d := Decide(sub, price)
	switch d.Outcome {
	case OutcomeBaseline, OutcomeHold:
		if _, err := e.store.RecordSample(sub.OwnerID, sub.Symbol, sub.Version, price); err != nil {
			c.dropped.Add(1)
			log.Debug("sample dropped", slog.String("error", err.Error()))
			return
		}
		if d.Outcome == OutcomeBaseline {
			c.baselines.Add(1)
			log.Info("baseline recorded", slog.String("price", price.String()))
		}
		return
	}

	updated, err := e.store.ApplyFireAt(sub.OwnerID, sub.Symbol, sub.Version, d.Side, price)
	if err != nil {
		c.dropped.Add(1)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStale) {
			log.Debug("subscription changed during cycle, alert dropped", slog.String("error", err.Error()))
		} else {
			log.Error("apply fire failed", slog.String("error", err.Error()))
		}
		return
	}
	c.fired.Add(1)

	alert := domain.Alert{
		ID:             uuid.NewString(),
		OwnerID:        sub.OwnerID,
		Symbol:         sub.Symbol,
		Side:           d.Side,
		Price:          price,
		ReferencePrice: sub.ReferencePrice,
		ReturnPct:      d.ReturnPct,
		Threshold:      sub.Threshold(d.Side),
		NextThreshold:  updated.Threshold(d.Side),
		FiredAt:        e.now(),
	}
	log.Info("threshold crossed",
		slog.String("side", string(alert.Side)),
		slog.String("price", price.String()),
		slog.String("threshold", alert.Threshold.String()),
		slog.String("next_threshold", alert.NextThreshold.String()),
	)

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, alert); err != nil {
			log.Error("record alert failed", slog.String("error", err.Error()))
		}
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	if err := e.sink.Send(sctx, sub.OwnerID, alert.Message()); err != nil {
		c.sendFailures.Add(1)
		log.Error("send alert failed", slog.String("alert_id", alert.ID), slog.String("error", err.Error()))
		return
	}
	if e.recorder != nil {
		if err := e.recorder.MarkDelivered(ctx, alert.ID); err != nil {
			log.Warn("mark delivered failed", slog.String("error", err.Error()))
		}
	}
}
