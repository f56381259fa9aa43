package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// SubscriptionStore is the registry behind SubscriptionService.
type SubscriptionStore interface {
	Upsert(ownerID, symbol string, referencePrice decimal.Decimal, targetReturnPct *decimal.Decimal) (domain.Subscription, error)
	Get(ownerID, symbol string) (domain.Subscription, error)
	List(ownerID string) []domain.Subscription
	ListAll() []domain.Subscription
	Remove(ownerID, symbol string) bool
	SetThresholds(ownerID, symbol string, upper, lower *decimal.Decimal) (domain.Subscription, error)
}

// Seed is a subscription registered at startup from configuration.
type Seed struct {
	OwnerID         string
	Symbol          string
	ReferencePrice  decimal.Decimal
	TargetReturnPct *decimal.Decimal
}

// SubscriptionService is the edit boundary for subscriptions: it validates
// through the store, records every change in the audit log and publishes it
// on the signal bus. audit and bus may be nil.
type SubscriptionService struct {
	store  SubscriptionStore
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewSubscriptionService creates a SubscriptionService.
func NewSubscriptionService(
	store SubscriptionStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		audit:  audit,
		bus:    bus,
		logger: logger.With(slog.String("component", "subscription_service")),
	}
}

// Register creates or replaces the subscription for (ownerID, symbol).
// Invalid input is returned as a *domain.ConfigError.
func (s *SubscriptionService) Register(ctx context.Context, ownerID, symbol string, referencePrice decimal.Decimal, targetReturnPct *decimal.Decimal) (domain.Subscription, error) {
	sub, err := s.store.Upsert(ownerID, symbol, referencePrice, targetReturnPct)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription_service: register %s/%s: %w", ownerID, symbol, err)
	}
	detail := map[string]any{
		"owner_id":        sub.OwnerID,
		"symbol":          sub.Symbol,
		"reference_price": sub.ReferencePrice.String(),
		"upper_threshold": sub.UpperThreshold.String(),
		"lower_threshold": sub.LowerThreshold.String(),
	}
	if sub.TargetReturnPct != nil {
		detail["target_return_pct"] = sub.TargetReturnPct.String()
	}
	s.record(ctx, "subscription.upserted", detail)

	s.logger.InfoContext(ctx, "subscription registered",
		slog.String("owner", sub.OwnerID),
		slog.String("symbol", sub.Symbol),
		slog.String("reference_price", sub.ReferencePrice.String()),
	)
	return sub, nil
}

// Get returns one subscription or domain.ErrNotFound.
func (s *SubscriptionService) Get(ownerID, symbol string) (domain.Subscription, error) {
	return s.store.Get(ownerID, symbol)
}

// List returns the owner's subscriptions in registration order.
func (s *SubscriptionService) List(ownerID string) []domain.Subscription {
	return s.store.List(ownerID)
}

// Count returns the number of tracked subscriptions.
func (s *SubscriptionService) Count() int {
	return len(s.store.ListAll())
}

// Remove stops tracking (ownerID, symbol). It returns domain.ErrNotFound if
// nothing was tracked.
func (s *SubscriptionService) Remove(ctx context.Context, ownerID, symbol string) error {
	if !s.store.Remove(ownerID, symbol) {
		return fmt.Errorf("subscription_service: remove %s/%s: %w", ownerID, symbol, domain.ErrNotFound)
	}
	s.record(ctx, "subscription.removed", map[string]any{
		"owner_id": ownerID,
		"symbol":   domain.NormalizeSymbol(symbol),
	})
	s.logger.InfoContext(ctx, "subscription removed",
		slog.String("owner", ownerID),
		slog.String("symbol", domain.NormalizeSymbol(symbol)),
	)
	return nil
}

// SetThresholds manually overrides one or both thresholds.
func (s *SubscriptionService) SetThresholds(ctx context.Context, ownerID, symbol string, upper, lower *decimal.Decimal) (domain.Subscription, error) {
	sub, err := s.store.SetThresholds(ownerID, symbol, upper, lower)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscription_service: set thresholds %s/%s: %w", ownerID, symbol, err)
	}
	s.record(ctx, "subscription.thresholds_set", map[string]any{
		"owner_id":        sub.OwnerID,
		"symbol":          sub.Symbol,
		"upper_threshold": sub.UpperThreshold.String(),
		"lower_threshold": sub.LowerThreshold.String(),
	})
	return sub, nil
}

// Portfolio renders the owner's subscriptions as a chat-friendly summary.
func (s *SubscriptionService) Portfolio(ownerID string) string {
	return FormatPortfolio(s.store.List(ownerID))
}

// Seed registers every seed. Invalid seeds are collected and returned
// together; valid ones are registered regardless.
func (s *SubscriptionService) Seed(ctx context.Context, seeds []Seed) error {
	var errs []error
	for _, seed := range seeds {
		if _, err := s.Register(ctx, seed.OwnerID, seed.Symbol, seed.ReferencePrice, seed.TargetReturnPct); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// record writes to the audit log and the bus. Failures are logged only.
func (s *SubscriptionService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		payload, _ := marshalEvent(event, detail)
		if err := s.bus.Publish(ctx, domain.ChannelSubscriptions, payload); err != nil {
			s.logger.WarnContext(ctx, "publish subscription event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
