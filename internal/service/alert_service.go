package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

const defaultRecentLimit = 200

// AlertService records fired alerts. It persists them to the alert store when
// one is configured, fans them out on the signal bus and keeps a bounded
// in-memory history that serves reads when no store is available.
type AlertService struct {
	store  domain.AlertStore
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.Mutex
	recent []domain.Alert
	limit  int
}

// NewAlertService creates an AlertService. store and bus may be nil.
func NewAlertService(store domain.AlertStore, bus domain.SignalBus, recentLimit int, logger *slog.Logger) *AlertService {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	return &AlertService{
		store:  store,
		bus:    bus,
		limit:  recentLimit,
		logger: logger.With(slog.String("component", "alert_service")),
	}
}

// Record stores a fired alert before delivery is attempted. Bus failures are
// logged; only a store failure is returned.
func (s *AlertService) Record(ctx context.Context, alert domain.Alert) error {
	s.remember(alert)

	var storeErr error
	if s.store != nil {
		if err := s.store.Insert(ctx, alert); err != nil {
			storeErr = fmt.Errorf("alert_service: insert %s: %w", alert.ID, err)
		}
	}

	if s.bus != nil {
		evt, _ := marshalEvent("alert_fired", alert)
		if err := s.bus.Publish(ctx, domain.ChannelAlerts, evt); err != nil {
			s.logger.WarnContext(ctx, "publish alert failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, domain.StreamAlerts, evt); err != nil {
			s.logger.WarnContext(ctx, "append alert stream failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return storeErr
}

// MarkDelivered flags the alert as successfully sent.
func (s *AlertService) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	for i := range s.recent {
		if s.recent[i].ID == id {
			s.recent[i].Delivered = true
			break
		}
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.MarkDelivered(ctx, id); err != nil {
		return fmt.Errorf("alert_service: mark delivered %s: %w", id, err)
	}
	return nil
}

// History returns the owner's alerts newest first.
func (s *AlertService) History(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Alert, error) {
	if s.store != nil {
		alerts, err := s.store.ListByOwner(ctx, ownerID, opts)
		if err != nil {
			return nil, fmt.Errorf("alert_service: history %s: %w", ownerID, err)
		}
		return alerts, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Alert
	skipped := 0
	for i := len(s.recent) - 1; i >= 0; i-- {
		a := s.recent[i]
		if a.OwnerID != ownerID {
			continue
		}
		if opts.Since != nil && a.FiredAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !a.FiredAt.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, a)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *AlertService) remember(alert domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, alert)
	if over := len(s.recent) - s.limit; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}
