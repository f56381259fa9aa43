// Package notify delivers alert messages over one or more chat channels.
// Messages are dispatched to every registered sender (Telegram, Discord) and
// can be filtered by event type so operators receive only what they want.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// Event types understood by the filter.
const (
	EventAlert     = "alert"
	EventLifecycle = "lifecycle"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers message to recipient. An empty recipient means the
	// channel's default destination.
	Send(ctx context.Context, recipient, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; events outside the set are dropped.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Send implements domain.NotificationSink for alert messages addressed to the
// owner of a subscription.
func (n *Notifier) Send(ctx context.Context, ownerID, message string) error {
	return n.Notify(ctx, EventAlert, ownerID, message)
}

// Broadcast sends a lifecycle message to every sender's default destination.
func (n *Notifier) Broadcast(ctx context.Context, message string) error {
	return n.Notify(ctx, EventLifecycle, "", message)
}

// Notify sends message to recipient only if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, recipient, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, recipient, message)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, recipient, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, recipient, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("recipient", recipient),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("recipient", recipient),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %w: %d sender(s) failed: %s", domain.ErrSend, len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// LogSender writes messages to the logger. It is the fallback channel when no
// chat integration is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "log_sender"))}
}

// Send logs the message at info level.
func (l *LogSender) Send(ctx context.Context, recipient, message string) error {
	l.logger.InfoContext(ctx, "notification",
		slog.String("recipient", recipient),
		slog.String("message", message),
	)
	return nil
}

// Name returns the sender identifier.
func (l *LogSender) Name() string {
	return "log"
}
