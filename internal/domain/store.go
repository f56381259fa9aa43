package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AlertStore persists the history of fired alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert Alert) error
	MarkDelivered(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Alert, error)
	ListBetween(ctx context.Context, since, until time.Time) ([]Alert, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
