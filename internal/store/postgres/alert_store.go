package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

const alertColumns = `id, owner_id, symbol, side, price, reference_price, return_pct,
	threshold, next_threshold, delivered, fired_at`

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	db DB
}

// NewAlertStore creates a new AlertStore backed by db, usually a
// *pgxpool.Pool.
func NewAlertStore(db DB) *AlertStore {
	return &AlertStore{db: db}
}

// Insert stores a fired alert. Re-inserting the same ID is a no-op.
func (s *AlertStore) Insert(ctx context.Context, a domain.Alert) error {
	const query = `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.db.Exec(ctx, query,
		a.ID, a.OwnerID, a.Symbol, string(a.Side),
		a.Price, a.ReferencePrice, a.ReturnPct,
		a.Threshold, a.NextThreshold, a.Delivered, a.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", a.ID, err)
	}
	return nil
}

// MarkDelivered flags an alert as successfully sent.
func (s *AlertStore) MarkDelivered(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE alerts SET delivered = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %s delivered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark alert %s delivered: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByOwner returns the owner's alerts newest first.
func (s *AlertStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Alert, error) {
	query, args := newListQuery(`SELECT `+alertColumns+` FROM alerts WHERE owner_id = $1`, ownerID).
		apply(opts, "fired_at", "fired_at DESC")

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts for %s: %w", ownerID, err)
	}
	return collectAlerts(rows)
}

// ListBetween returns alerts fired in [since, until) oldest first.
func (s *AlertStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.Alert, error) {
	const query = `SELECT ` + alertColumns + ` FROM alerts
		WHERE fired_at >= $1 AND fired_at < $2 ORDER BY fired_at ASC`
	rows, err := s.db.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts between %s and %s: %w", since, until, err)
	}
	return collectAlerts(rows)
}

// DeleteBefore removes alerts fired before the cutoff and returns the count.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM alerts WHERE fired_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var side string
		if err := rows.Scan(
			&a.ID, &a.OwnerID, &a.Symbol, &side,
			&a.Price, &a.ReferencePrice, &a.ReturnPct,
			&a.Threshold, &a.NextThreshold, &a.Delivered, &a.FiredAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Side = domain.Side(side)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return alerts, nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
