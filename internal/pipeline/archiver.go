package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// Pruner deletes alert history older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RunReport summarises one archive run.
type RunReport struct {
	Since    time.Time `json:"since"`
	Until    time.Time `json:"until"`
	Archived int64     `json:"archived"`
	Pruned   int64     `json:"pruned"`
	Cutoff   time.Time `json:"cutoff"`
}

// Archiver moves the previous calendar month of alert history to cold storage
// and prunes rows past the retention window.
type Archiver struct {
	blobArchiver  domain.Archiver
	pruner        Pruner
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. Either blobArchiver or pruner may be
// nil to disable that half of the run.
func NewArchiver(blobArchiver domain.Archiver, pruner Pruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run. The month before the current one is
// uploaded first; pruning never removes rows that have not been archived.
func (a *Archiver) Run(ctx context.Context) (RunReport, error) {
	now := a.now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	report := RunReport{
		Since: thisMonth.AddDate(0, -1, 0),
		Until: thisMonth,
	}

	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("since", report.Since),
		slog.Time("until", report.Until),
		slog.Int("retention_days", a.retentionDays),
	)

	if a.blobArchiver != nil {
		n, err := a.blobArchiver.ArchiveAlerts(ctx, report.Since, report.Until)
		if err != nil {
			return report, fmt.Errorf("archiving alerts %s: %w", report.Since.Format("2006-01"), err)
		}
		report.Archived = n
		a.logger.InfoContext(ctx, "archived alerts", slog.Int64("count", n))
	}

	if a.pruner != nil && a.retentionDays > 0 {
		cutoff := now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
		if a.blobArchiver != nil && cutoff.After(report.Until) {
			cutoff = report.Until
		}
		report.Cutoff = cutoff
		n, err := a.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return report, fmt.Errorf("pruning alerts before %v: %w", cutoff, err)
		}
		report.Pruned = n
		a.logger.InfoContext(ctx, "pruned alerts",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("archived", report.Archived),
		slog.Int64("pruned", report.Pruned),
	)
	return report, nil
}

// RunCron runs the archiver on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	schedule, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := schedule.next(a.now().UTC())
		if err != nil {
			return err
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
