package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// AlertSource is the read side of the alert history needed for archival.
type AlertSource interface {
	ListBetween(ctx context.Context, since, until time.Time) ([]domain.Alert, error)
}

// ArchiveImpl implements domain.Archiver by reading alerts for a period,
// serializing them to JSONL and uploading the result.
//
// It never deletes from the primary store; pruning is a separate step run
// after the upload succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	checker   domain.BlobChecker
	alerts    AlertSource
	audit     domain.AuditStore
	multipart int64
}

// NewArchiver creates a new ArchiveImpl. checker and audit may be nil.
// Payloads larger than multipartThreshold bytes are uploaded in parts; zero
// disables multipart uploads.
func NewArchiver(
	writer domain.BlobWriter,
	checker domain.BlobChecker,
	alerts AlertSource,
	audit domain.AuditStore,
	multipartThreshold int64,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		checker:   checker,
		alerts:    alerts,
		audit:     audit,
		multipart: multipartThreshold,
	}
}

// ArchiveAlerts uploads the alerts fired in [since, until) to
// archive/alerts/YYYY-MM.jsonl, keyed by the month of since, and returns the
// number of archived records. A period whose file already exists is skipped
// and reported as zero.
func (a *ArchiveImpl) ArchiveAlerts(ctx context.Context, since, until time.Time) (int64, error) {
	path := archivePath("alerts", since)

	if a.checker != nil {
		exists, err := a.checker.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive alerts check %s: %w", path, err)
		}
		if exists {
			return 0, nil
		}
	}

	alerts, err := a.alerts.ListBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	if a.multipart > 0 && int64(len(buf)) > a.multipart {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.multipart)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	count := int64(len(alerts))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.alerts", map[string]any{
			"path":  path,
			"count": count,
			"since": since.Format(time.RFC3339),
			"until": until.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive alerts audit log: %w", err)
		}
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by
// year-month:
//
//	archive/alerts/2026-01.jsonl
func archivePath(kind string, period time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, period.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
