package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker probes one dependency, e.g. Postgres or Redis.
type Checker func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode    string
	checks  map[string]Checker
	tracked func() int
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks and tracked may be nil.
func NewHealthHandler(mode string, checks map[string]Checker, tracked func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		checks:  checks,
		tracked: tracked,
		started: time.Now(),
		logger:  logHandler(logger, "health"),
	}
}

// HealthCheck reports liveness plus the state of each configured dependency.
// Any failed dependency turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(h.checks))

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"dependencies":   deps,
	}
	if h.tracked != nil {
		body["subscriptions"] = h.tracked()
	}
	writeJSON(w, code, body)
}
