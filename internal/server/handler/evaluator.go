package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pricealertbot/internal/evaluator"
)

// CycleRunner runs one evaluation cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) evaluator.CycleReport
}

// EvaluatorHandler serves the evaluator trigger endpoint.
type EvaluatorHandler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewEvaluatorHandler creates an EvaluatorHandler.
func NewEvaluatorHandler(runner CycleRunner, logger *slog.Logger) *EvaluatorHandler {
	return &EvaluatorHandler{runner: runner, logger: logHandler(logger, "evaluator")}
}

// Trigger runs one cycle now and returns its report. A cycle already in
// progress is joined rather than started twice.
// POST /api/evaluator/trigger
func (h *EvaluatorHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "evaluator trigger requested")
	report := h.runner.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, report)
}
