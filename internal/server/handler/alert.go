package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// AlertHistory lists fired alerts for one owner, newest first.
type AlertHistory interface {
	History(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Alert, error)
}

// AlertHandler serves alert history.
type AlertHandler struct {
	history AlertHistory
	logger  *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(history AlertHistory, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{history: history, logger: logHandler(logger, "alert")}
}

// List returns the owner's alert history.
// GET /api/owners/{owner}/alerts?limit=&offset=&since=&until=
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	alerts, err := h.history.History(r.Context(), pathParam(r, "owner"), opts)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
