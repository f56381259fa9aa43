package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// SubscriptionService is the subset of service.SubscriptionService used here.
type SubscriptionService interface {
	Register(ctx context.Context, ownerID, symbol string, referencePrice decimal.Decimal, targetReturnPct *decimal.Decimal) (domain.Subscription, error)
	Get(ownerID, symbol string) (domain.Subscription, error)
	List(ownerID string) []domain.Subscription
	Remove(ctx context.Context, ownerID, symbol string) error
	SetThresholds(ctx context.Context, ownerID, symbol string, upper, lower *decimal.Decimal) (domain.Subscription, error)
	Portfolio(ownerID string) string
}

// SubscriptionHandler serves subscription management endpoints. It is the
// HTTP stand-in for the chat command layer.
type SubscriptionHandler struct {
	svc    SubscriptionService
	logger *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(svc SubscriptionService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc, logger: logHandler(logger, "subscription")}
}

type upsertRequest struct {
	ReferencePrice  *decimal.Decimal `json:"reference_price"`
	TargetReturnPct *decimal.Decimal `json:"target_return_pct"`
}

type thresholdsRequest struct {
	Upper *decimal.Decimal `json:"upper"`
	Lower *decimal.Decimal `json:"lower"`
}

// List returns the owner's subscriptions in registration order.
// GET /api/owners/{owner}/subscriptions
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs := h.svc.List(pathParam(r, "owner"))
	if subs == nil {
		subs = []domain.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Get returns one subscription.
// GET /api/owners/{owner}/subscriptions/{symbol}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(pathParam(r, "owner"), pathParam(r, "symbol"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Upsert registers or replaces a subscription.
// PUT /api/owners/{owner}/subscriptions/{symbol}
func (h *SubscriptionHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ReferencePrice == nil {
		writeError(w, http.StatusBadRequest, domain.NewConfigError("reference price", "is required").Error())
		return
	}

	sub, err := h.svc.Register(r.Context(), pathParam(r, "owner"), pathParam(r, "symbol"), *req.ReferencePrice, req.TargetReturnPct)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Delete stops tracking a symbol.
// DELETE /api/owners/{owner}/subscriptions/{symbol}
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), pathParam(r, "owner"), pathParam(r, "symbol")); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetThresholds overrides one or both thresholds.
// PUT /api/owners/{owner}/subscriptions/{symbol}/thresholds
func (h *SubscriptionHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub, err := h.svc.SetThresholds(r.Context(), pathParam(r, "owner"), pathParam(r, "symbol"), req.Upper, req.Lower)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Portfolio renders the owner's subscriptions as plain text.
// GET /api/owners/{owner}/portfolio
func (h *SubscriptionHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.svc.Portfolio(pathParam(r, "owner"))))
}
