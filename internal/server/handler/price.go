package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// PriceHandler serves the latest fetched prices from the price cache.
type PriceHandler struct {
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(cache domain.PriceCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{cache: cache, logger: logHandler(logger, "price")}
}

// Get returns the last cached price for one symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(pathParam(r, "symbol"))
	price, ts, err := h.cache.GetPrice(r.Context(), symbol)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     symbol,
		"price":      price,
		"fetched_at": ts.UTC().Format(time.RFC3339Nano),
	})
}

// List returns cached prices for a comma-separated symbol list. Symbols
// with no cached price are omitted.
// GET /api/prices?symbols=BTC,ETH
func (h *PriceHandler) List(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = domain.NormalizeSymbol(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	prices, err := h.cache.GetPrices(r.Context(), symbols)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}
