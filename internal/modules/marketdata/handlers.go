package marketdata

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// Handler exposes quote lookups over HTTP
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new market data handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "marketdata").Logger(),
	}
}

// RegisterRoutes registers the quote routes. The caller mounts them under
// /api/quotes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{ticker}", h.HandleGetQuote)
	r.Get("/{ticker}/resolve", h.HandleResolve)
	r.Post("/refresh", h.HandleRefresh)
}

// HandleGetQuote handles GET /api/quotes/{ticker}?refresh=true|false
func (h *Handler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	quote, err := h.service.GetQuote(r.Context(), ticker, forceRefresh)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, quote)
}

// HandleResolve handles GET /api/quotes/{ticker}/resolve. It skips the cache
// read and runs the source chain directly; the result is still cached.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	quote, err := h.service.GetQuote(r.Context(), ticker, true)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"quote":        quote,
		"source_order": h.service.resolver.SourceNames(),
	})
}

// HandleRefresh handles POST /api/quotes/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshed, failed, err := h.service.RefreshHoldings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{
		"refreshed": refreshed,
		"failed":    failed,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrQuoteUnavailable):
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
