package performance

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler exposes performance history over HTTP
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new performance handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "performance").Logger(),
	}
}

// RegisterRoutes registers the performance routes. The caller mounts them
// inside the /api/portfolio block.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/performance", h.HandlePerformance)
}

// HandlePerformance handles GET /api/portfolio/performance?days=
func (h *Handler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || parsed <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	history, err := h.service.History(r.Context(), days)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read performance history")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if history == nil {
		history = []DailySnapshot{}
	}

	metrics, err := h.service.Metrics(r.Context(), days)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute performance metrics")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"metrics": metrics,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
