package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// Handler exposes the sizer and execution service over HTTP
type Handler struct {
	service *ExecutionService
	log     zerolog.Logger
}

// NewHandler creates a new orders handler
func NewHandler(service *ExecutionService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "orders").Logger(),
	}
}

// RegisterRoutes registers the order routes. The caller mounts them under
// /api/orders.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/fit", h.HandleFit)
	r.Post("/execute", h.HandleExecute)
	r.Get("/runs", h.HandleRuns)
}

// HandleFit handles POST /api/orders/fit. It previews the sizer without
// touching the ledger; cash and buffer default to the live balance and the
// configured buffer.
func (h *Handler) HandleFit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Orders []domain.ProposedOrder `json:"orders"`
		Cash   *float64               `json:"cash"`
		Buffer *float64               `json:"buffer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Orders) == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no orders provided"})
		return
	}

	report, err := h.service.FitPreview(r.Context(), req.Orders, req.Cash, req.Buffer)
	if err != nil && !errors.Is(err, domain.ErrReductionLimitExceeded) {
		h.writeError(w, err)
		return
	}

	// A hit round cap is not an HTTP failure; the report carries the flag
	h.writeJSON(w, http.StatusOK, report)
}

// HandleExecute handles POST /api/orders/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Orders []domain.ProposedOrder `json:"orders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Orders) == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no orders provided"})
		return
	}

	result, err := h.service.Execute(r.Context(), req.Orders)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleRuns handles GET /api/orders/runs?limit=
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.service.Runs(limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if runs == nil {
		runs = []Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
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
	if errors.Is(err, domain.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
