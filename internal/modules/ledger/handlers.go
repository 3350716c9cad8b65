package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// QuoteReader supplies current prices for summary and historical valuation.
// Implemented by the market data cache; nil disables live pricing (holdings
// are reported stale).
type QuoteReader interface {
	PriceLookup(ctx context.Context) domain.PriceLookup
}

// Handler exposes the ledger over HTTP. Handlers only map requests and
// responses; account rules live in the service.
type Handler struct {
	service *Service
	quotes  QuoteReader
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service, quotes QuoteReader, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		quotes:  quotes,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

// RegisterRoutes registers the portfolio routes. The caller mounts them
// under /api/portfolio.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleSummary)
	r.Get("/transactions", h.HandleTransactions)
	r.Get("/value", h.HandleValueOn)
	r.Get("/cash", h.HandleCash)
	r.Get("/cash-flows", h.HandleCashFlows)
	r.Get("/stop-losses", h.HandleStopLosses)
	r.Post("/buy", h.HandleBuy)
	r.Post("/sell", h.HandleSell)
	r.Post("/deposit", h.HandleDeposit)
	r.Post("/withdraw", h.HandleWithdraw)
}

// HandleSummary handles GET /api/portfolio
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	var lookup domain.PriceLookup
	if h.quotes != nil {
		lookup = h.quotes.PriceLookup(r.Context())
	}

	summary, err := h.service.Summary(r.Context(), lookup)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build portfolio summary")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// HandleTransactions handles GET /api/portfolio/transactions?ticker=&limit=
func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	ticker := r.URL.Query().Get("ticker")

	var (
		transactions []domain.Transaction
		err          error
	)
	if ticker != "" {
		transactions, err = h.service.TransactionsForTicker(r.Context(), ticker, limit)
	} else {
		transactions, err = h.service.Transactions(r.Context(), limit)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// HandleValueOn handles GET /api/portfolio/value?date=YYYY-MM-DD
func (h *Handler) HandleValueOn(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	var lookup domain.PriceLookup
	if h.quotes != nil {
		lookup = h.quotes.PriceLookup(r.Context())
	}

	valuation, err := h.service.ValueOn(r.Context(), date, lookup)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, valuation)
}

// HandleCash handles GET /api/portfolio/cash
func (h *Handler) HandleCash(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.CashBalance(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]float64{"cash_balance": balance})
}

// HandleCashFlows handles GET /api/portfolio/cash-flows?limit=
func (h *Handler) HandleCashFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.service.CashFlows(r.Context(), parseLimit(r, 100))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if flows == nil {
		flows = []domain.CashFlow{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash_flows": flows,
		"count":      len(flows),
	})
}

// HandleStopLosses handles GET /api/portfolio/stop-losses
func (h *Handler) HandleStopLosses(w http.ResponseWriter, r *http.Request) {
	stops, err := h.service.StopLosses(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"stop_losses": stops})
}

// HandleBuy handles POST /api/portfolio/buy
func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker    string   `json:"ticker"`
		Quantity  float64  `json:"quantity"`
		Price     float64  `json:"price"`
		Reason    string   `json:"reason"`
		StopPrice *float64 `json:"stop_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	receipt, err := h.service.Buy(r.Context(), req.Ticker, req.Quantity, req.Price, req.Reason, req.StopPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, receipt)
}

// HandleSell handles POST /api/portfolio/sell
func (h *Handler) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker   string  `json:"ticker"`
		Quantity float64 `json:"quantity"`
		Price    float64 `json:"price"`
		Reason   string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	receipt, err := h.service.Sell(r.Context(), req.Ticker, req.Quantity, req.Price, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, receipt)
}

// HandleDeposit handles POST /api/portfolio/deposit
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleCashFlow(w, r, h.service.Deposit)
}

// HandleWithdraw handles POST /api/portfolio/withdraw
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleCashFlow(w, r, h.service.Withdraw)
}

func (h *Handler) handleCashFlow(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, amount float64, note string) (*domain.CashFlow, error)) {

	var req struct {
		Amount float64 `json:"amount"`
		Note   string  `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	flow, err := apply(r.Context(), req.Amount, req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, flow)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// statusForError maps domain error kinds onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNoSuchHolding):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQuoteUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}
