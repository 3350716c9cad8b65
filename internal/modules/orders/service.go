package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
)

// QuoteGetter supplies execution prices. Implemented by the market data
// cache.
type QuoteGetter interface {
	GetQuote(ctx context.Context, ticker string, forceRefresh bool) (*domain.Quote, error)
}

// Ledger is the account surface the execution service drives. Implemented by
// the ledger service.
type Ledger interface {
	Buy(ctx context.Context, ticker string, quantity, price float64, reason string, stopPrice *float64) (*domain.Receipt, error)
	Sell(ctx context.Context, ticker string, quantity, price float64, reason string) (*domain.Receipt, error)
	Holding(ctx context.Context, ticker string) (*domain.Holding, error)
	CashBalance(ctx context.Context) (float64, error)
}

// Order result statuses
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// OrderResult is the per-order outcome of an execution batch
type OrderResult struct {
	Ticker   string           `json:"ticker"`
	Side     domain.OrderSide `json:"side"`
	Status   string           `json:"status"`
	Quantity float64          `json:"quantity,omitempty"`
	Price    float64          `json:"price,omitempty"`
	Error    *string          `json:"error,omitempty"`
}

// ExecutionResult is the full outcome of one batch
type ExecutionResult struct {
	RunID      string        `json:"run_id"`
	Results    []OrderResult `json:"results"`
	FitReport  *FitReport    `json:"fit_report,omitempty"`
	Executed   int           `json:"executed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMS int64         `json:"duration_ms"`
}

// ExecutionService applies untrusted order batches to the ledger: sells and
// trims settle first, then the freed-up cash is measured and the buys are
// sized to fit before executing.
type ExecutionService struct {
	ledger      Ledger
	quotes      QuoteGetter
	runs        *RunRepository
	events      *events.Manager
	buffer      float64
	freshQuotes bool
	log         zerolog.Logger
}

// NewExecutionService creates a new execution service
func NewExecutionService(ledger Ledger, quotes QuoteGetter, runs *RunRepository, eventManager *events.Manager, buffer float64, freshQuotes bool, log zerolog.Logger) *ExecutionService {
	return &ExecutionService{
		ledger:      ledger,
		quotes:      quotes,
		runs:        runs,
		events:      eventManager,
		buffer:      buffer,
		freshQuotes: freshQuotes,
		log:         log.With().Str("service", "order_execution").Logger(),
	}
}

// Execute runs an order batch. Individual order failures are recorded in the
// result, never fatal to the batch; the returned error covers only problems
// that prevented the batch from running at all.
func (s *ExecutionService) Execute(ctx context.Context, proposed []domain.ProposedOrder) (*ExecutionResult, error) {
	started := time.Now().UTC()
	result := &ExecutionResult{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	s.log.Info().
		Str("run_id", result.RunID).
		Int("orders", len(proposed)).
		Msg("Executing order batch")

	var sells, buys []domain.ProposedOrder
	for i := range proposed {
		order := proposed[i]
		if err := order.Validate(); err != nil {
			result.Results = append(result.Results, errorResult(order, err))
			continue
		}
		if order.Side == domain.OrderSideBuy {
			buys = append(buys, order)
		} else {
			sells = append(sells, order)
		}
	}

	// Sells and trims settle first so their proceeds fund the buys
	for _, order := range sells {
		result.Results = append(result.Results, s.executeSell(ctx, order))
	}

	if len(buys) > 0 {
		s.executeBuys(ctx, buys, result)
	}

	for _, r := range result.Results {
		switch r.Status {
		case StatusSuccess:
			result.Executed++
		case StatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	result.DurationMS = time.Since(started).Milliseconds()

	s.persistRun(result, len(proposed))

	s.log.Info().
		Str("run_id", result.RunID).
		Int("executed", result.Executed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int64("duration_ms", result.DurationMS).
		Msg("Order batch finished")

	if s.events != nil {
		s.events.Emit(events.ExecutionFinished, "orders", map[string]interface{}{
			"run_id":   result.RunID,
			"executed": result.Executed,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		})
	}

	return result, nil
}

// executeSell settles one sell or trim order
func (s *ExecutionService) executeSell(ctx context.Context, order domain.ProposedOrder) OrderResult {
	holding, err := s.ledger.Holding(ctx, order.Ticker)
	if err != nil {
		return errorResult(order, fmt.Errorf("failed to read holding: %w", err))
	}
	if holding == nil {
		return errorResult(order, fmt.Errorf("%w: %s", domain.ErrNoSuchHolding, order.Ticker))
	}

	var quantity float64
	switch order.Side {
	case domain.OrderSideTrim:
		quantity = math.Max(1, math.Floor(holding.Quantity/2))
	default:
		quantity = math.Min(order.Quantity, holding.Quantity)
	}
	if quantity <= 0 {
		return errorResult(order, fmt.Errorf("%w: nothing to sell for %s", domain.ErrInvalidInput, order.Ticker))
	}

	price, err := s.executionPrice(ctx, order)
	if err != nil {
		return errorResult(order, err)
	}

	reason := order.Reason
	if reason == "" {
		reason = fmt.Sprintf("batch %s", order.Side)
	}

	receipt, err := s.ledger.Sell(ctx, order.Ticker, quantity, price, reason)
	if err != nil {
		return errorResult(order, err)
	}

	return OrderResult{
		Ticker:   receipt.Ticker,
		Side:     order.Side,
		Status:   StatusSuccess,
		Quantity: receipt.Quantity,
		Price:    receipt.Price,
	}
}

// executeBuys prices the buys, fits them to the post-sell cash, and executes
// whatever survived the fit.
func (s *ExecutionService) executeBuys(ctx context.Context, buys []domain.ProposedOrder, result *ExecutionResult) {
	// Refresh prices first; orders with no obtainable price drop out here
	priced := make([]domain.ProposedOrder, 0, len(buys))
	for _, order := range buys {
		price, err := s.executionPrice(ctx, order)
		if err != nil {
			result.Results = append(result.Results, errorResult(order, err))
			continue
		}
		order.Price = price
		priced = append(priced, order)
	}
	if len(priced) == 0 {
		return
	}

	cash, err := s.ledger.CashBalance(ctx)
	if err != nil {
		for _, order := range priced {
			result.Results = append(result.Results, errorResult(order, fmt.Errorf("failed to read cash balance: %w", err)))
		}
		return
	}

	report, fitErr := Fit(priced, cash, s.buffer)
	if fitErr != nil && report == nil {
		for _, order := range priced {
			result.Results = append(result.Results, errorResult(order, fitErr))
		}
		return
	}
	result.FitReport = report

	if report.Reduced {
		s.log.Warn().
			Float64("original_cost", report.OriginalTotalCost).
			Float64("final_cost", report.FinalTotalCost).
			Int("rounds", report.RoundsExecuted).
			Bool("limit_exceeded", report.LimitExceeded).
			Msg("Buy batch reduced to fit budget")

		if s.events != nil {
			s.events.Emit(events.OrdersReduced, "orders", map[string]interface{}{
				"original_cost":  report.OriginalTotalCost,
				"final_cost":     report.FinalTotalCost,
				"savings":        report.Savings,
				"rounds":         report.RoundsExecuted,
				"limit_exceeded": report.LimitExceeded,
			})
		}
	}

	// The report preserves input order but drops zeroed orders; walk both
	// lists in step to pair each buy with its fitted quantity.
	fitIdx := 0
	for _, order := range priced {
		var fitted *OrderFit
		if fitIdx < len(report.Orders) {
			candidate := &report.Orders[fitIdx]
			if candidate.Ticker == order.Ticker && candidate.OriginalQuantity == order.Quantity {
				fitted = candidate
				fitIdx++
			}
		}

		if fitted == nil {
			reason := "reduced to zero by budget fit"
			result.Results = append(result.Results, OrderResult{
				Ticker: order.Ticker,
				Side:   order.Side,
				Status: StatusSkipped,
				Error:  &reason,
			})
			continue
		}

		receipt, err := s.ledger.Buy(ctx, order.Ticker, fitted.FinalQuantity, fitted.Price, order.Reason, order.StopPrice)
		if err != nil {
			result.Results = append(result.Results, errorResult(order, err))
			continue
		}

		result.Results = append(result.Results, OrderResult{
			Ticker:   receipt.Ticker,
			Side:     order.Side,
			Status:   StatusSuccess,
			Quantity: receipt.Quantity,
			Price:    receipt.Price,
		})
	}
}

// executionPrice resolves the price an order executes at. The quote layer
// wins; a positive price hint is the fallback when quotes fail.
func (s *ExecutionService) executionPrice(ctx context.Context, order domain.ProposedOrder) (float64, error) {
	quote, err := s.quotes.GetQuote(ctx, order.Ticker, s.freshQuotes)
	if err == nil {
		return quote.CurrentPrice, nil
	}

	if order.Price > 0 {
		s.log.Warn().
			Err(err).
			Str("ticker", order.Ticker).
			Float64("hint", order.Price).
			Msg("Quote lookup failed, using price hint")
		return order.Price, nil
	}

	return 0, fmt.Errorf("no price available for %s: %w", order.Ticker, err)
}

// FitPreview sizes a batch without executing it. Cash and buffer default to
// the live balance and the configured buffer when nil.
func (s *ExecutionService) FitPreview(ctx context.Context, orders []domain.ProposedOrder, cash, buffer *float64) (*FitReport, error) {
	availableCash := 0.0
	if cash != nil {
		availableCash = *cash
	} else {
		balance, err := s.ledger.CashBalance(ctx)
		if err != nil {
			return nil, err
		}
		availableCash = balance
	}

	b := s.buffer
	if buffer != nil {
		b = *buffer
	}

	return Fit(orders, availableCash, b)
}

// Runs returns the most recent execution runs
func (s *ExecutionService) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.runs.List(limit)
}

func (s *ExecutionService) persistRun(result *ExecutionResult, total int) {
	if s.runs == nil {
		return
	}

	run := &Run{
		ID:             result.RunID,
		StartedAt:      result.StartedAt,
		DurationMS:     result.DurationMS,
		OrdersTotal:    total,
		OrdersExecuted: result.Executed,
		OrdersSkipped:  result.Skipped,
		OrdersFailed:   result.Failed,
		Report:         result,
	}
	if err := s.runs.Insert(run); err != nil {
		s.log.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to persist execution run")
	}
}

func errorResult(order domain.ProposedOrder, err error) OrderResult {
	msg := err.Error()
	return OrderResult{
		Ticker: domain.NormalizeTicker(order.Ticker),
		Side:   order.Side,
		Status: StatusError,
		Error:  &msg,
	}
}
