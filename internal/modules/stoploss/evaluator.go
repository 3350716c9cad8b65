// Package stoploss sweeps held positions against their recorded stop prices
// and liquidates the ones that breached. Stops live in the transaction log
// (most recent buy with a stop wins); the sweep never invents one.
package stoploss

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
)

// Account is the ledger surface the evaluator drives
type Account interface {
	Holdings(ctx context.Context) ([]domain.Holding, error)
	StopLosses(ctx context.Context) (map[string]float64, error)
	Sell(ctx context.Context, ticker string, quantity, price float64, reason string) (*domain.Receipt, error)
}

// QuoteGetter supplies current prices, force-refreshed for sweeps
type QuoteGetter interface {
	GetQuote(ctx context.Context, ticker string, forceRefresh bool) (*domain.Quote, error)
}

// TriggeredStop records one liquidation performed by a sweep
type TriggeredStop struct {
	Ticker        string  `json:"ticker"`
	Quantity      float64 `json:"quantity"`
	StopPrice     float64 `json:"stop_price"`
	ObservedPrice float64 `json:"observed_price"`
	GainLoss      float64 `json:"gain_loss"`
}

// SweepResult summarizes one pass over the held positions
type SweepResult struct {
	CheckedAt time.Time       `json:"checked_at"`
	Checked   int             `json:"checked"`
	Triggered []TriggeredStop `json:"triggered"`
	Skipped   []string        `json:"skipped,omitempty"`
	Errored   []string        `json:"errored,omitempty"`
}

// Evaluator runs stop-loss sweeps
type Evaluator struct {
	account Account
	quotes  QuoteGetter
	events  *events.Manager
	log     zerolog.Logger
}

// NewEvaluator creates a new stop-loss evaluator
func NewEvaluator(account Account, quotes QuoteGetter, eventManager *events.Manager, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		account: account,
		quotes:  quotes,
		events:  eventManager,
		log:     log.With().Str("service", "stoploss").Logger(),
	}
}

// CheckAll sweeps every holding that carries a stop price. A holding whose
// quote cannot be refreshed is skipped, never treated as a breach, and a
// failure on one ticker does not abort the sweep. Triggered positions are
// sold in full at the recorded stop price.
func (e *Evaluator) CheckAll(ctx context.Context) (*SweepResult, error) {
	holdings, err := e.account.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	stops, err := e.account.StopLosses(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{CheckedAt: time.Now().UTC()}

	for _, holding := range holdings {
		stopPrice, ok := stops[holding.Ticker]
		if !ok {
			continue
		}
		result.Checked++

		quote, err := e.quotes.GetQuote(ctx, holding.Ticker, true)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("ticker", holding.Ticker).
				Float64("stop_price", stopPrice).
				Msg("No quote for stop-loss check, skipping")
			result.Skipped = append(result.Skipped, holding.Ticker)
			continue
		}

		if quote.CurrentPrice > stopPrice {
			continue
		}

		receipt, err := e.account.Sell(ctx, holding.Ticker, holding.Quantity, stopPrice, "stop-loss triggered")
		if err != nil {
			e.log.Error().
				Err(err).
				Str("ticker", holding.Ticker).
				Msg("Stop-loss sell failed")
			if e.events != nil {
				e.events.EmitError("stoploss", err, map[string]interface{}{
					"ticker":     holding.Ticker,
					"stop_price": stopPrice,
				})
			}
			result.Errored = append(result.Errored, holding.Ticker)
			continue
		}

		gainLoss := 0.0
		if receipt.GainLoss != nil {
			gainLoss = *receipt.GainLoss
		}

		e.log.Info().
			Str("ticker", holding.Ticker).
			Float64("quantity", receipt.Quantity).
			Float64("stop_price", stopPrice).
			Float64("observed_price", quote.CurrentPrice).
			Float64("gain_loss", gainLoss).
			Msg("Stop-loss triggered")

		result.Triggered = append(result.Triggered, TriggeredStop{
			Ticker:        holding.Ticker,
			Quantity:      receipt.Quantity,
			StopPrice:     stopPrice,
			ObservedPrice: quote.CurrentPrice,
			GainLoss:      gainLoss,
		})

		if e.events != nil {
			e.events.Emit(events.StopLossTriggered, "stoploss", map[string]interface{}{
				"ticker":         holding.Ticker,
				"quantity":       receipt.Quantity,
				"stop_price":     stopPrice,
				"observed_price": quote.CurrentPrice,
				"gain_loss":      gainLoss,
			})
		}
	}

	if result.Checked > 0 || len(result.Triggered) > 0 {
		e.log.Info().
			Int("checked", result.Checked).
			Int("triggered", len(result.Triggered)).
			Int("skipped", len(result.Skipped)).
			Int("errored", len(result.Errored)).
			Msg("Stop-loss sweep finished")
	}

	return result, nil
}
