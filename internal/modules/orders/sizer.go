// Package orders sizes and executes proposed order batches against the
// ledger. The sizer is a pure function; the execution service owns the
// sell-then-fit-then-buy pipeline and its audit trail.
package orders

import (
	"fmt"
	"math"

	"github.com/wrenholt/papertrader/internal/domain"
)

// Reduction passes are capped so a pathological batch cannot spin forever.
const maxReductionRounds = 1000

// OrderFit is the sizing outcome for one order. Orders reduced all the way
// to zero are dropped from the report.
type OrderFit struct {
	Ticker           string  `json:"ticker"`
	Price            float64 `json:"price"`
	OriginalQuantity float64 `json:"original_quantity"`
	FinalQuantity    float64 `json:"final_quantity"`
	SharesReduced    float64 `json:"shares_reduced"`
	FinalCost        float64 `json:"final_cost"`
}

// FitReport describes how a batch was shrunk to fit the budget
type FitReport struct {
	Orders            []OrderFit `json:"orders"`
	OriginalTotalCost float64    `json:"original_total_cost"`
	FinalTotalCost    float64    `json:"final_total_cost"`
	Savings           float64    `json:"savings"`
	RoundsExecuted    int        `json:"rounds_executed"`
	Reduced           bool       `json:"reduced"`
	LimitExceeded     bool       `json:"limit_exceeded"`
}

// Fit shrinks a buy batch until its total cost fits availableCash minus the
// buffer. Reduction is round-robin: every pass removes one unit from each
// order that still has quantity, so the cut is spread across the batch
// instead of dropping whole positions. When the round cap is hit the best
// state reached is returned together with ErrReductionLimitExceeded.
func Fit(orders []domain.ProposedOrder, availableCash, buffer float64) (*FitReport, error) {
	for _, order := range orders {
		if order.Price <= 0 {
			return nil, fmt.Errorf("%w: order %s has price %.2f", domain.ErrInvalidInput, order.Ticker, order.Price)
		}
		if order.Quantity < 0 {
			return nil, fmt.Errorf("%w: order %s has quantity %g", domain.ErrInvalidInput, order.Ticker, order.Quantity)
		}
	}

	budget := availableCash - buffer

	quantities := make([]float64, len(orders))
	originalTotal := 0.0
	for i, order := range orders {
		quantities[i] = order.Quantity
		originalTotal += order.Quantity * order.Price
	}

	total := originalTotal
	rounds := 0
	limitExceeded := false

	for total > budget {
		if !anyPositive(quantities) {
			break
		}
		if rounds >= maxReductionRounds {
			limitExceeded = true
			break
		}
		rounds++

		for i := range quantities {
			if quantities[i] > 0 {
				quantities[i] = math.Max(0, quantities[i]-1)
			}
		}

		total = 0
		for i, order := range orders {
			total += quantities[i] * order.Price
		}
	}

	report := &FitReport{
		OriginalTotalCost: originalTotal,
		FinalTotalCost:    total,
		Savings:           originalTotal - total,
		RoundsExecuted:    rounds,
		Reduced:           rounds > 0,
		LimitExceeded:     limitExceeded,
	}

	for i, order := range orders {
		if quantities[i] <= 0 {
			continue
		}
		report.Orders = append(report.Orders, OrderFit{
			Ticker:           order.Ticker,
			Price:            order.Price,
			OriginalQuantity: order.Quantity,
			FinalQuantity:    quantities[i],
			SharesReduced:    order.Quantity - quantities[i],
			FinalCost:        quantities[i] * order.Price,
		})
	}

	if limitExceeded {
		return report, fmt.Errorf("%w: %d rounds spent, %.2f still over budget %.2f",
			domain.ErrReductionLimitExceeded, rounds, total, budget)
	}
	return report, nil
}

func anyPositive(quantities []float64) bool {
	for _, q := range quantities {
		if q > 0 {
			return true
		}
	}
	return false
}
