package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenholt/papertrader/internal/domain"
)

func buyOrder(ticker string, quantity, price float64) domain.ProposedOrder {
	return domain.ProposedOrder{
		Ticker:   ticker,
		Side:     domain.OrderSideBuy,
		Quantity: quantity,
		Price:    price,
	}
}

func TestFitWithinBudgetIsUntouched(t *testing.T) {
	orders := []domain.ProposedOrder{
		buyOrder("ABC", 10, 50),
		buyOrder("DEF", 5, 100),
	}

	report, err := Fit(orders, 10000, 500)
	require.NoError(t, err)

	assert.False(t, report.Reduced)
	assert.False(t, report.LimitExceeded)
	assert.Equal(t, 0, report.RoundsExecuted)
	assert.Equal(t, 1000.0, report.OriginalTotalCost)
	assert.Equal(t, 1000.0, report.FinalTotalCost)
	assert.Equal(t, 0.0, report.Savings)

	require.Len(t, report.Orders, 2)
	assert.Equal(t, 10.0, report.Orders[0].FinalQuantity)
	assert.Equal(t, 0.0, report.Orders[0].SharesReduced)
}

// Three 50-dollar orders totalling 13500 against a 9500 budget: each round
// sheds 150, so 27 rounds land at 9450.
func TestFitReducesRoundRobin(t *testing.T) {
	orders := []domain.ProposedOrder{
		buyOrder("ABC", 100, 50),
		buyOrder("DEF", 90, 50),
		buyOrder("HIJ", 80, 50),
	}

	report, err := Fit(orders, 10000, 500)
	require.NoError(t, err)

	assert.True(t, report.Reduced)
	assert.False(t, report.LimitExceeded)
	assert.Equal(t, 13500.0, report.OriginalTotalCost)
	assert.LessOrEqual(t, report.FinalTotalCost, 9500.0)
	assert.Equal(t, 27, report.RoundsExecuted)
	assert.InDelta(t, 9450.0, report.FinalTotalCost, 1e-9)
	assert.InDelta(t, 4050.0, report.Savings, 1e-9)

	require.Len(t, report.Orders, 3)
	assert.Equal(t, 73.0, report.Orders[0].FinalQuantity)
	assert.Equal(t, 63.0, report.Orders[1].FinalQuantity)
	assert.Equal(t, 53.0, report.Orders[2].FinalQuantity)
	assert.Equal(t, 27.0, report.Orders[0].SharesReduced)
	assert.Equal(t, 3650.0, report.Orders[0].FinalCost)
}

func TestFitDropsOrdersReducedToZero(t *testing.T) {
	orders := []domain.ProposedOrder{
		buyOrder("BIG", 100, 10),
		buyOrder("TINY", 2, 10),
	}

	// Budget 500: total 1020 needs 52 units shed; TINY zeroes out after 2
	// rounds and the rest comes off BIG.
	report, err := Fit(orders, 500, 0)
	require.NoError(t, err)

	assert.True(t, report.Reduced)
	require.Len(t, report.Orders, 1)
	assert.Equal(t, "BIG", report.Orders[0].Ticker)
	assert.Equal(t, 50.0, report.Orders[0].FinalQuantity)
	assert.LessOrEqual(t, report.FinalTotalCost, 500.0)
}

func TestFitNonPositiveBudgetEmptiesBatch(t *testing.T) {
	orders := []domain.ProposedOrder{
		buyOrder("ABC", 5, 50),
		buyOrder("DEF", 3, 50),
	}

	report, err := Fit(orders, 100, 500)
	require.NoError(t, err)

	assert.True(t, report.Reduced)
	assert.Empty(t, report.Orders)
	assert.Equal(t, 0.0, report.FinalTotalCost)
}

func TestFitRoundCap(t *testing.T) {
	// One enormous order cannot fit within 1000 single-unit rounds
	orders := []domain.ProposedOrder{
		buyOrder("HUGE", 5000, 100),
	}

	report, err := Fit(orders, 1000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrReductionLimitExceeded), "expected ErrReductionLimitExceeded, got %v", err)

	// Best state reached is still reported
	require.NotNil(t, report)
	assert.True(t, report.LimitExceeded)
	assert.Equal(t, maxReductionRounds, report.RoundsExecuted)
	require.Len(t, report.Orders, 1)
	assert.Equal(t, 4000.0, report.Orders[0].FinalQuantity)
}

func TestFitValidation(t *testing.T) {
	_, err := Fit([]domain.ProposedOrder{buyOrder("ABC", 10, 0)}, 1000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = Fit([]domain.ProposedOrder{buyOrder("ABC", 10, -5)}, 1000, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = Fit([]domain.ProposedOrder{buyOrder("ABC", -1, 50)}, 1000, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestFitEmptyBatch(t *testing.T) {
	report, err := Fit(nil, 1000, 500)
	require.NoError(t, err)

	assert.False(t, report.Reduced)
	assert.Empty(t, report.Orders)
	assert.Equal(t, 0.0, report.OriginalTotalCost)
}
