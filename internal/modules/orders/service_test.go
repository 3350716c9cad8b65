package orders

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
	"github.com/wrenholt/papertrader/internal/modules/ledger"
)

type stubQuotes struct {
	prices map[string]float64
	calls  int
}

func (s *stubQuotes) GetQuote(_ context.Context, ticker string, _ bool) (*domain.Quote, error) {
	s.calls++
	price, ok := s.prices[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: no stub price for %s", domain.ErrQuoteUnavailable, ticker)
	}
	return &domain.Quote{
		Symbol:       ticker,
		CurrentPrice: price,
		Source:       "stub",
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func setupExecution(t *testing.T, initialCash, buffer float64, quotes *stubQuotes) (*ExecutionService, *ledger.Service) {
	t.Helper()

	ledgerDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	ledgerDB.SetMaxOpenConns(1)
	t.Cleanup(func() { ledgerDB.Close() })
	require.NoError(t, ledger.InitSchema(ledgerDB))

	cacheDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	cacheDB.SetMaxOpenConns(1)
	t.Cleanup(func() { cacheDB.Close() })
	require.NoError(t, InitSchema(cacheDB))

	log := zerolog.Nop()
	accounts := ledger.NewService(ledgerDB, events.NewManager(log), log)
	require.NoError(t, accounts.Seed(initialCash))

	runs := NewRunRepository(cacheDB, log)
	svc := NewExecutionService(accounts, quotes, runs, events.NewManager(log), buffer, false, log)
	return svc, accounts
}

func resultFor(t *testing.T, results []OrderResult, ticker string) OrderResult {
	t.Helper()
	for _, r := range results {
		if r.Ticker == ticker {
			return r
		}
	}
	t.Fatalf("no result for ticker %s", ticker)
	return OrderResult{}
}

// A sell and a buy in one batch: the sale proceeds must be available to the
// buy, so a batch that starts with zero cash still executes.
func TestExecuteSellsSettleBeforeBuys(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 120, "MSFT": 140}}
	svc, accounts := setupExecution(t, 1000, 0, quotes)

	_, err := accounts.Buy(ctx, "AAPL", 10, 100, "setup", nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "MSFT", Side: domain.OrderSideBuy, Quantity: 8, Price: 140},
		{Ticker: "AAPL", Side: domain.OrderSideSell, Quantity: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Executed)
	assert.Equal(t, 0, result.Failed)

	sale := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, StatusSuccess, sale.Status)
	assert.Equal(t, 120.0, sale.Price)

	purchase := resultFor(t, result.Results, "MSFT")
	assert.Equal(t, StatusSuccess, purchase.Status)
	assert.Equal(t, 8.0, purchase.Quantity)

	cash, err := accounts.CashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, cash, 1e-9) // 0 + 1200 - 1120

	holding, err := accounts.Holding(ctx, "MSFT")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 8.0, holding.Quantity)

	gone, err := accounts.Holding(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestExecuteTrimSellsHalfThePosition(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 110}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	_, err := accounts.Buy(ctx, "AAPL", 10, 100, "setup", nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "AAPL", Side: domain.OrderSideTrim},
	})
	require.NoError(t, err)

	trimmed := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, StatusSuccess, trimmed.Status)
	assert.Equal(t, 5.0, trimmed.Quantity)
	assert.Equal(t, 110.0, trimmed.Price)

	holding, err := accounts.Holding(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 5.0, holding.Quantity)
}

// Trimming a single share sells it rather than rounding down to zero
func TestExecuteTrimOfOneShareSellsIt(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 110}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	_, err := accounts.Buy(ctx, "AAPL", 1, 100, "setup", nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "AAPL", Side: domain.OrderSideTrim},
	})
	require.NoError(t, err)

	trimmed := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, StatusSuccess, trimmed.Status)
	assert.Equal(t, 1.0, trimmed.Quantity)

	holding, err := accounts.Holding(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, holding)
}

func TestExecuteSellCapsAtHeldQuantity(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 110}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	_, err := accounts.Buy(ctx, "AAPL", 10, 100, "setup", nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "AAPL", Side: domain.OrderSideSell, Quantity: 25},
	})
	require.NoError(t, err)

	sale := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, StatusSuccess, sale.Status)
	assert.Equal(t, 10.0, sale.Quantity)

	holding, err := accounts.Holding(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, holding)
}

// One bad order never poisons the rest of the batch
func TestExecuteIsolatesPerOrderFailures(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 55}}
	svc, _ := setupExecution(t, 10000, 0, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "GONE", Side: domain.OrderSideSell, Quantity: 5},
		{Ticker: "bad ticker!", Side: domain.OrderSideBuy, Quantity: 1, Price: 10},
		{Ticker: "AAPL", Side: domain.OrderSideBuy, Quantity: 2, Price: 55},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 2, result.Failed)

	missing := resultFor(t, result.Results, "GONE")
	assert.Equal(t, StatusError, missing.Status)
	require.NotNil(t, missing.Error)
	assert.Contains(t, *missing.Error, "no such holding")

	bought := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, StatusSuccess, bought.Status)
}

func TestExecutePriceHintFallback(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "NOQUOTE", Side: domain.OrderSideBuy, Quantity: 4, Price: 50},
	})
	require.NoError(t, err)

	bought := resultFor(t, result.Results, "NOQUOTE")
	assert.Equal(t, StatusSuccess, bought.Status)
	assert.Equal(t, 50.0, bought.Price)

	holding, err := accounts.Holding(ctx, "NOQUOTE")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 50.0, holding.AverageCost)
}

// A sell with no price hint and no quote has nothing to execute at
func TestExecuteSellWithoutAnyPriceFails(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	_, err := accounts.Buy(ctx, "NOPX", 5, 20, "setup", nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "NOPX", Side: domain.OrderSideSell, Quantity: 5},
	})
	require.NoError(t, err)

	failed := resultFor(t, result.Results, "NOPX")
	assert.Equal(t, StatusError, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "no price available")

	// Position untouched
	holding, err := accounts.Holding(ctx, "NOPX")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 5.0, holding.Quantity)
}

func TestExecuteReducesBuysToFitBudget(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"ABC": 50, "DEF": 50, "HIJ": 50}}
	svc, accounts := setupExecution(t, 10000, 500, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "ABC", Side: domain.OrderSideBuy, Quantity: 100, Price: 50},
		{Ticker: "DEF", Side: domain.OrderSideBuy, Quantity: 90, Price: 50},
		{Ticker: "HIJ", Side: domain.OrderSideBuy, Quantity: 80, Price: 50},
	})
	require.NoError(t, err)

	require.NotNil(t, result.FitReport)
	assert.True(t, result.FitReport.Reduced)
	assert.Equal(t, 3, result.Executed)

	assert.Equal(t, 73.0, resultFor(t, result.Results, "ABC").Quantity)
	assert.Equal(t, 63.0, resultFor(t, result.Results, "DEF").Quantity)
	assert.Equal(t, 53.0, resultFor(t, result.Results, "HIJ").Quantity)

	cash, err := accounts.CashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 550.0, cash, 1e-9) // 10000 - 9450
}

func TestExecuteSkipsBuysReducedToZero(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"BIG": 10, "TINY": 10}}
	svc, accounts := setupExecution(t, 100, 0, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "BIG", Side: domain.OrderSideBuy, Quantity: 100, Price: 10},
		{Ticker: "TINY", Side: domain.OrderSideBuy, Quantity: 2, Price: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 1, result.Skipped)

	skipped := resultFor(t, result.Results, "TINY")
	assert.Equal(t, StatusSkipped, skipped.Status)
	require.NotNil(t, skipped.Error)
	assert.Contains(t, *skipped.Error, "reduced to zero")

	bought := resultFor(t, result.Results, "BIG")
	assert.Equal(t, StatusSuccess, bought.Status)
	assert.Equal(t, 10.0, bought.Quantity)

	cash, err := accounts.CashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, cash, 1e-9)
}

// Quotes win over stale hints when both are available
func TestExecuteBuyUsesQuoteOverHint(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 104}}
	svc, accounts := setupExecution(t, 10000, 0, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "AAPL", Side: domain.OrderSideBuy, Quantity: 3, Price: 95},
	})
	require.NoError(t, err)

	bought := resultFor(t, result.Results, "AAPL")
	assert.Equal(t, 104.0, bought.Price)

	holding, err := accounts.Holding(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, holding)
	assert.Equal(t, 104.0, holding.AverageCost)
}

func TestExecutePersistsRun(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{"AAPL": 100}}
	svc, _ := setupExecution(t, 10000, 0, quotes)

	result, err := svc.Execute(ctx, []domain.ProposedOrder{
		{Ticker: "AAPL", Side: domain.OrderSideBuy, Quantity: 2, Price: 100},
		{Ticker: "GONE", Side: domain.OrderSideSell, Quantity: 1},
	})
	require.NoError(t, err)

	runs, err := svc.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, result.RunID, run.ID)
	assert.Equal(t, 2, run.OrdersTotal)
	assert.Equal(t, 1, run.OrdersExecuted)
	assert.Equal(t, 1, run.OrdersFailed)

	require.NotNil(t, run.Report)
	assert.Equal(t, result.RunID, run.Report.RunID)
	assert.Len(t, run.Report.Results, 2)
}

func TestFitPreviewDefaultsToLiveBalance(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuotes{prices: map[string]float64{}}
	svc, _ := setupExecution(t, 10000, 500, quotes)

	report, err := svc.FitPreview(ctx, []domain.ProposedOrder{
		{Ticker: "ABC", Side: domain.OrderSideBuy, Quantity: 100, Price: 50},
		{Ticker: "DEF", Side: domain.OrderSideBuy, Quantity: 90, Price: 50},
		{Ticker: "HIJ", Side: domain.OrderSideBuy, Quantity: 80, Price: 50},
	}, nil, nil)
	require.NoError(t, err)

	assert.True(t, report.Reduced)
	assert.InDelta(t, 9450.0, report.FinalTotalCost, 1e-9)

	// Explicit cash and buffer override the account
	cash := 20000.0
	buffer := 0.0
	report, err = svc.FitPreview(ctx, []domain.ProposedOrder{
		{Ticker: "ABC", Side: domain.OrderSideBuy, Quantity: 100, Price: 50},
	}, &cash, &buffer)
	require.NoError(t, err)
	assert.False(t, report.Reduced)
}
