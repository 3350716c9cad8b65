package performance

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
	"github.com/wrenholt/papertrader/pkg/formulas"
)

const rsiLength = 14

// Account is the ledger surface the snapshot reads
type Account interface {
	CashBalance(ctx context.Context) (float64, error)
	Holdings(ctx context.Context) ([]domain.Holding, error)
}

// QuoteGetter supplies prices. Snapshots tolerate stale cache entries; they
// never force a refresh.
type QuoteGetter interface {
	GetQuote(ctx context.Context, ticker string, forceRefresh bool) (*domain.Quote, error)
}

// Metrics describes the snapshot series. Pointer fields are omitted when the
// series is too short to compute them.
type Metrics struct {
	Days                 int      `json:"days"`
	Snapshots            int      `json:"snapshots"`
	StartValue           float64  `json:"start_value"`
	EndValue             float64  `json:"end_value"`
	CumulativeReturn     float64  `json:"cumulative_return"`
	MeanDailyReturn      float64  `json:"mean_daily_return"`
	StdDevDailyReturn    float64  `json:"stddev_daily_return"`
	AnnualizedVolatility float64  `json:"annualized_volatility"`
	MaxDrawdown          float64  `json:"max_drawdown"`
	SharpeRatio          *float64 `json:"sharpe_ratio,omitempty"`
	EquityRSI            *float64 `json:"equity_rsi,omitempty"`
	BenchmarkCorrelation *float64 `json:"benchmark_correlation,omitempty"`
}

// Service records and reads performance history
type Service struct {
	snapshots *SnapshotRepository
	account   Account
	quotes    QuoteGetter
	benchmark string
	events    *events.Manager
	log       zerolog.Logger
}

// NewService creates a new performance service
func NewService(snapshots *SnapshotRepository, account Account, quotes QuoteGetter, benchmark string, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		snapshots: snapshots,
		account:   account,
		quotes:    quotes,
		benchmark: benchmark,
		events:    eventManager,
		log:       log.With().Str("service", "performance").Logger(),
	}
}

// RecordDaily writes today's snapshot, replacing an earlier one for the same
// date. Holdings with no quote keep their last known market value; a missing
// benchmark quote records zero.
func (s *Service) RecordDaily(ctx context.Context) (*DailySnapshot, error) {
	cash, err := s.account.CashBalance(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := s.account.Holdings(ctx)
	if err != nil {
		return nil, err
	}

	totalMarketValue := 0.0
	for _, holding := range holdings {
		quote, err := s.quotes.GetQuote(ctx, holding.Ticker, false)
		if err != nil {
			s.log.Debug().
				Str("ticker", holding.Ticker).
				Float64("last_known", holding.MarketValue).
				Msg("No quote for snapshot, using last known value")
			totalMarketValue += holding.MarketValue
			continue
		}
		totalMarketValue += holding.Quantity * quote.CurrentPrice
	}

	benchmarkPrice := 0.0
	if s.benchmark != "" {
		if quote, err := s.quotes.GetQuote(ctx, s.benchmark, false); err == nil {
			benchmarkPrice = quote.CurrentPrice
		} else {
			s.log.Warn().Err(err).Str("ticker", s.benchmark).Msg("No benchmark quote for snapshot")
		}
	}

	now := time.Now().UTC()
	snapshot := &DailySnapshot{
		Date:                now.Format("2006-01-02"),
		Cash:                cash,
		TotalMarketValue:    totalMarketValue,
		TotalPortfolioValue: cash + totalMarketValue,
		BenchmarkPrice:      benchmarkPrice,
		RecordedAt:          now,
	}

	if err := s.snapshots.Upsert(snapshot); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("date", snapshot.Date).
		Float64("portfolio_value", snapshot.TotalPortfolioValue).
		Msg("Daily snapshot recorded")

	if s.events != nil {
		s.events.Emit(events.SnapshotRecorded, "performance", map[string]interface{}{
			"date":            snapshot.Date,
			"cash":            snapshot.Cash,
			"portfolio_value": snapshot.TotalPortfolioValue,
		})
	}

	return snapshot, nil
}

// History returns up to `days` most recent snapshots, oldest first
func (s *Service) History(ctx context.Context, days int) ([]DailySnapshot, error) {
	if days <= 0 {
		days = 30
	}
	return s.snapshots.History(days)
}

// Metrics computes series statistics over the last `days` snapshots. Fewer
// than two snapshots yield zero-valued metrics, not an error.
func (s *Service) Metrics(ctx context.Context, days int) (*Metrics, error) {
	if days <= 0 {
		days = 30
	}

	snapshots, err := s.snapshots.History(days)
	if err != nil {
		return nil, err
	}

	metrics := &Metrics{Days: days, Snapshots: len(snapshots)}
	if len(snapshots) < 2 {
		return metrics, nil
	}

	values := make([]float64, len(snapshots))
	benchmarkPrices := make([]float64, len(snapshots))
	for i, snapshot := range snapshots {
		values[i] = snapshot.TotalPortfolioValue
		benchmarkPrices[i] = snapshot.BenchmarkPrice
	}

	returns := formulas.CalculateReturns(values)

	metrics.StartValue = values[0]
	metrics.EndValue = values[len(values)-1]
	if values[0] != 0 {
		metrics.CumulativeReturn = (values[len(values)-1] - values[0]) / values[0]
	}
	metrics.MeanDailyReturn = formulas.Mean(returns)
	metrics.StdDevDailyReturn = formulas.StdDev(returns)
	metrics.AnnualizedVolatility = formulas.AnnualizedVolatility(returns)

	if drawdown := formulas.CalculateMaxDrawdown(values); drawdown != nil {
		metrics.MaxDrawdown = *drawdown
	}
	metrics.SharpeRatio = formulas.CalculateSharpeRatio(returns, 0.02, 252)
	metrics.EquityRSI = formulas.CalculateRSI(values, rsiLength)

	// Correlation needs a benchmark price on every snapshot in the window
	if allPositive(benchmarkPrices) {
		benchmarkReturns := formulas.CalculateReturns(benchmarkPrices)
		corr := formulas.Correlation(returns, benchmarkReturns)
		if !math.IsNaN(corr) {
			metrics.BenchmarkCorrelation = &corr
		}
	}

	return metrics, nil
}

func allPositive(values []float64) bool {
	for _, v := range values {
		if v <= 0 {
			return false
		}
	}
	return len(values) > 0
}
