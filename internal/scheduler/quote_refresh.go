package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenholt/papertrader/internal/modules/marketdata"
)

const quoteRefreshTimeout = 5 * time.Minute

// QuoteRefreshJob force-refreshes quotes for every held ticker so
// valuations and stop-loss sweeps work from recent prices instead of
// whatever the cache last saw.
type QuoteRefreshJob struct {
	log    zerolog.Logger
	market *marketdata.Service
}

// NewQuoteRefreshJob creates a new quote refresh job
func NewQuoteRefreshJob(log zerolog.Logger, market *marketdata.Service) *QuoteRefreshJob {
	return &QuoteRefreshJob{
		log:    log.With().Str("job", "quote_refresh").Logger(),
		market: market,
	}
}

// Name returns the job name
func (j *QuoteRefreshJob) Name() string {
	return "quote_refresh"
}

// Run refreshes quotes for all held tickers
func (j *QuoteRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), quoteRefreshTimeout)
	defer cancel()

	startTime := time.Now()

	refreshed, failed, err := j.market.RefreshHoldings(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("refreshed", refreshed).
		Int("failed", failed).
		Dur("duration", time.Since(startTime)).
		Msg("Quote refresh complete")

	return nil
}
