package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenholt/papertrader/internal/modules/performance"
)

const dailySnapshotTimeout = 2 * time.Minute

// DailySnapshotJob records the end-of-day portfolio snapshot the
// performance metrics are computed from. Scheduled after the US close;
// re-runs on the same date replace that date's row.
type DailySnapshotJob struct {
	log         zerolog.Logger
	performance *performance.Service
}

// NewDailySnapshotJob creates a new daily snapshot job
func NewDailySnapshotJob(log zerolog.Logger, perf *performance.Service) *DailySnapshotJob {
	return &DailySnapshotJob{
		log:         log.With().Str("job", "daily_snapshot").Logger(),
		performance: perf,
	}
}

// Name returns the job name
func (j *DailySnapshotJob) Name() string {
	return "daily_snapshot"
}

// Run records today's snapshot
func (j *DailySnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), dailySnapshotTimeout)
	defer cancel()

	snapshot, err := j.performance.RecordDaily(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("date", snapshot.Date).
		Float64("total_value", snapshot.TotalPortfolioValue).
		Msg("Daily snapshot recorded")

	return nil
}
