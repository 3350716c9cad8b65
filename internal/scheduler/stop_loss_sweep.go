package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenholt/papertrader/internal/modules/stoploss"
)

const stopLossSweepTimeout = 2 * time.Minute

// StopLossSweepJob sweeps held positions against their recorded stop
// prices and sells the ones that breached. Registered once per
// configured checkpoint during the trading day.
type StopLossSweepJob struct {
	log       zerolog.Logger
	evaluator *stoploss.Evaluator
}

// NewStopLossSweepJob creates a new stop-loss sweep job
func NewStopLossSweepJob(log zerolog.Logger, evaluator *stoploss.Evaluator) *StopLossSweepJob {
	return &StopLossSweepJob{
		log:       log.With().Str("job", "stop_loss_sweep").Logger(),
		evaluator: evaluator,
	}
}

// Name returns the job name
func (j *StopLossSweepJob) Name() string {
	return "stop_loss_sweep"
}

// Run executes one sweep over all held positions
func (j *StopLossSweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopLossSweepTimeout)
	defer cancel()

	j.log.Info().Msg("Starting stop-loss sweep")
	startTime := time.Now()

	result, err := j.evaluator.CheckAll(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("checked", result.Checked).
		Int("triggered", len(result.Triggered)).
		Int("skipped", len(result.Skipped)).
		Int("errored", len(result.Errored)).
		Dur("duration", time.Since(startTime)).
		Msg("Stop-loss sweep complete")

	return nil
}
