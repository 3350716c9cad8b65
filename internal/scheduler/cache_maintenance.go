package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenholt/papertrader/internal/database"
	"github.com/wrenholt/papertrader/internal/modules/marketdata"
)

// CacheMaintenanceJob evicts expired quote rows and checkpoints the
// write-ahead logs so the database files stay small. Runs nightly,
// outside market hours.
type CacheMaintenanceJob struct {
	log       zerolog.Logger
	market    *marketdata.Service
	databases []*database.DB
}

// NewCacheMaintenanceJob creates a new cache maintenance job
func NewCacheMaintenanceJob(log zerolog.Logger, market *marketdata.Service, databases []*database.DB) *CacheMaintenanceJob {
	return &CacheMaintenanceJob{
		log:       log.With().Str("job", "cache_maintenance").Logger(),
		market:    market,
		databases: databases,
	}
}

// Name returns the job name
func (j *CacheMaintenanceJob) Name() string {
	return "cache_maintenance"
}

// Run purges expired quotes and checkpoints every database
func (j *CacheMaintenanceJob) Run() error {
	startTime := time.Now()

	purged, err := j.market.PurgeExpired()
	if err != nil {
		return fmt.Errorf("failed to purge expired quotes: %w", err)
	}

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	j.log.Info().
		Int64("purged", purged).
		Int("databases", len(j.databases)).
		Dur("duration", time.Since(startTime)).
		Msg("Cache maintenance complete")

	return nil
}
