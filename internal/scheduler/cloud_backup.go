package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenholt/papertrader/internal/reliability"
)

const cloudBackupTimeout = 10 * time.Minute

// CloudBackupJob snapshots every database, ships the archive to the
// object store, and prunes archives past the retention window. Only
// registered when backups are configured.
type CloudBackupJob struct {
	log           zerolog.Logger
	backups       *reliability.CloudBackupService
	retentionDays int
}

// NewCloudBackupJob creates a new cloud backup job
func NewCloudBackupJob(log zerolog.Logger, backups *reliability.CloudBackupService, retentionDays int) *CloudBackupJob {
	return &CloudBackupJob{
		log:           log.With().Str("job", "cloud_backup").Logger(),
		backups:       backups,
		retentionDays: retentionDays,
	}
}

// Name returns the job name
func (j *CloudBackupJob) Name() string {
	return "cloud_backup"
}

// Run creates and uploads a backup, then rotates old ones
func (j *CloudBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cloudBackupTimeout)
	defer cancel()

	j.log.Info().Msg("Starting cloud backup")
	startTime := time.Now()

	if err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}

	// Rotation is best-effort once the upload has landed.
	if err := j.backups.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	j.log.Info().
		Dur("duration", time.Since(startTime)).
		Msg("Cloud backup complete")

	return nil
}
