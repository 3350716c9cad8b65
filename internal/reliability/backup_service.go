// Package reliability owns database backups: consistent local snapshots via
// VACUUM INTO and timestamped tar.gz archives shipped to an S3-compatible
// bucket.
package reliability

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/database"
)

// BackupService writes consistent snapshots of the registered databases
type BackupService struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// DatabaseNames returns the registered database names in stable order
func (s *BackupService) DatabaseNames() []string {
	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackupDatabase snapshots one database to destPath. VACUUM INTO produces a
// compacted copy without stopping writers.
func (s *BackupService) BackupDatabase(name, destPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("unknown database %s", name)
	}

	s.log.Debug().
		Str("database", name).
		Str("dest", destPath).
		Msg("Backing up database")

	if err := db.BackupTo(destPath); err != nil {
		return fmt.Errorf("failed to back up %s: %w", name, err)
	}
	return nil
}
