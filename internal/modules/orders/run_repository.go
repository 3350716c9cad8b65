package orders

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const runColumns = "id, started_at, duration_ms, orders_total, orders_executed, orders_skipped, orders_failed, report"

// Run is one persisted execution batch
type Run struct {
	ID             string           `json:"id"`
	StartedAt      time.Time        `json:"started_at"`
	DurationMS     int64            `json:"duration_ms"`
	OrdersTotal    int              `json:"orders_total"`
	OrdersExecuted int              `json:"orders_executed"`
	OrdersSkipped  int              `json:"orders_skipped"`
	OrdersFailed   int              `json:"orders_failed"`
	Report         *ExecutionResult `json:"report,omitempty"`
}

// RunRepository stores execution run audit rows in cache.db
type RunRepository struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewRunRepository creates a new execution run repository
func NewRunRepository(cacheDB *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "execution_runs").Logger(),
	}
}

// Insert persists a run with its msgpack-encoded report
func (r *RunRepository) Insert(run *Run) error {
	blob, err := msgpack.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO execution_runs (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", runColumns)

	_, err = r.cacheDB.Exec(query,
		run.ID,
		run.StartedAt.Unix(),
		run.DurationMS,
		run.OrdersTotal,
		run.OrdersExecuted,
		run.OrdersSkipped,
		run.OrdersFailed,
		blob,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution run: %w", err)
	}
	return nil
}

// List returns the most recent runs, reports decoded
func (r *RunRepository) List(limit int) ([]Run, error) {
	query := fmt.Sprintf("SELECT %s FROM execution_runs ORDER BY started_at DESC, id DESC LIMIT ?", runColumns)

	rows, err := r.cacheDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var blob []byte

		err := rows.Scan(
			&run.ID,
			&startedAt,
			&run.DurationMS,
			&run.OrdersTotal,
			&run.OrdersExecuted,
			&run.OrdersSkipped,
			&run.OrdersFailed,
			&blob,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution run: %w", err)
		}

		run.StartedAt = time.Unix(startedAt, 0).UTC()

		var report ExecutionResult
		if err := msgpack.Unmarshal(blob, &report); err != nil {
			r.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to decode run report")
		} else {
			run.Report = &report
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}
