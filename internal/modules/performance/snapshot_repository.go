package performance

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const snapshotColumns = "date, cash, total_market_value, total_portfolio_value, benchmark_price, recorded_at"

// DailySnapshot is one end-of-day portfolio valuation
type DailySnapshot struct {
	Date                string    `json:"date"`
	Cash                float64   `json:"cash"`
	TotalMarketValue    float64   `json:"total_market_value"`
	TotalPortfolioValue float64   `json:"total_portfolio_value"`
	BenchmarkPrice      float64   `json:"benchmark_price"`
	RecordedAt          time.Time `json:"recorded_at"`
}

// SnapshotRepository stores daily snapshots in ledger.db
type SnapshotRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(ledgerDB *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "daily_snapshots").Logger(),
	}
}

// Upsert writes the snapshot for its date, replacing any existing row
func (r *SnapshotRepository) Upsert(snapshot *DailySnapshot) error {
	query := fmt.Sprintf("INSERT OR REPLACE INTO daily_snapshots (%s) VALUES (?, ?, ?, ?, ?, ?)", snapshotColumns)

	_, err := r.ledgerDB.Exec(query,
		snapshot.Date,
		snapshot.Cash,
		snapshot.TotalMarketValue,
		snapshot.TotalPortfolioValue,
		snapshot.BenchmarkPrice,
		snapshot.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily snapshot: %w", err)
	}
	return nil
}

// History returns up to `days` most recent snapshots in chronological order
func (r *SnapshotRepository) History(days int) ([]DailySnapshot, error) {
	query := fmt.Sprintf("SELECT %s FROM daily_snapshots ORDER BY date DESC LIMIT ?", snapshotColumns)

	rows, err := r.ledgerDB.Query(query, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []DailySnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for return calculations
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}

	return snapshots, nil
}

// Count returns the number of stored snapshots
func (r *SnapshotRepository) Count() (int, error) {
	var count int
	err := r.ledgerDB.QueryRow("SELECT COUNT(*) FROM daily_snapshots").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily snapshots: %w", err)
	}
	return count, nil
}

func scanSnapshot(rows *sql.Rows) (DailySnapshot, error) {
	var snapshot DailySnapshot
	var recordedAt int64

	err := rows.Scan(
		&snapshot.Date,
		&snapshot.Cash,
		&snapshot.TotalMarketValue,
		&snapshot.TotalPortfolioValue,
		&snapshot.BenchmarkPrice,
		&recordedAt,
	)
	if err != nil {
		return DailySnapshot{}, fmt.Errorf("failed to scan daily snapshot: %w", err)
	}

	snapshot.RecordedAt = time.Unix(recordedAt, 0).UTC()
	return snapshot, nil
}
