// Package performance records one portfolio snapshot per calendar day and
// derives return, volatility, and drawdown metrics from the series. Snapshots
// live in ledger.db beside the account state they describe; losing them loses
// history, not money.
package performance

import (
	"database/sql"
	"fmt"
)

// Schema holds the DDL for the snapshot table. The date is a calendar day
// (YYYY-MM-DD); re-recording the same day replaces the row.
const Schema = `
CREATE TABLE IF NOT EXISTS daily_snapshots (
	date                  TEXT PRIMARY KEY,
	cash                  REAL NOT NULL,
	total_market_value    REAL NOT NULL DEFAULT 0,
	total_portfolio_value REAL NOT NULL,
	benchmark_price       REAL NOT NULL DEFAULT 0,
	recorded_at           INTEGER NOT NULL
);
`

// InitSchema creates the snapshot table if it does not exist
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize performance schema: %w", err)
	}
	return nil
}
