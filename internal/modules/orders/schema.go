package orders

import (
	"database/sql"
	"fmt"
)

// Schema for execution run audit rows in cache.db. The report column holds
// the msgpack-encoded execution result.
const Schema = `
CREATE TABLE IF NOT EXISTS execution_runs (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    orders_total INTEGER NOT NULL,
    orders_executed INTEGER NOT NULL,
    orders_skipped INTEGER NOT NULL,
    orders_failed INTEGER NOT NULL,
    report BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_runs_started_at ON execution_runs(started_at);
`

// InitSchema creates the execution run table in cache.db
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize execution run schema: %w", err)
	}
	return nil
}
