// Package marketdata resolves quotes through an ordered source chain and
// caches results in cache.db with a TTL. The cache is disposable; losing it
// costs API calls, never account state.
package marketdata

import (
	"database/sql"
	"fmt"
)

// Schema for the quote cache. One row per ticker, replaced on every fresh
// fetch. fetched_at is unix seconds UTC.
const Schema = `
CREATE TABLE IF NOT EXISTS quote_cache (
    ticker TEXT PRIMARY KEY,
    price REAL NOT NULL CHECK(price > 0),
    previous_close REAL NOT NULL DEFAULT 0,
    change REAL NOT NULL DEFAULT 0,
    change_percent REAL NOT NULL DEFAULT 0,
    volume INTEGER NOT NULL DEFAULT 0,
    market_cap REAL NOT NULL DEFAULT 0,
    source_name TEXT NOT NULL,
    fetched_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quote_cache_fetched_at ON quote_cache(fetched_at);
`

// InitSchema creates the quote cache table in cache.db
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize quote cache schema: %w", err)
	}
	return nil
}
