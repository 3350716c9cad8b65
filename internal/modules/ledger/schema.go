// Package ledger owns the paper-trading account state: the cash balance,
// open holdings, the append-only transaction log, and external cash flows.
// Everything lives in ledger.db under the durability-first pragma profile;
// every mutation is one SQL transaction guarded by the service mutex.
package ledger

import (
	"database/sql"
	"fmt"
)

// Schema holds the DDL for the ledger tables. Timestamps are Unix seconds.
// The transactions table is append-only: rows are never updated or deleted,
// and they are the sole source of truth for stop prices and historical
// valuation replay.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	side        TEXT NOT NULL CHECK(side IN ('BUY', 'SELL')),
	ticker      TEXT NOT NULL,
	quantity    REAL NOT NULL CHECK(quantity > 0),
	price       REAL NOT NULL CHECK(price > 0),
	total       REAL NOT NULL,
	reason      TEXT,
	stop_price  REAL,
	gain_loss   REAL,
	executed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_ticker ON transactions(ticker);
CREATE INDEX IF NOT EXISTS idx_transactions_executed_at ON transactions(executed_at);

CREATE TABLE IF NOT EXISTS holdings (
	ticker          TEXT PRIMARY KEY,
	quantity        REAL NOT NULL CHECK(quantity > 0),
	average_cost    REAL NOT NULL,
	market_value    REAL NOT NULL DEFAULT 0,
	stale           INTEGER NOT NULL DEFAULT 0,
	first_bought_at INTEGER NOT NULL,
	last_updated    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cash_account (
	id         INTEGER PRIMARY KEY CHECK(id = 1),
	balance    REAL NOT NULL CHECK(balance >= 0),
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cash_flows (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL CHECK(type IN ('DEPOSIT', 'WITHDRAWAL')),
	amount     REAL NOT NULL CHECK(amount > 0),
	note       TEXT,
	balance    REAL NOT NULL,
	created_at INTEGER NOT NULL
);
`

// InitSchema creates the ledger tables if they do not exist
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}
