package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// transactionColumns is the column list for the transactions table.
// Order must match the scan in scanTransaction.
const transactionColumns = `id, side, ticker, quantity, price, total, reason, stop_price, gain_loss, executed_at`

// TransactionRepository reads and appends rows of the transaction log.
// Appends happen inside the service's SQL transaction; reads go straight
// to the connection.
type TransactionRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(ledgerDB *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "transactions").Logger(),
	}
}

// InsertTx appends a transaction row within an open SQL transaction and
// fills in the generated ID.
func (r *TransactionRepository) InsertTx(tx *sql.Tx, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(side, ticker, quantity, price, total, reason, stop_price, gain_loss, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		string(txn.Side),
		txn.Ticker,
		txn.Quantity,
		txn.Price,
		txn.Total,
		nullString(txn.Reason),
		nullFloat64Ptr(txn.StopPrice),
		nullFloat64Ptr(txn.GainLoss),
		txn.ExecutedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction ID: %w", err)
	}
	txn.ID = id

	return nil
}

// History returns transactions most recent first
func (r *TransactionRepository) History(limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM transactions
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// ForTicker returns transactions for one ticker, most recent first
func (r *TransactionRepository) ForTicker(ticker string, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE ticker = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, domain.NormalizeTicker(ticker), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for ticker: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// AllThrough returns every transaction executed at or before the cutoff,
// oldest first, for historical replay.
func (r *TransactionRepository) AllThrough(cutoff time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE executed_at <= ?
		ORDER BY executed_at ASC, id ASC
	`

	rows, err := r.ledgerDB.Query(query, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions through cutoff: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// LatestStopPrice returns the stop price of the most recent BUY of a ticker
// that carried one. The transaction log is the sole source of truth here:
// the value is recomputed from the log on every call, never cached.
func (r *TransactionRepository) LatestStopPrice(ticker string) (float64, bool, error) {
	query := `
		SELECT stop_price FROM transactions
		WHERE ticker = ? AND side = 'BUY' AND stop_price IS NOT NULL
		ORDER BY executed_at DESC, id DESC
		LIMIT 1
	`

	var stopPrice float64
	err := r.ledgerDB.QueryRow(query, domain.NormalizeTicker(ticker)).Scan(&stopPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get stop price: %w", err)
	}

	return stopPrice, true, nil
}

// StopPrices returns the stop price in force for every currently held
// ticker, in one scan. A later stop-less buy does not clear an earlier stop.
func (r *TransactionRepository) StopPrices() (map[string]float64, error) {
	query := `
		SELECT t.ticker, t.stop_price
		FROM transactions t
		JOIN (
			SELECT ticker, MAX(id) AS latest_id
			FROM transactions
			WHERE side = 'BUY' AND stop_price IS NOT NULL
			GROUP BY ticker
		) latest ON t.id = latest.latest_id
		JOIN holdings h ON h.ticker = t.ticker
	`

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get stop prices: %w", err)
	}
	defer rows.Close()

	stops := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var stopPrice float64
		if err := rows.Scan(&ticker, &stopPrice); err != nil {
			return nil, fmt.Errorf("failed to scan stop price: %w", err)
		}
		stops[ticker] = stopPrice
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop prices: %w", err)
	}

	return stops, nil
}

// collectTransactions drains a result set into a slice
func (r *TransactionRepository) collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var txn domain.Transaction
	var side string
	var reason sql.NullString
	var stopPrice, gainLoss sql.NullFloat64
	var executedAt int64

	err := rows.Scan(
		&txn.ID,
		&side,
		&txn.Ticker,
		&txn.Quantity,
		&txn.Price,
		&txn.Total,
		&reason,
		&stopPrice,
		&gainLoss,
		&executedAt,
	)
	if err != nil {
		return txn, err
	}

	txn.Side = domain.TradeSide(side)
	txn.ExecutedAt = time.Unix(executedAt, 0).UTC()
	if reason.Valid {
		txn.Reason = reason.String
	}
	if stopPrice.Valid {
		txn.StopPrice = &stopPrice.Float64
	}
	if gainLoss.Valid {
		txn.GainLoss = &gainLoss.Float64
	}

	return txn, nil
}

// Helper functions shared by the ledger repositories

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
