package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

const holdingColumns = `ticker, quantity, average_cost, market_value, stale, first_bought_at, last_updated`

// HoldingRepository manages the open positions table. Position mutations
// are tx-scoped because they always travel with a cash and transaction-log
// update; market value refreshes stand alone.
type HoldingRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(ledgerDB *sql.DB, log zerolog.Logger) *HoldingRepository {
	return &HoldingRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "holdings").Logger(),
	}
}

// GetAll returns all open holdings ordered by ticker
func (r *HoldingRepository) GetAll() ([]domain.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings ORDER BY ticker ASC`

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		holding, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, holding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return holdings, nil
}

// Get returns one holding, or nil when the ticker is not held
func (r *HoldingRepository) Get(ticker string) (*domain.Holding, error) {
	return r.get(r.ledgerDB.QueryRow, ticker)
}

// GetTx reads a holding within an open SQL transaction
func (r *HoldingRepository) GetTx(tx *sql.Tx, ticker string) (*domain.Holding, error) {
	return r.get(tx.QueryRow, ticker)
}

func (r *HoldingRepository) get(queryRow func(query string, args ...interface{}) *sql.Row, ticker string) (*domain.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE ticker = ?`

	row := queryRow(query, domain.NormalizeTicker(ticker))

	var holding domain.Holding
	var stale int
	var firstBoughtAt, lastUpdated int64

	err := row.Scan(
		&holding.Ticker,
		&holding.Quantity,
		&holding.AverageCost,
		&holding.MarketValue,
		&stale,
		&firstBoughtAt,
		&lastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}

	holding.Stale = stale != 0
	holding.FirstBoughtAt = time.Unix(firstBoughtAt, 0).UTC()
	holding.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	return &holding, nil
}

// Tickers returns the tickers of all open holdings
func (r *HoldingRepository) Tickers() ([]string, error) {
	rows, err := r.ledgerDB.Query(`SELECT ticker FROM holdings ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get held tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}

	return tickers, nil
}

// UpsertTx inserts or replaces a holding within an open SQL transaction
func (r *HoldingRepository) UpsertTx(tx *sql.Tx, holding *domain.Holding) error {
	query := `
		INSERT INTO holdings (ticker, quantity, average_cost, market_value, stale, first_bought_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			quantity = excluded.quantity,
			average_cost = excluded.average_cost,
			market_value = excluded.market_value,
			stale = excluded.stale,
			last_updated = excluded.last_updated
	`

	_, err := tx.Exec(query,
		holding.Ticker,
		holding.Quantity,
		holding.AverageCost,
		holding.MarketValue,
		boolToInt(holding.Stale),
		holding.FirstBoughtAt.Unix(),
		holding.LastUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}

	return nil
}

// DeleteTx removes a holding within an open SQL transaction
func (r *HoldingRepository) DeleteTx(tx *sql.Tx, ticker string) error {
	_, err := tx.Exec(`DELETE FROM holdings WHERE ticker = ?`, domain.NormalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// UpdateMarketValue persists the market value computed by a summary pass.
// A stale flag means the value was carried forward, not freshly priced.
func (r *HoldingRepository) UpdateMarketValue(ticker string, marketValue float64, stale bool) error {
	query := `
		UPDATE holdings
		SET market_value = ?, stale = ?, last_updated = ?
		WHERE ticker = ?
	`

	_, err := r.ledgerDB.Exec(query, marketValue, boolToInt(stale), time.Now().Unix(), domain.NormalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to update market value: %w", err)
	}

	return nil
}

func scanHolding(rows *sql.Rows) (domain.Holding, error) {
	var holding domain.Holding
	var stale int
	var firstBoughtAt, lastUpdated int64

	err := rows.Scan(
		&holding.Ticker,
		&holding.Quantity,
		&holding.AverageCost,
		&holding.MarketValue,
		&stale,
		&firstBoughtAt,
		&lastUpdated,
	)
	if err != nil {
		return holding, err
	}

	holding.Stale = stale != 0
	holding.FirstBoughtAt = time.Unix(firstBoughtAt, 0).UTC()
	holding.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	return holding, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
