package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// CashRepository manages the single-row cash account and the cash flow
// log. The account balance is mutated only inside the service's SQL
// transactions; cash flows are the audit trail of external movements.
type CashRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewCashRepository creates a new cash repository
func NewCashRepository(ledgerDB *sql.DB, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "cash").Logger(),
	}
}

// EnsureSeeded creates the cash account row with the initial balance on
// first run. The seed is also recorded as a deposit so the cash flow log
// reconstructs the balance from zero.
func (r *CashRepository) EnsureSeeded(initialCash float64) error {
	if initialCash < 0 {
		return fmt.Errorf("%w: initial cash must not be negative", domain.ErrInvalidInput)
	}

	now := time.Now().Unix()

	result, err := r.ledgerDB.Exec(`
		INSERT INTO cash_account (id, balance, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, initialCash, now)
	if err != nil {
		return fmt.Errorf("failed to seed cash account: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cash account seed: %w", err)
	}

	if inserted > 0 && initialCash > 0 {
		_, err = r.ledgerDB.Exec(`
			INSERT INTO cash_flows (type, amount, note, balance, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(domain.CashFlowDeposit), initialCash, "initial balance", initialCash, now)
		if err != nil {
			return fmt.Errorf("failed to record seed deposit: %w", err)
		}

		r.log.Info().Float64("initial_cash", initialCash).Msg("Cash account seeded")
	}

	return nil
}

// Balance returns the current cash balance
func (r *CashRepository) Balance() (float64, error) {
	var balance float64
	err := r.ledgerDB.QueryRow(`SELECT balance FROM cash_account WHERE id = 1`).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cash balance: %w", err)
	}

	return balance, nil
}

// BalanceTx reads the balance within an open SQL transaction
func (r *CashRepository) BalanceTx(tx *sql.Tx) (float64, error) {
	var balance float64
	err := tx.QueryRow(`SELECT balance FROM cash_account WHERE id = 1`).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cash balance: %w", err)
	}

	return balance, nil
}

// SetBalanceTx writes the balance within an open SQL transaction
func (r *CashRepository) SetBalanceTx(tx *sql.Tx, balance float64) error {
	_, err := tx.Exec(`UPDATE cash_account SET balance = ?, updated_at = ? WHERE id = 1`,
		balance, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set cash balance: %w", err)
	}
	return nil
}

// InsertFlowTx appends a cash flow row within an open SQL transaction and
// fills in the generated ID and timestamp.
func (r *CashRepository) InsertFlowTx(tx *sql.Tx, flow *domain.CashFlow) error {
	now := time.Now()

	result, err := tx.Exec(`
		INSERT INTO cash_flows (type, amount, note, balance, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(flow.Type), flow.Amount, nullString(flow.Note), flow.Balance, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert cash flow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get cash flow ID: %w", err)
	}

	flow.ID = id
	flow.CreatedAt = time.Unix(now.Unix(), 0).UTC()

	return nil
}

// Flows returns cash flows most recent first
func (r *CashRepository) Flows(limit int) ([]domain.CashFlow, error) {
	query := `
		SELECT id, type, amount, note, balance, created_at FROM cash_flows
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get cash flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.CashFlow
	for rows.Next() {
		var flow domain.CashFlow
		var flowType string
		var note sql.NullString
		var createdAt int64

		if err := rows.Scan(&flow.ID, &flowType, &flow.Amount, &note, &flow.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}

		flow.Type = domain.CashFlowType(flowType)
		flow.CreatedAt = time.Unix(createdAt, 0).UTC()
		if note.Valid {
			flow.Note = note.String
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}

	return flows, nil
}

// FlowsThrough returns every cash flow created at or before the cutoff,
// oldest first, for historical replay.
func (r *CashRepository) FlowsThrough(cutoff time.Time) ([]domain.CashFlow, error) {
	query := `
		SELECT id, type, amount, note, balance, created_at FROM cash_flows
		WHERE created_at <= ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.ledgerDB.Query(query, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get cash flows through cutoff: %w", err)
	}
	defer rows.Close()

	var flows []domain.CashFlow
	for rows.Next() {
		var flow domain.CashFlow
		var flowType string
		var note sql.NullString
		var createdAt int64

		if err := rows.Scan(&flow.ID, &flowType, &flow.Amount, &note, &flow.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}

		flow.Type = domain.CashFlowType(flowType)
		flow.CreatedAt = time.Unix(createdAt, 0).UTC()
		if note.Valid {
			flow.Note = note.String
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}

	return flows, nil
}
