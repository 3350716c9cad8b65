package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

const quoteColumns = "ticker, price, previous_close, change, change_percent, volume, market_cap, source_name, fetched_at"

// Repository stores cached quotes in cache.db
type Repository struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new quote cache repository
func NewRepository(cacheDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "quote_cache").Logger(),
	}
}

// Get returns the cached quote for a ticker, or nil when none is stored.
// Expiry is the caller's concern; rows are returned regardless of age.
func (r *Repository) Get(ticker string) (*domain.Quote, error) {
	query := fmt.Sprintf("SELECT %s FROM quote_cache WHERE ticker = ?", quoteColumns)

	quote, err := r.scanQuote(r.cacheDB.QueryRow(query, domain.NormalizeTicker(ticker)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached quote: %w", err)
	}
	return quote, nil
}

// Upsert stores a quote, replacing any previous row for the ticker
func (r *Repository) Upsert(quote *domain.Quote) error {
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO quote_cache (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteColumns)

	_, err := r.cacheDB.Exec(query,
		quote.Symbol,
		quote.CurrentPrice,
		quote.PreviousClose,
		quote.Change,
		quote.ChangePercent,
		quote.Volume,
		quote.MarketCap,
		quote.Source,
		quote.FetchedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached quote: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose fetched_at is older than the TTL.
// Returns the number of rows removed.
func (r *Repository) DeleteExpired(ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl).Unix()

	result, err := r.cacheDB.Exec("DELETE FROM quote_cache WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired quotes: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted quotes: %w", err)
	}
	return removed, nil
}

// Count returns the number of cached quotes
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.cacheDB.QueryRow("SELECT COUNT(*) FROM quote_cache").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cached quotes: %w", err)
	}
	return count, nil
}

func (r *Repository) scanQuote(row *sql.Row) (*domain.Quote, error) {
	var quote domain.Quote
	var fetchedAt int64

	err := row.Scan(
		&quote.Symbol,
		&quote.CurrentPrice,
		&quote.PreviousClose,
		&quote.Change,
		&quote.ChangePercent,
		&quote.Volume,
		&quote.MarketCap,
		&quote.Source,
		&fetchedAt,
	)
	if err != nil {
		return nil, err
	}

	quote.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	return &quote, nil
}
