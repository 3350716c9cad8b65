package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
)

// HoldingsLister supplies the tickers currently held. Implemented by the
// ledger service.
type HoldingsLister interface {
	HeldTickers(ctx context.Context) ([]string, error)
}

// Subscriber receives the held-ticker set so a streaming source can track
// it. Implemented by the Finnhub stream; nil when streaming is disabled.
type Subscriber interface {
	SetSymbols(tickers []string)
}

// Service is the cached quote lookup used by everything that needs a price.
// Reads hit the cache first; misses and forced refreshes go through the
// resolver chain and the result is written back.
type Service struct {
	repo     *Repository
	resolver *Resolver
	holdings HoldingsLister
	stream   Subscriber
	ttl      time.Duration
	events   *events.Manager
	log      zerolog.Logger
}

// NewService creates a new quote cache service
func NewService(repo *Repository, resolver *Resolver, holdings HoldingsLister, ttl time.Duration, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		holdings: holdings,
		ttl:      ttl,
		events:   eventManager,
		log:      log.With().Str("service", "marketdata").Logger(),
	}
}

// SetStream attaches a streaming source whose subscriptions should follow
// the held tickers
func (s *Service) SetStream(stream Subscriber) {
	s.stream = stream
}

// GetQuote returns a quote for the ticker. A cached row younger than the TTL
// is served as-is unless forceRefresh is set; otherwise the resolver chain
// runs and a success replaces the cached row. Resolution failure never
// disturbs the cache.
func (s *Service) GetQuote(ctx context.Context, ticker string, forceRefresh bool) (*domain.Quote, error) {
	if err := domain.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	symbol := domain.NormalizeTicker(ticker)

	if !forceRefresh {
		cached, err := s.repo.Get(symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", symbol).Msg("Quote cache read failed")
		} else if cached != nil && time.Since(cached.FetchedAt) < s.ttl {
			s.log.Debug().
				Str("ticker", symbol).
				Str("source", cached.Source).
				Time("fetched_at", cached.FetchedAt).
				Msg("Quote cache hit")
			return cached, nil
		}
	}

	quote, err := s.resolver.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(quote); err != nil {
		s.log.Warn().Err(err).Str("ticker", symbol).Msg("Failed to cache quote")
	}

	return quote, nil
}

// GetQuotes fetches quotes for several tickers. Tickers that cannot be
// resolved are left out of the result instead of failing the batch.
func (s *Service) GetQuotes(ctx context.Context, tickers []string, forceRefresh bool) map[string]*domain.Quote {
	quotes := make(map[string]*domain.Quote, len(tickers))
	for _, ticker := range tickers {
		quote, err := s.GetQuote(ctx, ticker, forceRefresh)
		if err != nil {
			s.log.Debug().Err(err).Str("ticker", ticker).Msg("Skipping unresolvable ticker")
			continue
		}
		quotes[quote.Symbol] = quote
	}
	return quotes
}

// RefreshHoldings force-refreshes every held ticker and points the streaming
// source (when attached) at the current holdings. Returns how many tickers
// refreshed and how many failed.
func (s *Service) RefreshHoldings(ctx context.Context) (refreshed, failed int, err error) {
	tickers, err := s.holdings.HeldTickers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list held tickers: %w", err)
	}

	if s.stream != nil {
		s.stream.SetSymbols(tickers)
	}

	for _, ticker := range tickers {
		if _, err := s.GetQuote(ctx, ticker, true); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to refresh quote")
			failed++
			continue
		}
		refreshed++
	}

	s.log.Info().
		Int("refreshed", refreshed).
		Int("failed", failed).
		Msg("Refreshed quotes for holdings")

	if s.events != nil {
		s.events.Emit(events.QuotesRefreshed, "marketdata", map[string]interface{}{
			"refreshed": refreshed,
			"failed":    failed,
		})
	}

	return refreshed, failed, nil
}

// PriceLookup returns a closure over GetQuote for callers that only need a
// price, like the portfolio summary.
func (s *Service) PriceLookup(ctx context.Context) domain.PriceLookup {
	return func(ticker string) (float64, error) {
		quote, err := s.GetQuote(ctx, ticker, false)
		if err != nil {
			return 0, err
		}
		return quote.CurrentPrice, nil
	}
}

// CachedCount reports how many quotes sit in the cache
func (s *Service) CachedCount() (int, error) {
	return s.repo.Count()
}

// PurgeExpired removes cache rows older than the TTL. Called by the cache
// maintenance job.
func (s *Service) PurgeExpired() (int64, error) {
	return s.repo.DeleteExpired(s.ttl)
}
