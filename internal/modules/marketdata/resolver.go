package marketdata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/domain"
)

// Source is one quote provider in the fallback chain
type Source interface {
	Name() string
	Fetch(ctx context.Context, ticker string) (*domain.Quote, error)
}

// Resolver walks an ordered list of sources and returns the first quote it
// gets. The order is fixed at construction so a quote's source attribution
// is deterministic.
type Resolver struct {
	sources []Source
	log     zerolog.Logger
}

// NewResolver creates a resolver over the given sources, tried in order
func NewResolver(sources []Source, log zerolog.Logger) *Resolver {
	return &Resolver{
		sources: sources,
		log:     log.With().Str("component", "quote_resolver").Logger(),
	}
}

// SourceNames returns the configured chain order
func (r *Resolver) SourceNames() []string {
	names := make([]string, len(r.sources))
	for i, src := range r.sources {
		names[i] = src.Name()
	}
	return names
}

// Resolve fetches a quote, trying each source in order and short-circuiting
// on the first success. Individual source failures are logged and swallowed;
// only when every source fails does the caller see ErrQuoteUnavailable.
func (r *Resolver) Resolve(ctx context.Context, ticker string) (*domain.Quote, error) {
	symbol := domain.NormalizeTicker(ticker)

	for _, src := range r.sources {
		quote, err := src.Fetch(ctx, symbol)
		if err != nil {
			r.log.Debug().
				Err(err).
				Str("ticker", symbol).
				Str("source", src.Name()).
				Msg("Quote source failed, trying next")
			continue
		}

		quote.Source = src.Name()
		r.log.Debug().
			Str("ticker", symbol).
			Str("source", src.Name()).
			Float64("price", quote.CurrentPrice).
			Msg("Quote resolved")
		return quote, nil
	}

	r.log.Warn().
		Str("ticker", symbol).
		Int("sources_tried", len(r.sources)).
		Msg("All quote sources failed")

	return nil, fmt.Errorf("%w: all %d sources failed for %s", domain.ErrQuoteUnavailable, len(r.sources), symbol)
}
