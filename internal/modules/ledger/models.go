package ledger

import (
	"time"

	"github.com/wrenholt/papertrader/internal/domain"
)

// HoldingView decorates a holding with the pricing fields the summary
// computes: the price used for valuation, the cost basis, and the unrealized
// gain against it.
type HoldingView struct {
	domain.Holding
	CurrentPrice          float64 `json:"current_price"`
	CostBasis             float64 `json:"cost_basis"`
	UnrealizedGain        float64 `json:"unrealized_gain"`
	UnrealizedGainPercent float64 `json:"unrealized_gain_percent"`
}

// Summary is the account statement: cash, priced holdings, and totals.
// StaleTickers lists holdings whose price lookup failed and whose market
// value was carried forward from the last successful pricing.
type Summary struct {
	Cash                float64       `json:"cash"`
	Holdings            []HoldingView `json:"holdings"`
	TotalMarketValue    float64       `json:"total_market_value"`
	TotalCostBasis      float64       `json:"total_cost_basis"`
	TotalUnrealizedGain float64       `json:"total_unrealized_gain"`
	TotalPortfolioValue float64       `json:"total_portfolio_value"`
	StaleTickers        []string      `json:"stale_tickers,omitempty"`
	GeneratedAt         time.Time     `json:"generated_at"`
}

// Valuation is the reconstructed account value at the end of a past date,
// rebuilt by replaying the transaction and cash-flow logs.
type Valuation struct {
	Date          string  `json:"date"`
	Cash          float64 `json:"cash"`
	HoldingsValue float64 `json:"holdings_value"`
	TotalValue    float64 `json:"total_value"`
	Invested      float64 `json:"invested"`
}
