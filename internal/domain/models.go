// Package domain holds the types shared across papertrader modules.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TradeSide represents the trade direction (BUY or SELL)
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// IsValid checks if the trade side is valid
func (ts TradeSide) IsValid() bool {
	return ts == TradeSideBuy || ts == TradeSideSell
}

// IsBuy returns true if this is a BUY trade
func (ts TradeSide) IsBuy() bool {
	return ts == TradeSideBuy
}

// IsSell returns true if this is a SELL trade
func (ts TradeSide) IsSell() bool {
	return ts == TradeSideSell
}

// TradeSideFromString creates TradeSide from string (case-insensitive)
func TradeSideFromString(value string) (TradeSide, error) {
	if value == "" {
		return "", fmt.Errorf("invalid trade side: empty string")
	}

	switch strings.ToUpper(value) {
	case "BUY":
		return TradeSideBuy, nil
	case "SELL":
		return TradeSideSell, nil
	default:
		return "", fmt.Errorf("invalid trade side: %s", value)
	}
}

// Quote is a normalized price snapshot for a ticker, tagged with the
// provider that produced it and the time it was fetched.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	MarketCap     float64   `json:"market_cap"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Transaction is one append-only ledger entry. Buy rows may carry a stop
// price; Sell rows carry the realized gain/loss against the weighted-average
// cost at execution time. Rows are immutable once written: the transaction
// log is the sole source of truth for stop prices and historical valuation.
type Transaction struct {
	ID         int64     `json:"id"`
	Side       TradeSide `json:"side"`
	Ticker     string    `json:"ticker"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Total      float64   `json:"total"` // cost for buys, proceeds for sells
	Reason     string    `json:"reason,omitempty"`
	StopPrice  *float64  `json:"stop_price,omitempty"` // buys only
	GainLoss   *float64  `json:"gain_loss,omitempty"`  // sells only
	ExecutedAt time.Time `json:"executed_at"`
}

// Validate validates transaction data and normalizes the ticker
func (t *Transaction) Validate() error {
	if !t.Side.IsValid() {
		return fmt.Errorf("%w: side %q", ErrInvalidInput, t.Side)
	}
	if err := ValidateTicker(t.Ticker); err != nil {
		return err
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	t.Ticker = NormalizeTicker(t.Ticker)
	return nil
}

// Holding is an open position. MarketValue is the last value computed from a
// successful price lookup; Stale marks it as carried forward after a failed
// lookup rather than freshly priced.
type Holding struct {
	Ticker        string    `json:"ticker"`
	Quantity      float64   `json:"quantity"`
	AverageCost   float64   `json:"average_cost"`
	MarketValue   float64   `json:"market_value"`
	Stale         bool      `json:"stale"`
	FirstBoughtAt time.Time `json:"first_bought_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Receipt is the synchronous result of a committed buy or sell.
type Receipt struct {
	OrderID      string    `json:"order_id"`
	Side         TradeSide `json:"side"`
	Ticker       string    `json:"ticker"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Total        float64   `json:"total"`
	GainLoss     *float64  `json:"gain_loss,omitempty"`
	StopPrice    *float64  `json:"stop_price,omitempty"`
	StopAdjusted bool      `json:"stop_adjusted,omitempty"`
	CashBalance  float64   `json:"cash_balance"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// OrderSide is the requested action on a proposed order. Unlike TradeSide it
// includes TRIM, which sells half of the current position.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
	OrderSideTrim OrderSide = "TRIM"
)

// OrderSideFromString creates OrderSide from string (case-insensitive)
func OrderSideFromString(value string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "BUY":
		return OrderSideBuy, nil
	case "SELL":
		return OrderSideSell, nil
	case "TRIM":
		return OrderSideTrim, nil
	default:
		return "", fmt.Errorf("invalid order side: %s", value)
	}
}

// ProposedOrder is untrusted input from the external recommendation
// collaborator. It is consumed by the order sizer and execution service and
// never persisted as-is.
type ProposedOrder struct {
	Ticker    string    `json:"ticker"`
	Side      OrderSide `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"` // price hint; may be refreshed at execution
	StopPrice *float64  `json:"stop_price,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Validate checks the order fields and normalizes the ticker. Sell-side
// orders tolerate a zero price hint (the execution price comes from a quote).
func (o *ProposedOrder) Validate() error {
	if err := ValidateTicker(o.Ticker); err != nil {
		return err
	}
	if o.Side == "" {
		o.Side = OrderSideBuy
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell && o.Side != OrderSideTrim {
		return fmt.Errorf("%w: order side %q", ErrInvalidInput, o.Side)
	}
	if o.Side == OrderSideBuy && o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if o.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	if o.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if o.Side == OrderSideBuy && o.Price == 0 {
		return fmt.Errorf("%w: buy orders need a positive price", ErrInvalidInput)
	}
	o.Ticker = NormalizeTicker(o.Ticker)
	return nil
}

// CashFlowType distinguishes external cash movements from trade settlement.
type CashFlowType string

const (
	CashFlowDeposit    CashFlowType = "DEPOSIT"
	CashFlowWithdrawal CashFlowType = "WITHDRAWAL"
)

// CashFlow records a deposit into or withdrawal from the account.
type CashFlow struct {
	ID        int64        `json:"id"`
	Type      CashFlowType `json:"type"`
	Amount    float64      `json:"amount"`
	Note      string       `json:"note,omitempty"`
	Balance   float64      `json:"balance"` // balance after the movement
	CreatedAt time.Time    `json:"created_at"`
}

// PriceLookup resolves the current price for a ticker. Implementations come
// from the market data layer; consumers treat a returned error as "price not
// available right now" and degrade instead of failing.
type PriceLookup func(ticker string) (float64, error)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

// NormalizeTicker uppercases and trims a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ValidateTicker checks that a ticker matches the accepted symbol format
func ValidateTicker(ticker string) error {
	normalized := NormalizeTicker(ticker)
	if normalized == "" {
		return fmt.Errorf("%w: ticker cannot be empty", ErrInvalidInput)
	}
	if !tickerPattern.MatchString(normalized) {
		return fmt.Errorf("%w: ticker %q", ErrInvalidInput, ticker)
	}
	return nil
}
