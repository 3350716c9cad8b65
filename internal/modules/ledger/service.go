package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wrenholt/papertrader/internal/database"
	"github.com/wrenholt/papertrader/internal/domain"
	"github.com/wrenholt/papertrader/internal/events"
)

// stopPriceFraction is applied when a buy carries a stop at or above the
// execution price: the stop is corrected to 15% below the price paid.
const stopPriceFraction = 0.85

// Service orchestrates the account: every mutation (buy, sell, deposit,
// withdraw) takes the service mutex and runs as one SQL transaction, so a
// multi-step cash + log + holding update commits together or not at all.
// Reads do not take the mutex.
type Service struct {
	mu sync.Mutex

	ledgerDB     *sql.DB
	transactions *TransactionRepository
	holdings     *HoldingRepository
	cash         *CashRepository
	events       *events.Manager
	log          zerolog.Logger
}

// NewService creates a new ledger service
func NewService(ledgerDB *sql.DB, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		ledgerDB:     ledgerDB,
		transactions: NewTransactionRepository(ledgerDB, log),
		holdings:     NewHoldingRepository(ledgerDB, log),
		cash:         NewCashRepository(ledgerDB, log),
		events:       eventManager,
		log:          log.With().Str("service", "ledger").Logger(),
	}
}

// Seed creates the cash account with the initial balance on first run.
// Subsequent calls are no-ops.
func (s *Service) Seed(initialCash float64) error {
	return s.cash.EnsureSeeded(initialCash)
}

// Buy purchases quantity shares of ticker at price, debiting cash, appending
// a transaction, and recomputing the holding's weighted-average cost. A stop
// price at or above the execution price is corrected to 15% below it; the
// receipt reports the correction.
func (s *Service) Buy(ctx context.Context, ticker string, quantity, price float64, reason string, stopPrice *float64) (*domain.Receipt, error) {
	if err := domain.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}
	ticker = domain.NormalizeTicker(ticker)

	stopAdjusted := false
	if stopPrice != nil {
		if *stopPrice <= 0 {
			return nil, fmt.Errorf("%w: stop price must be positive", domain.ErrInvalidInput)
		}
		if *stopPrice >= price {
			corrected := price * stopPriceFraction
			s.log.Warn().
				Str("ticker", ticker).
				Float64("requested_stop", *stopPrice).
				Float64("price", price).
				Float64("corrected_stop", corrected).
				Msg("Stop price at or above execution price, corrected to 15% below")
			stopPrice = &corrected
			stopAdjusted = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var receipt *domain.Receipt
	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		balance, err := s.cash.BalanceTx(tx)
		if err != nil {
			return err
		}

		totalCost := quantity * price
		if totalCost > balance {
			return fmt.Errorf("%w: need %.2f, have %.2f", domain.ErrInsufficientFunds, totalCost, balance)
		}

		newBalance := balance - totalCost
		if err := s.cash.SetBalanceTx(tx, newBalance); err != nil {
			return err
		}

		now := time.Now().UTC()
		txn := &domain.Transaction{
			Side:       domain.TradeSideBuy,
			Ticker:     ticker,
			Quantity:   quantity,
			Price:      price,
			Total:      totalCost,
			Reason:     reason,
			StopPrice:  stopPrice,
			ExecutedAt: now,
		}
		if err := s.transactions.InsertTx(tx, txn); err != nil {
			return err
		}

		holding, err := s.holdings.GetTx(tx, ticker)
		if err != nil {
			return err
		}
		if holding == nil {
			holding = &domain.Holding{
				Ticker:        ticker,
				Quantity:      quantity,
				AverageCost:   price,
				MarketValue:   totalCost,
				FirstBoughtAt: now,
				LastUpdated:   now,
			}
		} else {
			newQuantity := holding.Quantity + quantity
			holding.AverageCost = (holding.Quantity*holding.AverageCost + quantity*price) / newQuantity
			holding.Quantity = newQuantity
			holding.MarketValue = newQuantity * price
			holding.Stale = false
			holding.LastUpdated = now
		}
		if err := s.holdings.UpsertTx(tx, holding); err != nil {
			return err
		}

		receipt = &domain.Receipt{
			OrderID:      uuid.NewString(),
			Side:         domain.TradeSideBuy,
			Ticker:       ticker,
			Quantity:     quantity,
			Price:        price,
			Total:        totalCost,
			StopPrice:    stopPrice,
			StopAdjusted: stopAdjusted,
			CashBalance:  newBalance,
			ExecutedAt:   now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ticker", ticker).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("cash_balance", receipt.CashBalance).
		Msg("Buy executed")

	s.events.Emit(events.TradeExecuted, "ledger", map[string]interface{}{
		"order_id": receipt.OrderID,
		"side":     string(domain.TradeSideBuy),
		"ticker":   ticker,
		"quantity": quantity,
		"price":    price,
		"total":    receipt.Total,
	})

	return receipt, nil
}

// Sell disposes of quantity shares of ticker at price, crediting cash and
// recording the realized gain/loss against the weighted-average cost. The
// holding is removed when nothing remains; a later buy starts a fresh basis.
func (s *Service) Sell(ctx context.Context, ticker string, quantity, price float64, reason string) (*domain.Receipt, error) {
	if err := domain.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}
	ticker = domain.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	var receipt *domain.Receipt
	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		holding, err := s.holdings.GetTx(tx, ticker)
		if err != nil {
			return err
		}
		if holding == nil {
			return fmt.Errorf("%w: %s", domain.ErrNoSuchHolding, ticker)
		}
		if quantity > holding.Quantity {
			return fmt.Errorf("%w: asked %g, have %g of %s",
				domain.ErrInsufficientShares, quantity, holding.Quantity, ticker)
		}

		balance, err := s.cash.BalanceTx(tx)
		if err != nil {
			return err
		}

		proceeds := quantity * price
		gainLoss := proceeds - quantity*holding.AverageCost
		newBalance := balance + proceeds
		if err := s.cash.SetBalanceTx(tx, newBalance); err != nil {
			return err
		}

		now := time.Now().UTC()
		txn := &domain.Transaction{
			Side:       domain.TradeSideSell,
			Ticker:     ticker,
			Quantity:   quantity,
			Price:      price,
			Total:      proceeds,
			Reason:     reason,
			GainLoss:   &gainLoss,
			ExecutedAt: now,
		}
		if err := s.transactions.InsertTx(tx, txn); err != nil {
			return err
		}

		remaining := holding.Quantity - quantity
		if remaining <= 1e-9 { // float dust from fractional sells counts as zero
			if err := s.holdings.DeleteTx(tx, ticker); err != nil {
				return err
			}
		} else {
			holding.Quantity = remaining
			holding.MarketValue = remaining * price
			holding.Stale = false
			holding.LastUpdated = now
			if err := s.holdings.UpsertTx(tx, holding); err != nil {
				return err
			}
		}

		receipt = &domain.Receipt{
			OrderID:     uuid.NewString(),
			Side:        domain.TradeSideSell,
			Ticker:      ticker,
			Quantity:    quantity,
			Price:       price,
			Total:       proceeds,
			GainLoss:    &gainLoss,
			CashBalance: newBalance,
			ExecutedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ticker", ticker).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("gain_loss", *receipt.GainLoss).
		Float64("cash_balance", receipt.CashBalance).
		Msg("Sell executed")

	s.events.Emit(events.TradeExecuted, "ledger", map[string]interface{}{
		"order_id":  receipt.OrderID,
		"side":      string(domain.TradeSideSell),
		"ticker":    ticker,
		"quantity":  quantity,
		"price":     price,
		"total":     receipt.Total,
		"gain_loss": *receipt.GainLoss,
	})

	return receipt, nil
}

// Summary prices every holding through the lookup and returns the account
// statement. A failed lookup never aborts the summary: the holding keeps its
// last known market value and is reported stale.
func (s *Service) Summary(ctx context.Context, lookup domain.PriceLookup) (*Summary, error) {
	cash, err := s.cash.Balance()
	if err != nil {
		return nil, err
	}

	holdings, err := s.holdings.GetAll()
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Cash:        cash,
		Holdings:    make([]HoldingView, 0, len(holdings)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, holding := range holdings {
		currentPrice := 0.0
		if holding.Quantity > 0 {
			currentPrice = holding.MarketValue / holding.Quantity
		}

		if lookup != nil {
			price, lookupErr := lookup(holding.Ticker)
			if lookupErr == nil && price > 0 {
				currentPrice = price
				holding.MarketValue = holding.Quantity * price
				holding.Stale = false
			} else {
				holding.Stale = true
				summary.StaleTickers = append(summary.StaleTickers, holding.Ticker)
				if lookupErr != nil {
					s.log.Warn().Err(lookupErr).Str("ticker", holding.Ticker).
						Msg("Price lookup failed, carrying last known market value")
				}
			}
		} else {
			holding.Stale = true
			summary.StaleTickers = append(summary.StaleTickers, holding.Ticker)
		}

		if err := s.holdings.UpdateMarketValue(holding.Ticker, holding.MarketValue, holding.Stale); err != nil {
			s.log.Warn().Err(err).Str("ticker", holding.Ticker).Msg("Failed to persist market value")
		}

		costBasis := holding.Quantity * holding.AverageCost
		unrealized := holding.MarketValue - costBasis
		unrealizedPct := 0.0
		if costBasis > 0 {
			unrealizedPct = (unrealized / costBasis) * 100
		}

		summary.Holdings = append(summary.Holdings, HoldingView{
			Holding:               holding,
			CurrentPrice:          currentPrice,
			CostBasis:             costBasis,
			UnrealizedGain:        unrealized,
			UnrealizedGainPercent: unrealizedPct,
		})

		summary.TotalMarketValue += holding.MarketValue
		summary.TotalCostBasis += costBasis
		summary.TotalUnrealizedGain += unrealized
	}

	summary.TotalPortfolioValue = summary.Cash + summary.TotalMarketValue

	return summary, nil
}

// StopLossFor returns the stop price in force for a ticker, recomputed from
// the transaction log.
func (s *Service) StopLossFor(ctx context.Context, ticker string) (float64, bool, error) {
	return s.transactions.LatestStopPrice(ticker)
}

// StopLosses returns the stop price in force for every held ticker
func (s *Service) StopLosses(ctx context.Context) (map[string]float64, error) {
	return s.transactions.StopPrices()
}

// Transactions returns the most recent ledger entries
func (s *Service) Transactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.transactions.History(limit)
}

// TransactionsForTicker returns the most recent ledger entries for one ticker
func (s *Service) TransactionsForTicker(ctx context.Context, ticker string, limit int) ([]domain.Transaction, error) {
	if err := domain.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.transactions.ForTicker(ticker, limit)
}

// Holdings returns all open positions
func (s *Service) Holdings(ctx context.Context) ([]domain.Holding, error) {
	return s.holdings.GetAll()
}

// Holding returns one position, or nil when the ticker is not held
func (s *Service) Holding(ctx context.Context, ticker string) (*domain.Holding, error) {
	return s.holdings.Get(domain.NormalizeTicker(ticker))
}

// HeldTickers returns the tickers of all open positions
func (s *Service) HeldTickers(ctx context.Context) ([]string, error) {
	return s.holdings.Tickers()
}

// CashBalance returns the current cash balance
func (s *Service) CashBalance(ctx context.Context) (float64, error) {
	return s.cash.Balance()
}

// CashFlows returns the most recent external cash movements
func (s *Service) CashFlows(ctx context.Context, limit int) ([]domain.CashFlow, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.cash.Flows(limit)
}

// Deposit adds external cash to the account and records the movement
func (s *Service) Deposit(ctx context.Context, amount float64, note string) (*domain.CashFlow, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var flow *domain.CashFlow
	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		balance, err := s.cash.BalanceTx(tx)
		if err != nil {
			return err
		}

		newBalance := balance + amount
		if err := s.cash.SetBalanceTx(tx, newBalance); err != nil {
			return err
		}

		flow = &domain.CashFlow{
			Type:    domain.CashFlowDeposit,
			Amount:  amount,
			Note:    note,
			Balance: newBalance,
		}
		return s.cash.InsertFlowTx(tx, flow)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Float64("amount", amount).Float64("balance", flow.Balance).Msg("Deposit recorded")
	s.events.Emit(events.CashFlowRecorded, "ledger", map[string]interface{}{
		"type":    string(flow.Type),
		"amount":  amount,
		"balance": flow.Balance,
	})

	return flow, nil
}

// Withdraw removes external cash from the account and records the movement
func (s *Service) Withdraw(ctx context.Context, amount float64, note string) (*domain.CashFlow, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var flow *domain.CashFlow
	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		balance, err := s.cash.BalanceTx(tx)
		if err != nil {
			return err
		}
		if amount > balance {
			return fmt.Errorf("%w: asked %.2f, have %.2f", domain.ErrInsufficientFunds, amount, balance)
		}

		newBalance := balance - amount
		if err := s.cash.SetBalanceTx(tx, newBalance); err != nil {
			return err
		}

		flow = &domain.CashFlow{
			Type:    domain.CashFlowWithdrawal,
			Amount:  amount,
			Note:    note,
			Balance: newBalance,
		}
		return s.cash.InsertFlowTx(tx, flow)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Float64("amount", amount).Float64("balance", flow.Balance).Msg("Withdrawal recorded")
	s.events.Emit(events.CashFlowRecorded, "ledger", map[string]interface{}{
		"type":    string(flow.Type),
		"amount":  amount,
		"balance": flow.Balance,
	})

	return flow, nil
}

// ValueOn reconstructs the account value at the end of a past date by
// replaying the transaction and cash-flow logs: rebuilt holdings are priced
// through the lookup (failed lookups are skipped) and added to the
// reconstructed cash balance.
func (s *Service) ValueOn(ctx context.Context, date time.Time, lookup domain.PriceLookup) (*Valuation, error) {
	cutoff := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC)

	transactions, err := s.transactions.AllThrough(cutoff)
	if err != nil {
		return nil, err
	}
	flows, err := s.cash.FlowsThrough(cutoff)
	if err != nil {
		return nil, err
	}

	cash := 0.0
	for _, flow := range flows {
		switch flow.Type {
		case domain.CashFlowDeposit:
			cash += flow.Amount
		case domain.CashFlowWithdrawal:
			cash -= flow.Amount
		}
	}

	type position struct {
		quantity  float64
		totalCost float64
	}
	positions := make(map[string]*position)

	for _, txn := range transactions {
		pos := positions[txn.Ticker]
		if pos == nil {
			pos = &position{}
			positions[txn.Ticker] = pos
		}

		switch txn.Side {
		case domain.TradeSideBuy:
			cash -= txn.Total
			pos.quantity += txn.Quantity
			pos.totalCost += txn.Total
		case domain.TradeSideSell:
			cash += txn.Total
			if pos.quantity > 0 {
				averageCost := pos.totalCost / pos.quantity
				pos.totalCost -= txn.Quantity * averageCost
			}
			pos.quantity -= txn.Quantity
		}
	}

	valuation := &Valuation{
		Date: cutoff.Format("2006-01-02"),
		Cash: cash,
	}

	for ticker, pos := range positions {
		if pos.quantity <= 1e-9 {
			continue
		}
		valuation.Invested += pos.totalCost

		if lookup == nil {
			continue
		}
		price, lookupErr := lookup(ticker)
		if lookupErr != nil || price <= 0 {
			s.log.Debug().Str("ticker", ticker).Msg("No price for historical valuation, skipping")
			continue
		}
		valuation.HoldingsValue += pos.quantity * price
	}

	valuation.TotalValue = valuation.Cash + valuation.HoldingsValue

	return valuation, nil
}
