package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broker_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// feeRate is the fixed trading fee applied to every fill (0.1%).
var feeRate = decimal.NewFromFloat(0.001)

// errRejected marks a business rejection inside the transaction closure so
// the whole unit of work rolls back. It never escapes Execute.
var errRejected = errors.New("execution rejected")

// ExecutionResult is the outcome of an execution attempt. Success=false with
// a message is a business rejection, not a system error: the caller decides
// whether to retry, requeue or surface it.
type ExecutionResult struct {
	Order    domain.Order     `json:"order"`
	Position *domain.Position `json:"position,omitempty"`
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
}

// ExecutionService executes orders as atomic state transitions over balances
// and positions. Mutations are serialized per account.
type ExecutionService struct {
	db    *gorm.DB
	locks *AccountLocks
}

// NewExecutionService creates a new execution service.
func NewExecutionService(db *gorm.DB, locks *AccountLocks) *ExecutionService {
	return &ExecutionService{db: db, locks: locks}
}

// Execute fills a pending order at the supplied execution price. The price is
// sourced by the caller; this engine does not consult the market itself.
// Everything happens inside one transaction: on any failure the account state
// is untouched.
func (s *ExecutionService) Execute(ctx context.Context, orderID uuid.UUID, executionPrice decimal.Decimal) (*ExecutionResult, error) {
	if !executionPrice.IsPositive() {
		return nil, fmt.Errorf("execution price must be positive, got %s", executionPrice)
	}

	// The owning account determines the serialization scope.
	var probe domain.Order
	if err := s.db.WithContext(ctx).Select("id", "account_id").First(&probe, "id = ?", orderID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}

	unlock := s.locks.Lock(probe.AccountID)
	defer unlock()

	var result *ExecutionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.execute(tx, orderID, executionPrice)
		if err != nil {
			return err
		}
		result = r
		if !r.Success {
			return errRejected
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRejected) {
		return nil, err
	}
	return result, nil
}

func (s *ExecutionService) execute(tx *gorm.DB, orderID uuid.UUID, price decimal.Decimal) (*ExecutionResult, error) {
	var order domain.Order
	if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}

	if order.Status != domain.OrderStatusPending {
		return &ExecutionResult{
			Order:   order,
			Success: false,
			Message: fmt.Sprintf("order is not pending (current status: %s)", order.Status),
		}, nil
	}

	var account domain.Account
	if err := tx.First(&account, "id = ?", order.AccountID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	var instrument domain.Instrument
	if err := tx.First(&instrument, "symbol = ?", order.Symbol).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch instrument: %w", err)
	}

	notional := order.Amount.Mul(price)
	fee := notional.Mul(feeRate)

	if order.ProductType == domain.ProductTypeSpot {
		return s.fillSpot(tx, &order, &instrument, price, notional, fee)
	}
	return s.openPosition(tx, &order, &account, &instrument, price, notional, fee)
}

// fillSpot swaps balances for a non-leveraged order: buy debits the quote
// currency (notional+fee) and credits the base asset; sell debits the base
// asset and credits the quote currency minus fee.
func (s *ExecutionService) fillSpot(
	tx *gorm.DB,
	order *domain.Order,
	instrument *domain.Instrument,
	price, notional, fee decimal.Decimal,
) (*ExecutionResult, error) {
	base := instrument.BaseCurrency()

	if order.Side == domain.OrderSideBuy {
		required := notional.Add(fee)
		funding, ok, err := fundingBalance(tx, order.AccountID, instrument.QuoteCurrency, required)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &ExecutionResult{
				Order:   *order,
				Success: false,
				Message: fmt.Sprintf("insufficient %s balance (required: %s, available: %s)", funding.Currency, required, funding.Amount),
			}, nil
		}
		if err := debit(tx, funding, required); err != nil {
			return nil, err
		}
		if err := credit(tx, order.AccountID, base, order.Amount); err != nil {
			return nil, err
		}
	} else {
		funding, ok, err := fundingBalance(tx, order.AccountID, base, order.Amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &ExecutionResult{
				Order:   *order,
				Success: false,
				Message: fmt.Sprintf("insufficient %s balance (required: %s, available: %s)", funding.Currency, order.Amount, funding.Amount),
			}, nil
		}
		if err := debit(tx, funding, order.Amount); err != nil {
			return nil, err
		}
		if err := credit(tx, order.AccountID, instrument.QuoteCurrency, notional.Sub(fee)); err != nil {
			return nil, err
		}
	}

	if err := fillOrder(tx, order, price); err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Order:   *order,
		Success: true,
		Message: fmt.Sprintf("order filled at %s (fee %s %s)", price, fee, instrument.QuoteCurrency),
	}, nil
}

// openPosition reserves margin and opens a leveraged position. Required
// margin is notional/leverage plus the fee; the liquidation price is fixed at
// open.
func (s *ExecutionService) openPosition(
	tx *gorm.DB,
	order *domain.Order,
	account *domain.Account,
	instrument *domain.Instrument,
	price, notional, fee decimal.Decimal,
) (*ExecutionResult, error) {
	if account.Type != domain.AccountTypeLeveraged {
		return &ExecutionResult{
			Order:   *order,
			Success: false,
			Message: "account is not enabled for leveraged trading",
		}, nil
	}

	leverage := order.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if leverage > instrument.MaxLeverage {
		return &ExecutionResult{
			Order:   *order,
			Success: false,
			Message: fmt.Sprintf("leverage %dx exceeds instrument maximum of %dx", leverage, instrument.MaxLeverage),
		}, nil
	}

	margin := notional.Div(decimal.NewFromInt(int64(leverage)))
	required := margin.Add(fee)

	funding, ok, err := fundingBalance(tx, order.AccountID, account.Currency, required)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ExecutionResult{
			Order:   *order,
			Success: false,
			Message: fmt.Sprintf("insufficient %s balance (required: %s, available: %s)", funding.Currency, required, funding.Amount),
		}, nil
	}
	if err := debit(tx, funding, required); err != nil {
		return nil, err
	}

	side := domain.PositionSideLong
	if order.Side == domain.OrderSideSell {
		side = domain.PositionSideShort
	}

	position := &domain.Position{
		ID:               uuid.New(),
		AccountID:        order.AccountID,
		OrderID:          order.ID,
		Symbol:           order.Symbol,
		Side:             side,
		Status:           domain.PositionStatusOpen,
		Size:             order.Amount,
		EntryPrice:       price,
		Margin:           margin,
		Commission:       fee,
		Leverage:         leverage,
		LiquidationPrice: domain.LiquidationPrice(side, price, leverage),
	}
	if err := tx.Create(position).Error; err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}

	if err := fillOrder(tx, order, price); err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Order:    *order,
		Position: position,
		Success:  true,
		Message:  fmt.Sprintf("%s position opened at %s (liquidation at %s)", side, price, position.LiquidationPrice),
	}, nil
}

// fillOrder marks the order filled at the given average price.
func fillOrder(tx *gorm.DB, order *domain.Order, price decimal.Decimal) error {
	order.Status = domain.OrderStatusFilled
	order.FilledAmount = order.Amount
	avg := price
	order.AverageFillPrice = &avg
	order.UpdatedAt = time.Now()
	if err := tx.Save(order).Error; err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// balanceRow loads one balance row, nil when the pair has never been funded.
func balanceRow(tx *gorm.DB, accountID uuid.UUID, currency string) (*domain.Balance, error) {
	var balance domain.Balance
	err := tx.First(&balance, "account_id = ? AND currency = ?", accountID, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check %s balance: %w", currency, err)
	}
	return &balance, nil
}

// fundingBalance picks the single balance that covers the requirement. The
// preferred currency is checked first; its 1:1 equivalent (USD<->USDT) only
// when the preferred balance is insufficient. The two are never summed. When
// neither suffices the larger balance is returned for the rejection message.
func fundingBalance(tx *gorm.DB, accountID uuid.UUID, preferred string, required decimal.Decimal) (*domain.Balance, bool, error) {
	preferredBal, err := balanceRow(tx, accountID, preferred)
	if err != nil {
		return nil, false, err
	}
	if preferredBal != nil && preferredBal.Amount.GreaterThanOrEqual(required) {
		return preferredBal, true, nil
	}

	if eq := domain.EquivalentCurrency(preferred); eq != preferred {
		eqBal, err := balanceRow(tx, accountID, eq)
		if err != nil {
			return nil, false, err
		}
		if eqBal != nil && eqBal.Amount.GreaterThanOrEqual(required) {
			return eqBal, true, nil
		}
		if eqBal != nil && (preferredBal == nil || eqBal.Amount.GreaterThan(preferredBal.Amount)) {
			return eqBal, false, nil
		}
	}

	if preferredBal == nil {
		preferredBal = &domain.Balance{AccountID: accountID, Currency: preferred}
	}
	return preferredBal, false, nil
}

// debit subtracts from a loaded balance row. The non-negative invariant is
// re-checked even though callers verify sufficiency first.
func debit(tx *gorm.DB, balance *domain.Balance, amount decimal.Decimal) error {
	next := balance.Amount.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("balance underflow: %s %s - %s", balance.Currency, balance.Amount, amount)
	}
	balance.Amount = next
	if err := tx.Save(balance).Error; err != nil {
		return fmt.Errorf("failed to debit %s: %w", balance.Currency, err)
	}
	return nil
}

// credit adds to a balance, creating the row lazily on first credit. An
// existing row in the 1:1 equivalent currency is preferred over creating a
// second near-identical balance.
func credit(tx *gorm.DB, accountID uuid.UUID, currency string, amount decimal.Decimal) error {
	balance, err := balanceRow(tx, accountID, currency)
	if err != nil {
		return err
	}
	if balance == nil {
		if eq := domain.EquivalentCurrency(currency); eq != currency {
			eqBal, err := balanceRow(tx, accountID, eq)
			if err != nil {
				return err
			}
			balance = eqBal
		}
	}

	if balance == nil {
		balance = &domain.Balance{
			ID:        uuid.New(),
			AccountID: accountID,
			Currency:  currency,
			Amount:    amount,
		}
		if err := tx.Create(balance).Error; err != nil {
			return fmt.Errorf("failed to credit %s: %w", currency, err)
		}
		return nil
	}

	balance.Amount = balance.Amount.Add(amount)
	if err := tx.Save(balance).Error; err != nil {
		return fmt.Errorf("failed to credit %s: %w", balance.Currency, err)
	}
	return nil
}

// ValidateOrderExecution checks whether a pending order should execute at the
// current price. It is read-only: market orders always trigger, limit orders
// trigger on a favorable cross, stop orders on an adverse cross, stop-limit
// orders need the stop condition first and then the limit condition.
func (s *ExecutionService) ValidateOrderExecution(ctx context.Context, orderID uuid.UUID, currentPrice decimal.Decimal) (bool, string, error) {
	var order domain.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return false, "", fmt.Errorf("failed to fetch order: %w", err)
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		return true, "market order", nil

	case domain.OrderTypeLimit:
		if order.LimitPrice == nil {
			return false, "limit price not set", nil
		}
		if order.Side == domain.OrderSideBuy && currentPrice.LessThanOrEqual(*order.LimitPrice) {
			return true, "buy limit triggered", nil
		}
		if order.Side == domain.OrderSideSell && currentPrice.GreaterThanOrEqual(*order.LimitPrice) {
			return true, "sell limit triggered", nil
		}
		return false, fmt.Sprintf("limit price not reached (current: %s, limit: %s)", currentPrice, order.LimitPrice), nil

	case domain.OrderTypeStop:
		if order.StopPrice == nil {
			return false, "stop price not set", nil
		}
		if order.Side == domain.OrderSideBuy && currentPrice.GreaterThanOrEqual(*order.StopPrice) {
			return true, "buy stop triggered", nil
		}
		if order.Side == domain.OrderSideSell && currentPrice.LessThanOrEqual(*order.StopPrice) {
			return true, "sell stop triggered", nil
		}
		return false, fmt.Sprintf("stop price not reached (current: %s, stop: %s)", currentPrice, order.StopPrice), nil

	case domain.OrderTypeStopLimit:
		if order.StopPrice == nil || order.LimitPrice == nil {
			return false, "stop price or limit price not set", nil
		}
		stopTriggered := false
		if order.Side == domain.OrderSideBuy && currentPrice.GreaterThanOrEqual(*order.StopPrice) {
			stopTriggered = true
		}
		if order.Side == domain.OrderSideSell && currentPrice.LessThanOrEqual(*order.StopPrice) {
			stopTriggered = true
		}
		if !stopTriggered {
			return false, "stop not triggered yet", nil
		}
		if order.Side == domain.OrderSideBuy && currentPrice.LessThanOrEqual(*order.LimitPrice) {
			return true, "stop-limit buy triggered", nil
		}
		if order.Side == domain.OrderSideSell && currentPrice.GreaterThanOrEqual(*order.LimitPrice) {
			return true, "stop-limit sell triggered", nil
		}
		return false, "stop triggered but limit not met", nil

	default:
		return false, fmt.Sprintf("unknown order type: %s", order.Type), nil
	}
}
