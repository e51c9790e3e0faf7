package service

import (
	"context"
	"fmt"

	"broker_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// principalCurrencies are the balances counted into the account's total; the
// two are treated as 1:1 so they are simply summed.
var principalCurrencies = []string{"USD", "USDT"}

// MarginMetrics is a derived snapshot of account health. It is computed on
// demand and never persisted.
type MarginMetrics struct {
	TotalBalance  decimal.Decimal `json:"total_balance"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Equity        decimal.Decimal `json:"equity"`
	UsedMargin    decimal.Decimal `json:"used_margin"`
	FreeMargin    decimal.Decimal `json:"free_margin"`
	MarginLevel   decimal.Decimal `json:"margin_level"`
}

// MarginService computes margin metrics from stored balances, open positions
// and cached market prices.
type MarginService struct {
	db     *gorm.DB
	prices *PriceCache
}

// NewMarginService creates a new margin service.
func NewMarginService(db *gorm.DB, prices *PriceCache) *MarginService {
	return &MarginService{db: db, prices: prices}
}

// CalculateMargin derives the full margin picture for one account.
//
//	equity       = total balance + unrealized PnL
//	free margin  = equity - used margin
//	margin level = equity / used margin * 100 (0 when no margin is in use)
//
// Positions whose symbol has no usable price contribute zero PnL rather than
// failing the whole calculation.
func (s *MarginService) CalculateMargin(ctx context.Context, accountID uuid.UUID) (*MarginMetrics, error) {
	var account domain.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	var balances []domain.Balance
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND currency IN ?", accountID, principalCurrencies).
		Find(&balances).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch balances: %w", err)
	}

	totalBalance := decimal.Zero
	for _, b := range balances {
		totalBalance = totalBalance.Add(b.Amount)
	}

	var positions []domain.Position
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, domain.PositionStatusOpen).
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open positions: %w", err)
	}

	unrealizedPnL := decimal.Zero
	usedMargin := decimal.Zero
	for _, p := range positions {
		usedMargin = usedMargin.Add(p.Margin)
		price, ok := s.prices.Get(p.Symbol)
		if !ok {
			continue
		}
		unrealizedPnL = unrealizedPnL.Add(p.UnrealizedPnL(decimal.NewFromFloat(price)))
	}

	equity := totalBalance.Add(unrealizedPnL)
	freeMargin := equity.Sub(usedMargin)

	marginLevel := decimal.Zero
	if usedMargin.IsPositive() {
		marginLevel = equity.Div(usedMargin).Mul(decimal.NewFromInt(100))
	}

	return &MarginMetrics{
		TotalBalance:  totalBalance,
		UnrealizedPnL: unrealizedPnL,
		Equity:        equity,
		UsedMargin:    usedMargin,
		FreeMargin:    freeMargin,
		MarginLevel:   marginLevel,
	}, nil
}
