package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"broker_go/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LiquidationService force-closes open positions whose liquidation price has
// been crossed. It runs on every price tick, so the scan is scoped to one
// symbol at a time.
type LiquidationService struct {
	db    *gorm.DB
	locks *AccountLocks
}

// NewLiquidationService creates a new liquidation service.
func NewLiquidationService(db *gorm.DB, locks *AccountLocks) *LiquidationService {
	return &LiquidationService{db: db, locks: locks}
}

// CheckLiquidations sweeps the open positions on a symbol against the latest
// price and liquidates every crossed one. A failure on one position is logged
// and does not stop the sweep. Returns the positions liquidated in this pass.
func (s *LiquidationService) CheckLiquidations(ctx context.Context, symbol string, price float64) ([]domain.Position, error) {
	current := decimal.NewFromFloat(price)
	if !current.IsPositive() {
		return nil, fmt.Errorf("liquidation check needs a positive price, got %s", current)
	}

	var positions []domain.Position
	if err := s.db.WithContext(ctx).
		Where("symbol = ? AND status = ?", symbol, domain.PositionStatusOpen).
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open positions: %w", err)
	}

	var liquidated []domain.Position
	for i := range positions {
		p := &positions[i]
		if !p.LiquidationCrossed(current) {
			continue
		}
		if err := s.liquidate(ctx, p); err != nil {
			slog.Error("Liquidation failed",
				slog.String("position_id", p.ID.String()),
				slog.String("symbol", symbol),
				slog.Any("error", err))
			continue
		}
		liquidated = append(liquidated, *p)
	}
	return liquidated, nil
}

// liquidate closes one position at its liquidation price. The tick only
// triggers the close; settlement is always at the liquidation price, so a
// gap through it does not charge the account more than the posted margin.
// Remaining margin after the loss is credited back; it never goes negative.
func (s *LiquidationService) liquidate(ctx context.Context, position *domain.Position) error {
	unlock := s.locks.Lock(position.AccountID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read under the lock: the position may have been closed between
		// the sweep query and here.
		var fresh domain.Position
		if err := tx.First(&fresh, "id = ?", position.ID).Error; err != nil {
			return fmt.Errorf("failed to fetch position: %w", err)
		}
		if fresh.Status != domain.PositionStatusOpen {
			return nil
		}

		var account domain.Account
		if err := tx.First(&account, "id = ?", fresh.AccountID).Error; err != nil {
			return fmt.Errorf("failed to fetch account: %w", err)
		}

		closePrice := fresh.LiquidationPrice
		pnl := fresh.UnrealizedPnL(closePrice)
		remaining := fresh.Margin.Add(pnl)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		if remaining.IsPositive() {
			if err := credit(tx, fresh.AccountID, account.Currency, remaining); err != nil {
				return err
			}
		}

		now := time.Now()
		fresh.Status = domain.PositionStatusLiquidated
		fresh.ClosePrice = &closePrice
		fresh.PnL = &pnl
		fresh.ClosedAt = &now
		if err := tx.Save(&fresh).Error; err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}

		slog.Warn("Position liquidated",
			slog.String("position_id", fresh.ID.String()),
			slog.String("symbol", fresh.Symbol),
			slog.String("side", string(fresh.Side)),
			slog.String("close_price", closePrice.String()),
			slog.String("pnl", pnl.String()),
			slog.String("returned", remaining.String()))

		*position = fresh
		return nil
	})
}
