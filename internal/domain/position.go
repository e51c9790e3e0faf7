package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a leveraged position.
type PositionSide string

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"

	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// liquidationRatio encodes the policy that a position is liquidated once 90%
// of its posted margin would be consumed by adverse price movement.
var liquidationRatio = decimal.NewFromFloat(0.9)

// Position is an open leveraged exposure backed by reserved margin.
// The liquidation price is fixed at open and never moves.
type Position struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID        uuid.UUID        `gorm:"type:uuid;index" json:"account_id"`
	OrderID          uuid.UUID        `gorm:"type:uuid;index" json:"order_id"`
	Symbol           string           `gorm:"index:idx_positions_symbol_status" json:"symbol"`
	Side             PositionSide     `json:"side"`
	Status           PositionStatus   `gorm:"index:idx_positions_symbol_status" json:"status"`
	Size             decimal.Decimal  `gorm:"type:decimal(32,8)" json:"size"`
	EntryPrice       decimal.Decimal  `gorm:"type:decimal(32,8)" json:"entry_price"`
	Margin           decimal.Decimal  `gorm:"type:decimal(32,8)" json:"margin"` // collateral reserved, excluding commission
	Commission       decimal.Decimal  `gorm:"type:decimal(32,8)" json:"commission"`
	Leverage         int              `json:"leverage"`
	LiquidationPrice decimal.Decimal  `gorm:"type:decimal(32,8)" json:"liquidation_price"`
	TakeProfit       *decimal.Decimal `gorm:"type:decimal(32,8)" json:"take_profit,omitempty"`
	StopLoss         *decimal.Decimal `gorm:"type:decimal(32,8)" json:"stop_loss,omitempty"`
	ClosePrice       *decimal.Decimal `gorm:"type:decimal(32,8)" json:"close_price,omitempty"`
	PnL              *decimal.Decimal `gorm:"type:decimal(32,8)" json:"pnl,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// LiquidationPrice computes the price at which a position opened at entry
// with the given leverage is forcibly closed:
//
//	long:  entry * (1 - 0.9/leverage)
//	short: entry * (1 + 0.9/leverage)
//
// Higher leverage pulls the liquidation price toward the entry price.
func LiquidationPrice(side PositionSide, entry decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	ratio := liquidationRatio.Div(decimal.NewFromInt(int64(leverage)))
	if side == PositionSideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(ratio))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(ratio))
}

// UnrealizedPnL returns the mark-to-market profit or loss at the given price.
func (p *Position) UnrealizedPnL(current decimal.Decimal) decimal.Decimal {
	if p.Side == PositionSideLong {
		return current.Sub(p.EntryPrice).Mul(p.Size)
	}
	return p.EntryPrice.Sub(current).Mul(p.Size)
}

// LiquidationCrossed reports whether the given price has reached the
// position's liquidation price on the adverse side.
func (p *Position) LiquidationCrossed(current decimal.Decimal) bool {
	if p.Side == PositionSideLong {
		return current.LessThanOrEqual(p.LiquidationPrice)
	}
	return current.GreaterThanOrEqual(p.LiquidationPrice)
}
