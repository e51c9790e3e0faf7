package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

// OrderType is the trigger kind of an order.
type OrderType string

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// ProductType selects the execution branch: balance swap or margined position.
type ProductType string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"

	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"

	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"

	ProductTypeSpot      ProductType = "spot"
	ProductTypeLeveraged ProductType = "leveraged"
)

// Order represents a trading order. Terminal once filled or rejected.
type Order struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID        uuid.UUID        `gorm:"type:uuid;index" json:"account_id"`
	Symbol           string           `gorm:"index:idx_orders_symbol_status" json:"symbol"`
	Side             OrderSide        `json:"side"`
	Type             OrderType        `json:"type"`
	ProductType      ProductType      `json:"product_type"`
	Status           OrderStatus      `gorm:"index:idx_orders_symbol_status" json:"status"`
	Amount           decimal.Decimal  `gorm:"type:decimal(32,8)" json:"amount"` // requested size in base units
	LimitPrice       *decimal.Decimal `gorm:"type:decimal(32,8)" json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `gorm:"type:decimal(32,8)" json:"stop_price,omitempty"`
	Leverage         int              `json:"leverage"`
	FilledAmount     decimal.Decimal  `gorm:"type:decimal(32,8)" json:"filled_amount"`
	AverageFillPrice *decimal.Decimal `gorm:"type:decimal(32,8)" json:"average_fill_price,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusRejected
}

// ExecutionPrice returns the price a triggered order should fill at: the
// limit price for limit and stop-limit orders, otherwise the current market
// price.
func (o *Order) ExecutionPrice(current decimal.Decimal) decimal.Decimal {
	if (o.Type == OrderTypeLimit || o.Type == OrderTypeStopLimit) && o.LimitPrice != nil {
		return *o.LimitPrice
	}
	return current
}
