package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account classification. Spot accounts may not hold leveraged positions.
const (
	AccountTypeSpot      = "spot"
	AccountTypeLeveraged = "leveraged"
)

// Account represents a trading account owned by a user.
// The account currency denominates margin requirements for leveraged products.
type Account struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	Currency  string    `json:"currency"` // e.g. "USDT"
	Type      string    `json:"type"`     // "spot" or "leveraged"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance holds the amount of a single currency within an account.
// Unique per (account, currency); created lazily on first credit.
// Invariant: Amount is never negative after a committed execution.
type Balance struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_balances_account_currency" json:"account_id"`
	Currency  string          `gorm:"uniqueIndex:idx_balances_account_currency" json:"currency"`
	Amount    decimal.Decimal `gorm:"type:decimal(32,8)" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Instrument is the tradable-product metadata the execution engine consumes:
// the quote currency (to derive the base asset from the symbol) and the
// leverage cap.
type Instrument struct {
	Symbol        string    `gorm:"primaryKey" json:"symbol"` // e.g. "BTCUSDT"
	QuoteCurrency string    `json:"quote_currency"`           // e.g. "USDT"
	MaxLeverage   int       `json:"max_leverage"`
	Type          string    `json:"type"` // "crypto", "forex", "commodity"
	UpdatedAt     time.Time `json:"updated_at"`
}

// BaseCurrency derives the base asset from the symbol minus the quote
// currency ("BTCUSDT" -> "BTC").
func (i *Instrument) BaseCurrency() string {
	if len(i.Symbol) > len(i.QuoteCurrency) {
		return i.Symbol[:len(i.Symbol)-len(i.QuoteCurrency)]
	}
	return i.Symbol
}
