package service

import (
	"errors"
	"path/filepath"
	"testing"

	"broker_go/internal/domain"
	"broker_go/internal/infra/storage"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, db *gorm.DB, accountType, currency string) *domain.Account {
	t.Helper()

	account := &domain.Account{
		ID:       uuid.New(),
		UserID:   "user-1",
		Currency: currency,
		Type:     accountType,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
	return account
}

func seedBalance(t *testing.T, db *gorm.DB, accountID uuid.UUID, currency, amount string) {
	t.Helper()

	balance := &domain.Balance{
		ID:        uuid.New(),
		AccountID: accountID,
		Currency:  currency,
		Amount:    dec(amount),
	}
	if err := db.Create(balance).Error; err != nil {
		t.Fatalf("Failed to seed %s balance: %v", currency, err)
	}
}

func seedInstrument(t *testing.T, db *gorm.DB, symbol, quote string, maxLeverage int) {
	t.Helper()

	inst := &domain.Instrument{
		Symbol:        symbol,
		QuoteCurrency: quote,
		MaxLeverage:   maxLeverage,
		Type:          "crypto",
	}
	if err := db.Create(inst).Error; err != nil {
		t.Fatalf("Failed to seed instrument: %v", err)
	}
}

func seedOrder(t *testing.T, db *gorm.DB, order *domain.Order) *domain.Order {
	t.Helper()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}

// balanceAmount reads a balance directly, zero when the row does not exist.
func balanceAmount(t *testing.T, db *gorm.DB, accountID uuid.UUID, currency string) decimal.Decimal {
	t.Helper()

	var balance domain.Balance
	err := db.First(&balance, "account_id = ? AND currency = ?", accountID, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero
	}
	if err != nil {
		t.Fatalf("Failed to read %s balance: %v", currency, err)
	}
	return balance.Amount
}

func assertDecimal(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()

	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", label, got, want)
	}
}
