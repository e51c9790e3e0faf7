package storage

import (
	"context"
	"os"
	"testing"

	"broker_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := "test.db"
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() {
		os.Remove(dbName)
	})

	return &Storage{db: db}
}

func TestCreateAndGetAccount(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	account := &domain.Account{
		ID:       uuid.New(),
		UserID:   "user-1",
		Currency: "USDT",
		Type:     domain.AccountTypeLeveraged,
	}

	if err := s.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	fetched, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched account is nil")
	}
	if fetched.Currency != "USDT" {
		t.Errorf("expected currency USDT, got %s", fetched.Currency)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	s := setupTestDB(t)

	fetched, err := s.GetAccount(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if fetched != nil {
		t.Error("expected nil for unknown account")
	}
}

func TestUpsertAndGetInstrument(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	inst := &domain.Instrument{
		Symbol:        "BTCUSDT",
		QuoteCurrency: "USDT",
		MaxLeverage:   50,
		Type:          "crypto",
	}

	if err := s.UpsertInstrument(ctx, inst); err != nil {
		t.Fatalf("UpsertInstrument failed: %v", err)
	}

	// Update
	inst.MaxLeverage = 100
	if err := s.UpsertInstrument(ctx, inst); err != nil {
		t.Fatalf("UpsertInstrument update failed: %v", err)
	}

	fetched, err := s.GetInstrument(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetInstrument failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched instrument is nil")
	}
	if fetched.MaxLeverage != 100 {
		t.Errorf("expected max leverage 100, got %d", fetched.MaxLeverage)
	}
}

func TestPendingOrders(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	accountID := uuid.New()

	pending := &domain.Order{
		ID:          uuid.New(),
		AccountID:   accountID,
		Symbol:      "BTCUSDT",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeMarket,
		ProductType: domain.ProductTypeSpot,
		Status:      domain.OrderStatusPending,
		Amount:      decimal.NewFromFloat(0.1),
		Leverage:    1,
	}
	filled := &domain.Order{
		ID:          uuid.New(),
		AccountID:   accountID,
		Symbol:      "BTCUSDT",
		Side:        domain.OrderSideSell,
		Type:        domain.OrderTypeMarket,
		ProductType: domain.ProductTypeSpot,
		Status:      domain.OrderStatusFilled,
		Amount:      decimal.NewFromFloat(0.2),
		Leverage:    1,
	}

	if err := s.CreateOrder(ctx, pending); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if err := s.CreateOrder(ctx, filled); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	orders, err := s.PendingOrders(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("PendingOrders failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 pending order, got %d", len(orders))
	}
	if orders[0].ID != pending.ID {
		t.Errorf("expected order %s, got %s", pending.ID, orders[0].ID)
	}
}

func TestOpenPositions(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	accountID := uuid.New()

	open := &domain.Position{
		ID:               uuid.New(),
		AccountID:        accountID,
		Symbol:           "BTCUSDT",
		Side:             domain.PositionSideLong,
		Status:           domain.PositionStatusOpen,
		Size:             decimal.NewFromFloat(0.1),
		EntryPrice:       decimal.NewFromInt(50000),
		Margin:           decimal.NewFromInt(500),
		Leverage:         10,
		LiquidationPrice: decimal.NewFromInt(45500),
	}
	closed := &domain.Position{
		ID:               uuid.New(),
		AccountID:        accountID,
		Symbol:           "BTCUSDT",
		Side:             domain.PositionSideShort,
		Status:           domain.PositionStatusClosed,
		Size:             decimal.NewFromFloat(0.1),
		EntryPrice:       decimal.NewFromInt(50000),
		Margin:           decimal.NewFromInt(500),
		Leverage:         10,
		LiquidationPrice: decimal.NewFromInt(54500),
	}

	if err := s.db.Create(open).Error; err != nil {
		t.Fatalf("create open position failed: %v", err)
	}
	if err := s.db.Create(closed).Error; err != nil {
		t.Fatalf("create closed position failed: %v", err)
	}

	positions, err := s.OpenPositions(ctx, accountID)
	if err != nil {
		t.Fatalf("OpenPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(positions))
	}
	if positions[0].Side != domain.PositionSideLong {
		t.Errorf("expected long side, got %s", positions[0].Side)
	}
}

func TestBalanceUniquePerAccountCurrency(t *testing.T) {
	s := setupTestDB(t)
	accountID := uuid.New()

	first := &domain.Balance{
		ID:        uuid.New(),
		AccountID: accountID,
		Currency:  "USDT",
		Amount:    decimal.NewFromInt(1000),
	}
	if err := s.db.Create(first).Error; err != nil {
		t.Fatalf("create balance failed: %v", err)
	}

	dup := &domain.Balance{
		ID:        uuid.New(),
		AccountID: accountID,
		Currency:  "USDT",
		Amount:    decimal.NewFromInt(2000),
	}
	if err := s.db.Create(dup).Error; err == nil {
		t.Error("expected unique constraint violation for duplicate (account, currency)")
	}
}
