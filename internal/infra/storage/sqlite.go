package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"broker_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage wraps the SQLite database used for accounts, balances, orders,
// positions and instrument metadata.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at the given path and migrates
// the brokerage schema.
func NewStorage(path string) (*Storage, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure-Go SQLite driver
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection turns concurrent
	// transactions into a queue instead of SQLITE_BUSY errors.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Migrate applies the schema for all brokerage entities.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&domain.Balance{},
		&domain.Order{},
		&domain.Position{},
		&domain.Instrument{},
	)
}

// DB exposes the underlying handle for transactional services.
func (s *Storage) DB() *gorm.DB {
	return s.db
}

// ======================================================================================
// Account Operations
// ======================================================================================

// CreateAccount persists a new account.
func (s *Storage) CreateAccount(ctx context.Context, account *domain.Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

// GetAccount retrieves an account by ID. Returns nil when not found.
func (s *Storage) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &account, err
}

// GetBalance retrieves a single balance row. Returns nil when the account has
// never been credited in that currency.
func (s *Storage) GetBalance(ctx context.Context, accountID uuid.UUID, currency string) (*domain.Balance, error) {
	var balance domain.Balance
	err := s.db.WithContext(ctx).
		First(&balance, "account_id = ? AND currency = ?", accountID, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &balance, err
}

// ======================================================================================
// Order and Position Operations
// ======================================================================================

// CreateOrder persists a new order.
func (s *Storage) CreateOrder(ctx context.Context, order *domain.Order) error {
	return s.db.WithContext(ctx).Create(order).Error
}

// GetOrder retrieves an order by ID. Returns nil when not found.
func (s *Storage) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &order, err
}

// PendingOrders returns all pending orders for a symbol. Used by the tick
// watcher to evaluate price triggers.
func (s *Storage) PendingOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status = ?", symbol, domain.OrderStatusPending).
		Find(&orders).Error
	return orders, err
}

// OpenPositions returns all open positions for an account.
func (s *Storage) OpenPositions(ctx context.Context, accountID uuid.UUID) ([]domain.Position, error) {
	var positions []domain.Position
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, domain.PositionStatusOpen).
		Find(&positions).Error
	return positions, err
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// UpsertInstrument creates or updates instrument metadata.
func (s *Storage) UpsertInstrument(ctx context.Context, inst *domain.Instrument) error {
	inst.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(inst).Error
}

// GetInstrument retrieves instrument metadata by symbol. Returns nil when not found.
func (s *Storage) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	var inst domain.Instrument
	err := s.db.WithContext(ctx).First(&inst, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &inst, err
}
