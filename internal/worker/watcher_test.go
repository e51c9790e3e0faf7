package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"broker_go/internal/domain"
	"broker_go/internal/infra/redisfeed"
	"broker_go/internal/infra/storage"
	"broker_go/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type captureBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
}

func (c *captureBroadcaster) Publish(message []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

// ofType decodes captured messages and returns those with the given type tag.
func (c *captureBroadcaster) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, raw := range c.messages {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Broadcast message is not JSON: %v", err)
		}
		if msg["type"] == typ {
			out = append(out, msg)
		}
	}
	return out
}

type fixture struct {
	store *storage.Storage
	cache *service.PriceCache
	hub   *captureBroadcaster
	w     *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}

	cache := service.NewPriceCache()
	locks := service.NewAccountLocks()
	hub := &captureBroadcaster{}
	w := NewWatcher(
		store,
		cache,
		service.NewExecutionService(store.DB(), locks),
		service.NewLiquidationService(store.DB(), locks),
		hub,
	)
	return &fixture{store: store, cache: cache, hub: hub, w: w}
}

func (f *fixture) seedAccount(t *testing.T) *domain.Account {
	t.Helper()

	account := &domain.Account{
		ID:       uuid.New(),
		UserID:   "user-1",
		Currency: "USDT",
		Type:     domain.AccountTypeLeveraged,
	}
	if err := f.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
	balance := &domain.Balance{
		ID:        uuid.New(),
		AccountID: account.ID,
		Currency:  "USDT",
		Amount:    decimal.RequireFromString("10000"),
	}
	if err := f.store.DB().Create(balance).Error; err != nil {
		t.Fatalf("Failed to seed balance: %v", err)
	}
	inst := &domain.Instrument{Symbol: "BTCUSDT", QuoteCurrency: "USDT", MaxLeverage: 100, Type: "crypto"}
	if err := f.store.UpsertInstrument(context.Background(), inst); err != nil {
		t.Fatalf("Failed to seed instrument: %v", err)
	}
	return account
}

func TestWatcherTickUpdatesCacheAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	f.w.handleTick(context.Background(), redisfeed.Tick{Symbol: "BTCUSDT", Bid: 49999, Ask: 50001})

	price, ok := f.cache.Get("BTCUSDT")
	if !ok || price != 50000 {
		t.Errorf("Cached price = %v (ok=%v), want 50000", price, ok)
	}

	ticks := f.hub.ofType(t, "price_tick")
	if len(ticks) != 1 {
		t.Fatalf("Expected 1 price_tick broadcast, got %d", len(ticks))
	}
	if ticks[0]["symbol"] != "BTCUSDT" || ticks[0]["price"] != float64(50000) {
		t.Errorf("price_tick = %v", ticks[0])
	}
}

func TestWatcherExecutesTriggeredOrder(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t)

	limit := decimal.RequireFromString("50000")
	order := &domain.Order{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Symbol:      "BTCUSDT",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeLimit,
		ProductType: domain.ProductTypeLeveraged,
		Status:      domain.OrderStatusPending,
		Amount:      decimal.RequireFromString("0.1"),
		LimitPrice:  &limit,
		Leverage:    10,
	}
	if err := f.store.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}

	// Price crosses below the buy limit: the order fills at the limit price.
	f.w.handleTick(context.Background(), redisfeed.Tick{Symbol: "BTCUSDT", Bid: 49899, Ask: 49901})

	stored, err := f.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Failed to reload order: %v", err)
	}
	if stored.Status != domain.OrderStatusFilled {
		t.Fatalf("Order status = %s, want filled", stored.Status)
	}
	if stored.AverageFillPrice == nil || !stored.AverageFillPrice.Equal(limit) {
		t.Errorf("AverageFillPrice = %v, want 50000", stored.AverageFillPrice)
	}

	executed := f.hub.ofType(t, "order_executed")
	if len(executed) != 1 {
		t.Fatalf("Expected 1 order_executed broadcast, got %d", len(executed))
	}
	if executed[0]["order_id"] != order.ID.String() {
		t.Errorf("order_executed = %v", executed[0])
	}
}

func TestWatcherLeavesUntriggeredOrdersPending(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t)

	limit := decimal.RequireFromString("50000")
	order := &domain.Order{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Symbol:      "BTCUSDT",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeLimit,
		ProductType: domain.ProductTypeLeveraged,
		Status:      domain.OrderStatusPending,
		Amount:      decimal.RequireFromString("0.1"),
		LimitPrice:  &limit,
		Leverage:    10,
	}
	if err := f.store.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}

	// Price stays above the buy limit.
	f.w.handleTick(context.Background(), redisfeed.Tick{Symbol: "BTCUSDT", Bid: 50999, Ask: 51001})

	stored, err := f.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Failed to reload order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Errorf("Order status = %s, want pending", stored.Status)
	}
	if executed := f.hub.ofType(t, "order_executed"); len(executed) != 0 {
		t.Errorf("Unexpected order_executed broadcasts: %v", executed)
	}
}

func TestWatcherBroadcastsLiquidations(t *testing.T) {
	f := newFixture(t)
	account := f.seedAccount(t)

	position := &domain.Position{
		ID:               uuid.New(),
		AccountID:        account.ID,
		OrderID:          uuid.New(),
		Symbol:           "BTCUSDT",
		Side:             domain.PositionSideLong,
		Status:           domain.PositionStatusOpen,
		Size:             decimal.RequireFromString("0.1"),
		EntryPrice:       decimal.RequireFromString("50000"),
		Margin:           decimal.RequireFromString("500"),
		Leverage:         10,
		LiquidationPrice: decimal.RequireFromString("45500"),
	}
	if err := f.store.DB().Create(position).Error; err != nil {
		t.Fatalf("Failed to seed position: %v", err)
	}

	f.w.handleTick(context.Background(), redisfeed.Tick{Symbol: "BTCUSDT", Bid: 44999, Ask: 45001})

	var stored domain.Position
	if err := f.store.DB().First(&stored, "id = ?", position.ID).Error; err != nil {
		t.Fatalf("Failed to reload position: %v", err)
	}
	if stored.Status != domain.PositionStatusLiquidated {
		t.Fatalf("Position status = %s, want liquidated", stored.Status)
	}

	notices := f.hub.ofType(t, "position_liquidated")
	if len(notices) != 1 {
		t.Fatalf("Expected 1 position_liquidated broadcast, got %d", len(notices))
	}
	if notices[0]["position_id"] != position.ID.String() {
		t.Errorf("position_liquidated = %v", notices[0])
	}
}

func TestWatcherOfferNeverBlocks(t *testing.T) {
	f := newFixture(t)

	// Watcher not running: the queue fills, extra ticks are dropped.
	for i := 0; i < tickQueueSize+50; i++ {
		f.w.Offer(redisfeed.Tick{Symbol: "BTCUSDT", Bid: 1, Ask: 2})
	}
}
