// Package worker drives the realtime pipeline: every validated tick updates
// the price cache, sweeps liquidations, fires triggered pending orders and
// pushes notifications to websocket subscribers. Event-driven, no polling.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"broker_go/internal/domain"
	"broker_go/internal/infra"
	"broker_go/internal/infra/redisfeed"
	"broker_go/internal/infra/storage"
	"broker_go/internal/service"

	"github.com/shopspring/decimal"
)

// tickQueueSize bounds the inbound tick queue. Ticks are frequent and
// superseded by the next one, so dropping under load is fine.
const tickQueueSize = 256

// tickTimeout bounds the database work done per tick.
const tickTimeout = 5 * time.Second

// Broadcaster pushes a message to all realtime subscribers without blocking.
type Broadcaster interface {
	Publish(message []byte)
}

// Watcher consumes ticks and applies their consequences in order: cache,
// liquidations, pending order triggers.
type Watcher struct {
	store *storage.Storage
	cache *service.PriceCache
	exec  *service.ExecutionService
	liq   *service.LiquidationService
	hub   Broadcaster
	ticks chan redisfeed.Tick
}

// NewWatcher creates a watcher. Call Run to start it.
func NewWatcher(
	store *storage.Storage,
	cache *service.PriceCache,
	exec *service.ExecutionService,
	liq *service.LiquidationService,
	hub Broadcaster,
) *Watcher {
	return &Watcher{
		store: store,
		cache: cache,
		exec:  exec,
		liq:   liq,
		hub:   hub,
		ticks: make(chan redisfeed.Tick, tickQueueSize),
	}
}

// Offer enqueues a tick for processing. Never blocks: when the watcher lags
// the tick is dropped and the next one carries the fresher price anyway.
func (w *Watcher) Offer(tick redisfeed.Tick) {
	select {
	case w.ticks <- tick:
	default:
		slog.Debug("Tick queue full, dropping tick", slog.String("symbol", tick.Symbol))
	}
}

// Run processes ticks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	slog.Info("Tick watcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Tick watcher stopped")
			return
		case tick := <-w.ticks:
			w.handleTick(ctx, tick)
		}
	}
}

func (w *Watcher) handleTick(ctx context.Context, tick redisfeed.Tick) {
	start := time.Now()
	defer func() {
		infra.GlobalMetrics.RecordTick(time.Since(start).Nanoseconds())
	}()

	mid := tick.Mid()
	w.cache.Update(tick.Symbol, mid)

	w.publish(map[string]any{
		"type":      "price_tick",
		"symbol":    tick.Symbol,
		"bid":       tick.Bid,
		"ask":       tick.Ask,
		"price":     mid,
		"timestamp": tick.Timestamp,
	})

	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	// Liquidations run before pending orders so a triggered order never fills
	// against margin that a crossed position should have consumed.
	liquidated, err := w.liq.CheckLiquidations(ctx, tick.Symbol, mid)
	if err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("Liquidation check failed",
			slog.String("symbol", tick.Symbol),
			slog.Any("error", err))
	}
	for i := range liquidated {
		infra.GlobalMetrics.RecordLiquidation()
		w.publishLiquidated(&liquidated[i])
	}

	w.processPending(ctx, tick.Symbol, mid)
}

// processPending evaluates every pending order on the symbol against the new
// price and executes the triggered ones.
func (w *Watcher) processPending(ctx context.Context, symbol string, price float64) {
	orders, err := w.store.PendingOrders(ctx, symbol)
	if err != nil {
		infra.GlobalMetrics.RecordError()
		slog.Error("Failed to fetch pending orders",
			slog.String("symbol", symbol),
			slog.Any("error", err))
		return
	}

	current := decimal.NewFromFloat(price)
	for i := range orders {
		order := &orders[i]

		triggered, reason, err := w.exec.ValidateOrderExecution(ctx, order.ID, current)
		if err != nil {
			slog.Error("Trigger check failed",
				slog.String("order_id", order.ID.String()),
				slog.Any("error", err))
			continue
		}
		if !triggered {
			continue
		}

		result, err := w.exec.Execute(ctx, order.ID, order.ExecutionPrice(current))
		if err != nil {
			infra.GlobalMetrics.RecordError()
			slog.Error("Order execution failed",
				slog.String("order_id", order.ID.String()),
				slog.Any("error", err))
			continue
		}
		if !result.Success {
			slog.Info("Triggered order rejected",
				slog.String("order_id", order.ID.String()),
				slog.String("trigger", reason),
				slog.String("reason", result.Message))
			continue
		}

		infra.GlobalMetrics.RecordOrderFilled()
		slog.Info("Triggered order executed",
			slog.String("order_id", order.ID.String()),
			slog.String("symbol", symbol),
			slog.String("trigger", reason))
		w.publishExecuted(result)
	}
}

func (w *Watcher) publishExecuted(result *service.ExecutionResult) {
	order := result.Order
	msg := map[string]any{
		"type":         "order_executed",
		"order_id":     order.ID.String(),
		"account_id":   order.AccountID.String(),
		"symbol":       order.Symbol,
		"side":         order.Side,
		"amount":       order.Amount,
		"product_type": order.ProductType,
		"leverage":     order.Leverage,
	}
	if order.AverageFillPrice != nil {
		msg["execution_price"] = order.AverageFillPrice
	}
	w.publish(msg)
}

func (w *Watcher) publishLiquidated(position *domain.Position) {
	msg := map[string]any{
		"type":        "position_liquidated",
		"position_id": position.ID.String(),
		"account_id":  position.AccountID.String(),
		"symbol":      position.Symbol,
		"side":        position.Side,
	}
	if position.ClosePrice != nil {
		msg["close_price"] = position.ClosePrice
	}
	if position.PnL != nil {
		msg["pnl"] = position.PnL
	}
	w.publish(msg)
}

func (w *Watcher) publish(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal notification", slog.Any("error", err))
		return
	}
	w.hub.Publish(data)
}
