// Package redisfeed ingests realtime prices published by the market data
// service over Redis. A hash of latest prices seeds the cache at startup;
// after that a pub/sub subscription streams ticks, reconnecting with
// exponential backoff whenever the feed drops.
package redisfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"broker_go/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	// Channel is the pub/sub channel carrying live ticks.
	Channel = "price_updates"

	// SnapshotKey is the hash holding the latest quote per symbol.
	SnapshotKey = "latest_prices"

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// Tick is one validated price update from the feed.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

// Mid returns the midpoint of bid and ask, the price the rest of the system
// trades and marks against.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// ParseTick decodes and validates a raw feed payload. Malformed payloads,
// empty symbols and non-positive quotes are discarded.
func ParseTick(payload []byte) (Tick, bool) {
	var tick Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		return Tick{}, false
	}
	if tick.Symbol == "" || tick.Bid <= 0 || tick.Ask <= 0 {
		return Tick{}, false
	}
	return tick, true
}

// parseSnapshotEntry decodes one hash field of the latest-prices snapshot.
// The symbol is the hash field name, the value a JSON quote.
func parseSnapshotEntry(symbol string, raw []byte) (Tick, bool) {
	var quote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	if err := json.Unmarshal(raw, &quote); err != nil {
		return Tick{}, false
	}
	if symbol == "" || quote.Bid <= 0 || quote.Ask <= 0 {
		return Tick{}, false
	}
	return Tick{Symbol: symbol, Bid: quote.Bid, Ask: quote.Ask}, true
}

// nextBackoff doubles the retry delay up to maxBackoff.
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Provider owns the Redis connection and the subscription loop. Ticks are
// delivered through the onTick callback; the provider never blocks on the
// consumer.
type Provider struct {
	client *redis.Client
	onTick func(Tick)

	// sleep and subscribe are swappable so tests can fast-forward the
	// backoff and drive the loop without a live Redis.
	sleep     func(context.Context, time.Duration) bool
	subscribe func(context.Context) (<-chan *redis.Message, func(), error)

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProvider creates a provider for the given Redis endpoint. The password
// may be empty.
func NewProvider(addr, password string, onTick func(Tick)) *Provider {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
	})
	p := &Provider{
		client: client,
		onTick: onTick,
		sleep:  sleepCtx,
	}
	p.subscribe = p.redisSubscribe
	return p
}

// Start seeds the price cache from the snapshot hash and launches the
// subscription loop. Redis being down at startup is not fatal: the loop keeps
// retrying and the snapshot is simply skipped.
func (p *Provider) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable at startup, subscriber will keep retrying", slog.Any("error", err))
	} else if err := p.seed(ctx); err != nil {
		slog.Warn("Failed to seed price cache from snapshot", slog.Any("error", err))
	}

	p.wg.Add(1)
	go p.subscribeLoop(ctx)
}

// Stop tears down the subscription and the Redis client. Idempotent.
func (p *Provider) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		if err := p.client.Close(); err != nil {
			slog.Warn("Failed to close Redis client", slog.Any("error", err))
		}
		slog.Info("Price feed stopped")
	})
}

// seed replays the latest-prices snapshot so the system has a price for every
// symbol before the first live tick arrives.
func (p *Provider) seed(ctx context.Context) error {
	entries, err := p.client.HGetAll(ctx, SnapshotKey).Result()
	if err != nil {
		return domain.NewNetworkError("snapshot", err)
	}
	if len(entries) == 0 {
		slog.Info("Price snapshot empty, cache fills as ticks arrive")
		return nil
	}

	seeded := 0
	for symbol, raw := range entries {
		tick, ok := parseSnapshotEntry(symbol, []byte(raw))
		if !ok {
			slog.Warn("Invalid snapshot entry", slog.String("symbol", symbol))
			continue
		}
		p.onTick(tick)
		seeded++
	}
	slog.Info("Price cache seeded from snapshot", slog.Int("symbols", seeded))
	return nil
}

// redisSubscribe opens the pub/sub stream and waits for the subscription to
// be confirmed before handing back the message channel.
func (p *Provider) redisSubscribe(ctx context.Context) (<-chan *redis.Message, func(), error) {
	pubsub := p.client.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}
	return pubsub.Channel(), func() { pubsub.Close() }, nil
}

// subscribeLoop keeps a pub/sub subscription alive. The backoff doubles on
// every consecutive failure and resets once a subscription is confirmed.
func (p *Provider) subscribeLoop(ctx context.Context) {
	defer p.wg.Done()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		ch, closeSub, err := p.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Price feed subscription failed",
				slog.Duration("retry_in", backoff),
				slog.Any("error", err))
			if !p.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		slog.Info("Subscribed to price feed", slog.String("channel", Channel))
		backoff = initialBackoff

		err = p.consume(ctx, ch)
		closeSub()

		if ctx.Err() != nil {
			return
		}
		slog.Warn("Price feed connection lost",
			slog.Duration("retry_in", backoff),
			slog.Any("error", err))
		if !p.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// consume drains the subscription until it fails or the context ends.
func (p *Provider) consume(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return domain.ErrFeedClosed
			}
			tick, ok := ParseTick([]byte(msg.Payload))
			if !ok {
				slog.Debug("Discarding malformed tick", slog.String("payload", msg.Payload))
				continue
			}
			p.onTick(tick)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
