package service

import (
	"sync"
	"time"
)

// maxPriceAge is how long a cached price stays usable without a fresh tick.
const maxPriceAge = 60 * time.Second

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// PriceCache provides thread-safe access to the latest known price per
// symbol. It is written only by the ingestion path and read by the execution
// and margin engines. Construct one per process (or per test) and inject it;
// there is no package-level instance.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]priceEntry
	now    func() time.Time
}

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		prices: make(map[string]priceEntry),
		now:    time.Now,
	}
}

// Update overwrites the cached price for a symbol. No history is retained.
func (c *PriceCache) Update(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices[symbol] = priceEntry{
		price:     price,
		updatedAt: c.now(),
	}
}

// Get returns the current price for a symbol. The second return value is
// false when the symbol is unknown or the entry is older than maxPriceAge.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.prices[symbol]
	if !exists {
		return 0, false
	}
	if c.now().Sub(entry.updatedAt) > maxPriceAge {
		return 0, false
	}
	return entry.price, true
}

// Snapshot returns a copy of all current prices, including stale entries.
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]float64, len(c.prices))
	for symbol, entry := range c.prices {
		snapshot[symbol] = entry.price
	}
	return snapshot
}
