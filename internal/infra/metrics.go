package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed  atomic.Uint64
	ordersFilled    atomic.Uint64
	liquidations    atomic.Uint64
	droppedMessages atomic.Uint64
	errorsTotal     atomic.Uint64

	// Tick handling latency
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeClients atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one processed price tick with its handling latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordLiquidation records a forced position close.
func (m *Metrics) RecordLiquidation() {
	m.liquidations.Add(1)
}

// RecordDroppedMessage records a realtime message dropped under backpressure.
func (m *Metrics) RecordDroppedMessage() {
	m.droppedMessages.Add(1)
}

// IncrementClients increments connected websocket clients by 1.
func (m *Metrics) IncrementClients() {
	m.activeClients.Add(1)
}

// DecrementClients decrements connected websocket clients by 1.
func (m *Metrics) DecrementClients() {
	m.activeClients.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed  uint64    `json:"ticks_processed"`
	OrdersFilled    uint64    `json:"orders_filled"`
	Liquidations    uint64    `json:"liquidations"`
	DroppedMessages uint64    `json:"dropped_messages"`
	ErrorsTotal     uint64    `json:"errors_total"`
	AvgLatencyNs    int64     `json:"avg_latency_ns"`
	ActiveClients   int32     `json:"active_clients"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed:  m.ticksProcessed.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		Liquidations:    m.liquidations.Load(),
		DroppedMessages: m.droppedMessages.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		ActiveClients:   m.activeClients.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.ordersFilled.Store(0)
	m.liquidations.Store(0)
	m.droppedMessages.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeClients.Store(0)
}
