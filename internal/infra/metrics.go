package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	cyclesRun       atomic.Uint64
	bidsPlaced      atomic.Uint64
	bidsReplaced    atomic.Uint64
	asksPlaced      atomic.Uint64
	ordersWithdrawn atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	refreshFailures atomic.Uint64
	errorsTotal     atomic.Uint64

	// Evaluation latency
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeOrders atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCycle records one evaluation cycle and its latency.
func (m *Metrics) RecordCycle(latencyNs int64) {
	m.cyclesRun.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordBidPlaced records a new buy order. replaced is true when it supersedes one.
func (m *Metrics) RecordBidPlaced(replaced bool) {
	if replaced {
		m.bidsReplaced.Add(1)
		return
	}
	m.bidsPlaced.Add(1)
	m.activeOrders.Add(1)
}

// RecordAskPlaced records a sell order. replaced is true when it supersedes one.
func (m *Metrics) RecordAskPlaced(replaced bool) {
	if replaced {
		return
	}
	m.asksPlaced.Add(1)
	m.activeOrders.Add(1)
}

// RecordWithdrawn records an order taken off the market.
func (m *Metrics) RecordWithdrawn() {
	m.ordersWithdrawn.Add(1)
	m.activeOrders.Add(-1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
	m.activeOrders.Add(-1)
}

// RecordRejected records an order the marketplace refused or that failed after retries.
func (m *Metrics) RecordRejected() {
	m.ordersRejected.Add(1)
}

// RecordRefreshFailure records a failed history or order-book fetch.
func (m *Metrics) RecordRefreshFailure() {
	m.refreshFailures.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesRun       uint64    `json:"cycles_run"`
	BidsPlaced      uint64    `json:"bids_placed"`
	BidsReplaced    uint64    `json:"bids_replaced"`
	AsksPlaced      uint64    `json:"asks_placed"`
	OrdersWithdrawn uint64    `json:"orders_withdrawn"`
	OrdersFilled    uint64    `json:"orders_filled"`
	OrdersRejected  uint64    `json:"orders_rejected"`
	RefreshFailures uint64    `json:"refresh_failures"`
	ErrorsTotal     uint64    `json:"errors_total"`
	AvgLatencyNs    int64     `json:"avg_latency_ns"`
	ActiveOrders    int64     `json:"active_orders"`
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
		CyclesRun:       m.cyclesRun.Load(),
		BidsPlaced:      m.bidsPlaced.Load(),
		BidsReplaced:    m.bidsReplaced.Load(),
		AsksPlaced:      m.asksPlaced.Load(),
		OrdersWithdrawn: m.ordersWithdrawn.Load(),
		OrdersFilled:    m.ordersFilled.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		RefreshFailures: m.refreshFailures.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		ActiveOrders:    m.activeOrders.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.cyclesRun.Store(0)
	m.bidsPlaced.Store(0)
	m.bidsReplaced.Store(0)
	m.asksPlaced.Store(0)
	m.ordersWithdrawn.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.refreshFailures.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeOrders.Store(0)
}
