package domain

import (
	"fmt"
	"sync"

	"dmarket_go/pkg/safe"
)

// BalanceGuard is the one trading balance shared by every game loop.
// Each live buy order holds a reservation, so loops running concurrently
// cannot jointly push the free balance below the stop level.
type BalanceGuard struct {
	mu       sync.Mutex
	total    Cents
	reserved Cents
}

// BalanceSnapshot is a consistent read of the guard.
type BalanceSnapshot struct {
	Total     Cents `json:"total"`
	Reserved  Cents `json:"reserved"`
	Available Cents `json:"available"`
}

// NewBalanceGuard creates a guard seeded with the account balance.
func NewBalanceGuard(total Cents) *BalanceGuard {
	return &BalanceGuard{total: total}
}

// Available returns total minus reserved.
func (g *BalanceGuard) Available() Cents {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available()
}

func (g *BalanceGuard) available() Cents {
	return Cents(safe.SafeSub(int64(g.total), int64(g.reserved)))
}

// TryReserve reserves price when the balance left afterwards stays above stop.
// Check and reservation happen under one lock.
func (g *BalanceGuard) TryReserve(price, stop Cents) bool {
	if price <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if safe.SafeSub(int64(g.available()), int64(price)) <= int64(stop) {
		return false
	}
	g.reserved = Cents(safe.SafeAdd(int64(g.reserved), int64(price)))
	return true
}

// Release returns a reservation. Panics when releasing more than is reserved.
func (g *BalanceGuard) Release(price Cents) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if price > g.reserved {
		panic(fmt.Sprintf("BALANCE_RELEASE_EXCEEDS_RESERVED: release %d, reserved %d", price, g.reserved))
	}
	g.reserved = Cents(safe.SafeSub(int64(g.reserved), int64(price)))
}

// Sync replaces the total with the balance reported by the marketplace.
// Reservations are kept until their orders fill or are withdrawn.
func (g *BalanceGuard) Sync(total Cents) {
	g.mu.Lock()
	g.total = total
	g.mu.Unlock()
}

// Snapshot returns a consistent copy (for state dump and status API).
func (g *BalanceGuard) Snapshot() BalanceSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return BalanceSnapshot{Total: g.total, Reserved: g.reserved, Available: g.available()}
}
