package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dmarket_go/internal/domain"
)

// BalancePoller keeps a BalanceGuard in sync with the account balance.
type BalancePoller struct {
	source       domain.BalanceSource
	guard        *domain.BalanceGuard
	onUpdate     func(domain.Cents)
	pollInterval time.Duration
	retryDelay   func(int) time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// NewBalancePoller creates a poller. onUpdate may be nil.
func NewBalancePoller(source domain.BalanceSource, guard *domain.BalanceGuard, interval time.Duration, onUpdate func(domain.Cents)) *BalancePoller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &BalancePoller{
		source:       source,
		guard:        guard,
		onUpdate:     onUpdate,
		pollInterval: interval,
		retryDelay:   CalculateBackoff,
		logger:       slog.Default().With(slog.String("module", "balance")),
	}
}

// Start fetches the balance once, then keeps polling until Stop or ctx ends.
// The first fetch is synchronous so bidding never starts from a zero balance.
func (p *BalancePoller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.Fetch(ctx); err != nil {
		p.logger.Warn("Initial balance fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Balance polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Balance polling stopped")
				return
			case <-ticker.C:
				if err := p.Fetch(ctx); err != nil {
					p.logger.Warn("Balance fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// Fetch reads the balance with up to 3 attempts and syncs the guard.
func (p *BalancePoller) Fetch(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			delay := p.retryDelay(i - 1)
			p.logger.Info("Retrying balance fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			if err := SleepContext(ctx, delay); err != nil {
				return err
			}
		}

		balance, err := p.source.GetBalance(ctx)
		if err == nil {
			old := p.guard.Snapshot().Total
			p.guard.Sync(balance)
			if old != balance {
				p.logger.Info("Balance updated",
					slog.String("balance", balance.String()),
					slog.String("old_balance", old.String()),
				)
				if p.onUpdate != nil {
					p.onUpdate(balance)
				}
			}
			return nil
		}
		lastErr = err
		p.logger.Warn("Balance fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

// Stop stops the polling
func (p *BalancePoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
