package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"
)

// OrderGateway submits and cancels orders with bounded retries.
// Only retriable errors are retried; anything else fails the call at once.
type OrderGateway struct {
	market   domain.Marketplace
	attempts int
	backoff  func(int) time.Duration
	logger   *slog.Logger
}

// NewOrderGateway creates a gateway making at most attempts calls per operation.
func NewOrderGateway(market domain.Marketplace, attempts int) *OrderGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &OrderGateway{
		market:   market,
		attempts: attempts,
		backoff:  infra.CalculateBackoff,
		logger:   slog.Default().With(slog.String("module", "gateway")),
	}
}

// Submit places an order.
func (g *OrderGateway) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	var h domain.OrderHandle
	err := g.retry(ctx, "submit", func() error {
		var err error
		h, err = g.market.SubmitOrder(ctx, req)
		return err
	})
	return h, err
}

// Cancel withdraws an order. Cancelling an order that is already filled or
// withdrawn is an Ack, so Cancel may be called any number of times.
func (g *OrderGateway) Cancel(ctx context.Context, h domain.OrderHandle) error {
	err := g.retry(ctx, "cancel", func() error {
		return g.market.CancelOrder(ctx, h)
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil
	}
	return err
}

func (g *OrderGateway) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < g.attempts; i++ {
		if i > 0 {
			delay := g.backoff(i - 1)
			g.logger.Info("Retrying order operation",
				slog.String("op", op),
				slog.Int("attempt", i+1),
				slog.Duration("delay", delay),
			)
			if err := infra.SleepContext(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		g.logger.Warn("Order operation failed", slog.String("op", op), slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, g.attempts, lastErr)
}
