package domain

import (
	"context"
	"time"
)

// Marketplace is everything the trading core needs from the exchange.
// Implementations must be safe for concurrent use by several game loops.
type Marketplace interface {
	// FetchSalesHistory returns up to the last 20 sales, newest first.
	FetchSalesHistory(ctx context.Context, game, title string) ([]SalePoint, error)
	FetchOrderBook(ctx context.Context, game, title string) (OrderBookEntry, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	// CancelOrder returns ErrOrderNotFound for orders that are already gone.
	CancelOrder(ctx context.Context, h OrderHandle) error
	GetBalance(ctx context.Context) (Cents, error)
	// ListItems discovers titles whose market price lies in [from, to].
	ListItems(ctx context.Context, game string, from, to Cents, limit int) ([]string, error)
	// PollFills returns orders of the game that executed after since.
	PollFills(ctx context.Context, game string, since time.Time) ([]Fill, error)
}

// BalanceSource provides the account balance.
type BalanceSource interface {
	GetBalance(ctx context.Context) (Cents, error)
}

// TradeStore persists item history and the journal of bought assets.
type TradeStore interface {
	SaveItems(game string, items []ItemRecord) error
	LoadItems(game string) ([]ItemRecord, error)
	// RecordPurchase journals a bought asset once and returns the stored record.
	RecordPurchase(fill Fill) (TradeRecord, error)
	RecordSale(fill Fill) error
	UnsoldTrades(game string) ([]TradeRecord, error)
}
