package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmarket_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ domain.Marketplace = (*PaperMarket)(nil)

// PaperMarket reads live market data through an upstream marketplace and
// simulates everything that would move money.
// A target fills once a sell offer at or below its price appears; an offer
// fills once a buy order at or above its price appears.
type PaperMarket struct {
	upstream domain.Marketplace
	sellFee  decimal.Decimal // percent kept by the marketplace on a sale

	mu      sync.Mutex
	balance domain.Cents
	live    map[string]paperOrder
	fills   []domain.Fill
	now     func() time.Time
	logger  *slog.Logger
}

type paperOrder struct {
	req    domain.OrderRequest
	handle domain.OrderHandle
}

// NewPaperMarket creates a simulated marketplace with a starting balance.
func NewPaperMarket(upstream domain.Marketplace, balance domain.Cents, sellFee decimal.Decimal) *PaperMarket {
	return &PaperMarket{
		upstream: upstream,
		sellFee:  sellFee,
		balance:  balance,
		live:     make(map[string]paperOrder),
		now:      time.Now,
		logger:   slog.Default().With(slog.String("module", "paper_market")),
	}
}

func (p *PaperMarket) FetchSalesHistory(ctx context.Context, game, title string) ([]domain.SalePoint, error) {
	return p.upstream.FetchSalesHistory(ctx, game, title)
}

func (p *PaperMarket) FetchOrderBook(ctx context.Context, game, title string) (domain.OrderBookEntry, error) {
	return p.upstream.FetchOrderBook(ctx, game, title)
}

func (p *PaperMarket) ListItems(ctx context.Context, game string, from, to domain.Cents, limit int) ([]string, error) {
	return p.upstream.ListItems(ctx, game, from, to, limit)
}

// SubmitOrder records the order as live. Targets above the balance are rejected.
func (p *PaperMarket) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Price <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("%w: price must be positive", domain.ErrOrderRejected)
	}
	if req.Side == domain.SideBuy && req.Price > p.balance {
		return domain.OrderHandle{}, fmt.Errorf("%w: %w", domain.ErrOrderRejected, domain.ErrInsufficientBalance)
	}
	if req.Side == domain.SideSell && req.AssetID == "" {
		return domain.OrderHandle{}, fmt.Errorf("%w: offer without asset", domain.ErrOrderRejected)
	}

	h := domain.OrderHandle{ID: uuid.NewString(), Game: req.Game, Side: req.Side, AssetID: req.AssetID, Price: req.Price}
	p.live[h.ID] = paperOrder{req: req, handle: h}
	p.logger.Info("Paper order placed", slog.String("id", h.ID), slog.String("side", string(req.Side)), slog.String("title", req.Title), slog.String("price", req.Price.String()))
	return h, nil
}

func (p *PaperMarket) CancelOrder(ctx context.Context, h domain.OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.live[h.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(p.live, h.ID)
	return nil
}

func (p *PaperMarket) GetBalance(ctx context.Context) (domain.Cents, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// PollFills matches the live orders of game against the current order book
// and returns every simulated fill after since.
func (p *PaperMarket) PollFills(ctx context.Context, game string, since time.Time) ([]domain.Fill, error) {
	p.mu.Lock()
	pending := make([]paperOrder, 0, len(p.live))
	for _, o := range p.live {
		if o.req.Game == game {
			pending = append(pending, o)
		}
	}
	p.mu.Unlock()

	// book reads happen outside the lock
	books := make(map[string]domain.OrderBookEntry)
	for _, o := range pending {
		if _, ok := books[o.req.Title]; ok {
			continue
		}
		entry, err := p.upstream.FetchOrderBook(ctx, game, o.req.Title)
		if err != nil {
			continue
		}
		books[o.req.Title] = entry
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range pending {
		entry, ok := books[o.req.Title]
		if !ok || !crosses(o.req, entry) {
			continue
		}
		if _, still := p.live[o.handle.ID]; !still {
			continue
		}
		p.fill(o)
	}

	var out []domain.Fill
	for _, f := range p.fills {
		if f.Game == game && f.At.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Fills returns every simulated fill.
func (p *PaperMarket) Fills() []domain.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Fill(nil), p.fills...)
}

func crosses(req domain.OrderRequest, entry domain.OrderBookEntry) bool {
	switch req.Side {
	case domain.SideBuy:
		return entry.BestOfferPrice > 0 && entry.BestOfferPrice <= req.Price
	case domain.SideSell:
		return entry.TopOrderPrice > 0 && entry.TopOrderPrice >= req.Price
	}
	return false
}

func (p *PaperMarket) fill(o paperOrder) {
	delete(p.live, o.handle.ID)

	assetID := o.req.AssetID
	switch o.req.Side {
	case domain.SideBuy:
		p.balance -= o.req.Price
		assetID = "paper-" + uuid.NewString()
	case domain.SideSell:
		keep := decimal.NewFromInt(100).Sub(p.sellFee).Div(decimal.NewFromInt(100))
		p.balance += domain.Cents(decimal.NewFromInt(int64(o.req.Price)).Mul(keep).Floor().IntPart())
	}

	f := domain.Fill{
		Handle:  o.handle,
		Title:   o.req.Title,
		Game:    o.req.Game,
		Side:    o.req.Side,
		AssetID: assetID,
		Price:   o.req.Price,
		At:      p.now(),
	}
	p.fills = append(p.fills, f)
	p.logger.Info("Paper order filled", slog.String("side", string(f.Side)), slog.String("title", f.Title), slog.String("price", f.Price.String()), slog.String("balance", p.balance.String()))
}
