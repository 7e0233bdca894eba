package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	redline = "AK-47 | Redline (Field-Tested)"
	vulcan  = "AK-47 | Vulcan (Minimal Wear)"
)

func testConfig() *infra.TradeConfig {
	d := decimal.NewFromInt
	return &infra.TradeConfig{
		Games:  []string{"a8db"},
		Timers: infra.TimersConfig{PrevBase: 3600, OrdersBase: 60, FillsBase: 120},
		Prev:   infra.PrevParams{MinAvgPrice: 300, MaxAvgPrice: 5000, HistorySize: 20, DiscoveryLimit: 100},
		Buy: infra.BuyParams{
			MinPrice:           100,
			MaxPrice:           3000,
			ProfitPercent:      d(3),
			GoodPointsPercent:  d(50),
			AllSales:           20,
			DaysCount:          7,
			SaleCount:          5,
			LastSale:           2,
			FirstSale:          3,
			MaxCountSellOffers: 30,
			BoostPercent:       d(20),
			BoostPoints:        2,
			MaxThreshold:       d(1),
			MinThreshold:       d(5),
			StopOrdersBalance:  1000,
			AvgPriceCount:      10,
			SellFee:            decimal.Zero,
		},
		Sell: infra.SellParams{MinPercent: d(4), MaxPercent: d(12)},
	}
}

func flatSales(price domain.Cents, n int) []domain.SalePoint {
	sales := make([]domain.SalePoint, n)
	for i := range sales {
		sales[i] = domain.SalePoint{Price: price, Time: testNow.Add(-time.Hour - time.Duration(i)*6*time.Hour)}
	}
	return sales
}

type fakeMarket struct {
	mu sync.Mutex

	titles  []string
	sales   map[string][]domain.SalePoint
	books   map[string]domain.OrderBookEntry
	bookErr map[string]error
	balance domain.Cents
	fills   []domain.Fill

	submitErrs []error // consumed one per SubmitOrder call
	cancelErrs []error // consumed one per CancelOrder call

	live    map[string]domain.OrderRequest
	submits int
	cancels int
	nextID  int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		sales:   make(map[string][]domain.SalePoint),
		books:   make(map[string]domain.OrderBookEntry),
		bookErr: make(map[string]error),
		live:    make(map[string]domain.OrderRequest),
	}
}

func (f *fakeMarket) setBook(title string, top, bestAsk domain.Cents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[title] = domain.OrderBookEntry{Title: title, TopOrderPrice: top, BestOfferPrice: bestAsk, SellOfferCount: 5, FetchedAt: testNow}
}

func (f *fakeMarket) FetchSalesHistory(ctx context.Context, game, title string) ([]domain.SalePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[title]
	if !ok {
		return nil, domain.NewNetworkError("last-sales", fmt.Errorf("no data for %s", title))
	}
	return s, nil
}

func (f *fakeMarket) FetchOrderBook(ctx context.Context, game, title string) (domain.OrderBookEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bookErr[title]; err != nil {
		return domain.OrderBookEntry{}, err
	}
	e, ok := f.books[title]
	if !ok {
		return domain.OrderBookEntry{}, domain.ErrDataUnavailable
	}
	return e, nil
}

func (f *fakeMarket) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return domain.OrderHandle{}, err
		}
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.live[id] = req
	return domain.OrderHandle{ID: id, Game: req.Game, Side: req.Side, AssetID: req.AssetID, Price: req.Price}, nil
}

func (f *fakeMarket) CancelOrder(ctx context.Context, h domain.OrderHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if len(f.cancelErrs) > 0 {
		err := f.cancelErrs[0]
		f.cancelErrs = f.cancelErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.live[h.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(f.live, h.ID)
	return nil
}

func (f *fakeMarket) GetBalance(ctx context.Context) (domain.Cents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeMarket) ListItems(ctx context.Context, game string, from, to domain.Cents, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...), nil
}

func (f *fakeMarket) PollFills(ctx context.Context, game string, since time.Time) ([]domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Fill
	for _, fl := range f.fills {
		if !fl.At.Before(since) {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *fakeMarket) liveOrders() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderRequest, 0, len(f.live))
	for _, r := range f.live {
		out = append(out, r)
	}
	return out
}

func (f *fakeMarket) counts() (submits, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.cancels
}

type fakeStore struct {
	mu        sync.Mutex
	items     map[string][]domain.ItemRecord
	trades    map[string]domain.TradeRecord
	saleCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string][]domain.ItemRecord), trades: make(map[string]domain.TradeRecord)}
}

func (s *fakeStore) SaveItems(game string, items []domain.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[game] = items
	return nil
}

func (s *fakeStore) LoadItems(game string) ([]domain.ItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[game], nil
}

func (s *fakeStore) RecordPurchase(f domain.Fill) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.trades[f.AssetID]; ok {
		return rec, nil
	}
	rec := domain.TradeRecord{AssetID: f.AssetID, Title: f.Title, Game: f.Game, TargetID: f.Handle.ID, BuyPrice: f.Price, BuyTime: f.At}
	s.trades[f.AssetID] = rec
	return rec, nil
}

func (s *fakeStore) RecordSale(f domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saleCalls++
	rec := s.trades[f.AssetID]
	at := f.At
	rec.SellTime = &at
	rec.SellPrice = f.Price
	rec.OfferID = f.Handle.ID
	s.trades[f.AssetID] = rec
	return nil
}

func (s *fakeStore) UnsoldTrades(game string) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, t := range s.trades {
		if t.Game == game && !t.Sold() {
			out = append(out, t)
		}
	}
	return out, nil
}
