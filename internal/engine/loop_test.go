package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/event"
	"dmarket_go/internal/infra"
	"dmarket_go/internal/strategy"
)

type loopOpts struct {
	game   string
	guard  *domain.BalanceGuard
	store  domain.TradeStore
	pricer func(*infra.TradeConfig) strategy.Pricer
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []*event.OrderStateEvent
}

func (e *eventLog) add(ev *event.OrderStateEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) last() *event.OrderStateEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return nil
	}
	return e.events[len(e.events)-1]
}

func (e *eventLog) has(title, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Title == title && ev.Reason == reason {
			return true
		}
	}
	return false
}

func newTestLoop(m *fakeMarket, o loopOpts) *GameLoop {
	cfg := testConfig()
	if o.game == "" {
		o.game = "a8db"
	}
	if o.guard == nil {
		o.guard = domain.NewBalanceGuard(100_000)
	}
	var pricer strategy.Pricer = strategy.NewRules(cfg)
	if o.pricer != nil {
		pricer = o.pricer(cfg)
	}
	deps := LoopDeps{
		Game:    o.game,
		Config:  cfg,
		Market:  m,
		Gateway: newTestGateway(m),
		Pricer:  pricer,
		Balance: o.guard,
		Store:   o.store,
		Metrics: &infra.Metrics{},
		Now:     func() time.Time { return testNow },
	}
	if o.events != nil {
		deps.OnUpdate = o.events.add
	}
	return NewGameLoop(deps)
}

// marketWith lists the given titles, each with 20 sales at 500 and a top order of 480.
func marketWith(titles ...string) *fakeMarket {
	m := newFakeMarket()
	m.titles = titles
	for _, title := range titles {
		m.sales[title] = flatSales(500, 20)
		m.setBook(title, 480, 0)
	}
	return m
}

func cycle(l *GameLoop) {
	ctx := context.Background()
	l.RefreshBook(ctx)
	l.RunCycle(ctx)
}

func findLive(m *fakeMarket, side domain.Side) []domain.OrderRequest {
	var out []domain.OrderRequest
	for _, r := range m.liveOrders() {
		if r.Side == side {
			out = append(out, r)
		}
	}
	return out
}

func TestGameLoop_PlacesAndHoldsBid(t *testing.T) {
	m := marketWith(redline)
	guard := domain.NewBalanceGuard(100_000)
	events := &eventLog{}
	l := newTestLoop(m, loopOpts{guard: guard, events: events})

	l.RefreshHistory(context.Background())
	cycle(l)

	orders := l.ActiveOrders()
	if len(orders) != 1 {
		t.Fatalf("active orders = %d, want 1", len(orders))
	}
	if orders[0].Price != 481 || orders[0].Side != domain.SideBuy || orders[0].ID == "" {
		t.Errorf("order = %+v", orders[0])
	}
	if orders[0].BookStamp != l.cache.Book().Seq {
		t.Errorf("BookStamp = %d, want %d", orders[0].BookStamp, l.cache.Book().Seq)
	}
	if got := guard.Snapshot().Reserved; got != 481 {
		t.Errorf("reserved = %d, want 481", got)
	}
	if ev := events.last(); ev == nil || ev.State != "MONITORING" || ev.Price != 481 {
		t.Errorf("last event = %+v", ev)
	}

	// unchanged book: order is held, not re-submitted
	cycle(l)
	submits, cancels := m.counts()
	if submits != 1 || cancels != 0 {
		t.Errorf("submits=%d cancels=%d, want 1/0", submits, cancels)
	}
	if st := l.buys[redline].State; st != StateMonitoring {
		t.Errorf("state = %s, want MONITORING", st)
	}
}

func TestGameLoop_ReplacesBidWhenOutbid(t *testing.T) {
	m := marketWith(redline)
	guard := domain.NewBalanceGuard(100_000)
	l := newTestLoop(m, loopOpts{guard: guard})
	l.RefreshHistory(context.Background())
	cycle(l)

	// a competitor moves the top order to 485; outbidding to 486 would pass
	// the ceiling floor(500/1.03) = 485, so the bid retreats to it
	m.setBook(redline, 485, 0)
	cycle(l)

	live := findLive(m, domain.SideBuy)
	if len(live) != 1 || live[0].Price != 485 {
		t.Fatalf("live buy orders = %+v, want one at 485", live)
	}
	submits, cancels := m.counts()
	if submits != 2 || cancels != 1 {
		t.Errorf("submits=%d cancels=%d, want 2/1", submits, cancels)
	}
	if got := guard.Snapshot().Reserved; got != 485 {
		t.Errorf("reserved = %d, want 485", got)
	}
}

func TestGameLoop_WithdrawsWhenIneligible(t *testing.T) {
	m := marketWith(redline)
	guard := domain.NewBalanceGuard(100_000)
	l := newTestLoop(m, loopOpts{guard: guard})
	ctx := context.Background()
	l.RefreshHistory(ctx)
	cycle(l)

	m.mu.Lock()
	m.sales[redline] = flatSales(200, 20)
	m.mu.Unlock()
	l.RefreshHistory(ctx)
	cycle(l)

	if live := m.liveOrders(); len(live) != 0 {
		t.Fatalf("live orders = %+v, want none", live)
	}
	if got := guard.Snapshot().Reserved; got != 0 {
		t.Errorf("reserved = %d, want 0", got)
	}
	mach := l.buys[redline]
	if mach.State != StateIdle || mach.Reason != string(strategy.ReasonAvgOutOfRange) {
		t.Errorf("machine = %s/%s", mach.State, mach.Reason)
	}
	if len(l.ActiveOrders()) != 0 {
		t.Error("ActiveOrders should be empty")
	}
}

func TestGameLoop_MissingDataLeavesOrderUntouched(t *testing.T) {
	m := marketWith(redline)
	l := newTestLoop(m, loopOpts{})
	ctx := context.Background()
	l.RefreshHistory(ctx)
	cycle(l)

	t.Run("order book unavailable", func(t *testing.T) {
		m.mu.Lock()
		m.bookErr[redline] = domain.NewNetworkError("aggregated-prices", errors.New("status 502"))
		m.mu.Unlock()
		cycle(l)

		if len(m.liveOrders()) != 1 {
			t.Error("order should survive a failed book refresh")
		}
		if _, cancels := m.counts(); cancels != 0 {
			t.Errorf("cancels = %d, want 0", cancels)
		}

		m.mu.Lock()
		delete(m.bookErr, redline)
		m.mu.Unlock()
	})

	t.Run("sales history unavailable", func(t *testing.T) {
		m.mu.Lock()
		delete(m.sales, redline)
		m.mu.Unlock()
		l.RefreshHistory(ctx)
		cycle(l)

		if _, ok := l.cache.History().Items[redline]; !ok {
			t.Fatal("previous record should be carried over")
		}
		if len(m.liveOrders()) != 1 {
			t.Error("order should survive a failed history refresh")
		}
	})
}

func TestGameLoop_WithdrawsItemsDroppedFromDiscovery(t *testing.T) {
	m := marketWith(redline, vulcan)
	events := &eventLog{}
	l := newTestLoop(m, loopOpts{events: events})
	ctx := context.Background()
	l.RefreshHistory(ctx)
	cycle(l)
	if len(m.liveOrders()) != 2 {
		t.Fatalf("live orders = %d, want 2", len(m.liveOrders()))
	}

	m.mu.Lock()
	m.titles = []string{vulcan}
	m.mu.Unlock()
	l.RefreshHistory(ctx)
	cycle(l)

	live := m.liveOrders()
	if len(live) != 1 || live[0].Title != vulcan {
		t.Errorf("live orders = %+v, want only %s", live, vulcan)
	}
	if !events.has(redline, reasonNotTracked) {
		t.Errorf("no %q event for %s", reasonNotTracked, redline)
	}
	if _, ok := l.buys[redline]; ok {
		t.Error("idle machine of a dropped title should be released")
	}
	if _, ok := l.buys[vulcan]; !ok {
		t.Error("tracked machine should be kept")
	}

	// a title that comes back starts over with a fresh machine
	m.mu.Lock()
	m.titles = []string{redline, vulcan}
	m.mu.Unlock()
	l.RefreshHistory(ctx)
	cycle(l)
	if len(m.liveOrders()) != 2 {
		t.Errorf("live orders = %d, want 2", len(m.liveOrders()))
	}
}

func TestGameLoop_KeepsDroppedMachineWhileCancelFails(t *testing.T) {
	m := marketWith(redline, vulcan)
	l := newTestLoop(m, loopOpts{})
	ctx := context.Background()
	l.RefreshHistory(ctx)
	cycle(l)

	m.mu.Lock()
	m.titles = []string{vulcan}
	m.cancelErrs = []error{domain.ErrOrderRejected}
	m.mu.Unlock()
	l.RefreshHistory(ctx)
	cycle(l)

	bm, ok := l.buys[redline]
	if !ok || bm.Order == nil {
		t.Fatal("machine with a live order must stay tracked")
	}

	cycle(l)
	if _, ok := l.buys[redline]; ok {
		t.Error("machine should be released once its order is withdrawn")
	}
}

func TestGameLoop_FillCreatesAskThenSaleCloses(t *testing.T) {
	m := marketWith(redline)
	guard := domain.NewBalanceGuard(100_000)
	store := newFakeStore()
	l := newTestLoop(m, loopOpts{guard: guard, store: store})
	ctx := context.Background()
	l.RefreshHistory(ctx)
	cycle(l)

	bid := l.ActiveOrders()[0]
	m.mu.Lock()
	delete(m.live, bid.Handle.ID)
	m.mu.Unlock()

	l.HandleFill(ctx, domain.Fill{
		Handle: bid.Handle, Title: redline, Game: "a8db", Side: domain.SideBuy,
		AssetID: "asset-1", Price: 481, At: testNow,
	})

	if got := guard.Snapshot().Reserved; got != 0 {
		t.Errorf("reserved after fill = %d, want 0", got)
	}
	sm, ok := l.sells["asset-1"]
	if !ok || sm.Purchase != 481 {
		t.Fatalf("sell machine = %+v", sm)
	}
	if _, ok := store.trades["asset-1"]; !ok {
		t.Error("purchase not journaled")
	}

	// ask range is [501, 538]; competitor at 520
	m.setBook(redline, 480, 520)
	cycle(l)

	asks := findLive(m, domain.SideSell)
	if len(asks) != 1 || asks[0].Price != 519 || asks[0].AssetID != "asset-1" {
		t.Fatalf("asks = %+v, want one at 519 for asset-1", asks)
	}

	t.Run("own offer on top is held", func(t *testing.T) {
		m.setBook(redline, 480, 519)
		_, before := m.counts()
		cycle(l)
		if _, after := m.counts(); after != before {
			t.Errorf("cancels went from %d to %d", before, after)
		}
	})

	t.Run("undercut pinned at floor", func(t *testing.T) {
		m.setBook(redline, 480, 490)
		cycle(l)
		asks := findLive(m, domain.SideSell)
		if len(asks) != 1 || asks[0].Price != 501 {
			t.Errorf("asks = %+v, want one at 501", asks)
		}
	})

	ask := sm.Order
	l.HandleFill(ctx, domain.Fill{
		Handle: ask.Handle, Title: redline, Game: "a8db", Side: domain.SideSell,
		AssetID: "asset-1", Price: ask.Price, At: testNow.Add(time.Hour),
	})

	if _, ok := l.sells["asset-1"]; ok {
		t.Error("sell machine should be removed after the sale")
	}
	if !store.trades["asset-1"].Sold() {
		t.Error("sale not journaled")
	}
}

func TestGameLoop_PricingPanicIsContained(t *testing.T) {
	m := marketWith(redline, vulcan)
	l := newTestLoop(m, loopOpts{pricer: func(cfg *infra.TradeConfig) strategy.Pricer {
		return panicPricer{Pricer: strategy.NewRules(cfg), title: vulcan}
	}})
	l.RefreshHistory(context.Background())
	cycle(l)

	live := m.liveOrders()
	if len(live) != 1 || live[0].Title != redline {
		t.Fatalf("live orders = %+v, want only %s", live, redline)
	}
	if r := l.buys[vulcan].Reason; r != string(strategy.NoBidInternalError) {
		t.Errorf("reason = %q, want %q", r, strategy.NoBidInternalError)
	}
	if l.metrics.Snapshot().ErrorsTotal == 0 {
		t.Error("panic should be counted as an error")
	}
}

type panicPricer struct {
	strategy.Pricer
	title string
}

func (p panicPricer) ComputeBid(in strategy.BidInput) strategy.Bid {
	if in.Item.Title == p.title {
		panic("boom")
	}
	return p.Pricer.ComputeBid(in)
}

func TestGameLoop_SharedBalanceGuard(t *testing.T) {
	// stop 1000: after one 481 bid only 119 remain above the stop level
	guard := domain.NewBalanceGuard(1_600)

	ma := marketWith(redline)
	mb := marketWith(redline)
	a := newTestLoop(ma, loopOpts{game: "a8db", guard: guard})
	b := newTestLoop(mb, loopOpts{game: "tf2", guard: guard})

	ctx := context.Background()
	a.RefreshHistory(ctx)
	b.RefreshHistory(ctx)

	var wg sync.WaitGroup
	for _, l := range []*GameLoop{a, b} {
		wg.Add(1)
		go func(l *GameLoop) {
			defer wg.Done()
			cycle(l)
		}(l)
	}
	wg.Wait()

	total := len(ma.liveOrders()) + len(mb.liveOrders())
	if total != 1 {
		t.Errorf("live orders across games = %d, want 1", total)
	}
	if avail := guard.Available(); avail <= 1000 {
		t.Errorf("available %d dropped to the stop level", avail)
	}
}

func TestGameLoop_RejectedOrderIsNoBidForTheCycle(t *testing.T) {
	m := marketWith(redline)
	m.submitErrs = []error{fmt.Errorf("%w: target limit reached", domain.ErrOrderRejected)}
	guard := domain.NewBalanceGuard(100_000)
	l := newTestLoop(m, loopOpts{guard: guard})
	l.RefreshHistory(context.Background())

	cycle(l)
	if len(m.liveOrders()) != 0 {
		t.Fatal("rejected order should not be live")
	}
	if guard.Snapshot().Reserved != 0 {
		t.Error("reservation should be released after rejection")
	}
	if l.metrics.Snapshot().OrdersRejected != 1 {
		t.Error("rejection not counted")
	}

	cycle(l)
	if len(m.liveOrders()) != 1 {
		t.Error("next cycle should bid again")
	}
}

func TestGameLoop_RestoreAndPollFills(t *testing.T) {
	m := marketWith(redline)
	store := newFakeStore()
	store.trades["asset-9"] = domain.TradeRecord{AssetID: "asset-9", Title: redline, Game: "a8db", BuyPrice: 450}
	store.items["a8db"] = []domain.ItemRecord{domain.NewItemRecord(redline, "a8db", flatSales(500, 20), 20)}

	l := newTestLoop(m, loopOpts{store: store})
	l.Restore()

	if sm, ok := l.sells["asset-9"]; !ok || sm.Purchase != 450 {
		t.Fatalf("restored sell machine = %+v", sm)
	}
	if l.cache.History().Seq != 1 {
		t.Error("stored history should be published")
	}

	m.fills = []domain.Fill{{
		Handle: domain.OrderHandle{ID: "old-target"}, Title: vulcan, Game: "a8db",
		Side: domain.SideBuy, AssetID: "asset-7", Price: 900, At: testNow.Add(-time.Hour),
	}}
	l.lastFill = testNow.Add(-fillLookback)
	l.PollFills(context.Background())
	l.PollFills(context.Background())

	if _, ok := l.sells["asset-7"]; !ok {
		t.Error("polled buy fill should open a sell machine")
	}
	if len(l.sells) != 2 {
		t.Errorf("sell machines = %d, want 2", len(l.sells))
	}
	if !l.lastFill.Equal(testNow.Add(-time.Hour)) {
		t.Errorf("lastFill = %v", l.lastFill)
	}
}

func TestGameLoop_PollFillsSameSecond(t *testing.T) {
	m := marketWith(redline)
	l := newTestLoop(m, loopOpts{})
	l.lastFill = testNow.Add(-fillLookback)

	closed := testNow.Add(-time.Minute)
	buyA := domain.Fill{
		Handle: domain.OrderHandle{ID: "t-A"}, Title: redline, Game: "a8db",
		Side: domain.SideBuy, AssetID: "asset-A", Price: 481, At: closed,
	}
	m.fills = []domain.Fill{buyA}
	l.PollFills(context.Background())

	// closes in the same second as t-A, after the first poll
	m.fills = append(m.fills,
		domain.Fill{
			Handle: domain.OrderHandle{ID: "t-B"}, Title: redline, Game: "a8db",
			Side: domain.SideBuy, AssetID: "asset-B", Price: 481, At: closed,
		},
		domain.Fill{
			Handle: domain.OrderHandle{ID: "o-A"}, Title: redline, Game: "a8db",
			Side: domain.SideSell, AssetID: "asset-A", Price: 519, At: closed,
		},
	)
	l.PollFills(context.Background())
	l.PollFills(context.Background())

	if _, ok := l.sells["asset-B"]; !ok {
		t.Error("buy fill in the same second as a handled one should open a sell machine")
	}
	if _, ok := l.sells["asset-A"]; ok {
		t.Error("sold asset should not be reopened by a repeated buy fill")
	}
	if len(l.sells) != 1 {
		t.Errorf("sell machines = %d, want 1", len(l.sells))
	}
	if !l.lastFill.Equal(closed) {
		t.Errorf("lastFill = %v, want %v", l.lastFill, closed)
	}
}

func TestGameLoop_RunHandlesInboxAndStops(t *testing.T) {
	m := marketWith(redline)
	l := newTestLoop(m, loopOpts{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	l.Inbox() <- event.NewFillEvent(domain.Fill{
		Title: redline, Game: "a8db", Side: domain.SideBuy, AssetID: "asset-5", Price: 481, At: testNow,
	})

	deadline := time.After(2 * time.Second)
	for found := false; !found; {
		for _, mv := range l.Machines() {
			if mv.AssetID == "asset-5" {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fill event was not processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
