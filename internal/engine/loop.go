package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/event"
	"dmarket_go/internal/infra"
	"dmarket_go/internal/service"
	"dmarket_go/internal/strategy"

	"github.com/google/uuid"
)

const (
	// fills older than this are not replayed at start-up
	fillLookback    = 24 * time.Hour
	shutdownTimeout = 30 * time.Second

	reasonNotTracked  = "not_tracked"
	reasonOrderFailed = "order_failed"
)

// LoopDeps wires a GameLoop. Store and OnUpdate are optional.
type LoopDeps struct {
	Game     string
	Config   *infra.TradeConfig
	Market   domain.Marketplace
	Gateway  *OrderGateway
	Pricer   strategy.Pricer
	Cache    *service.MarketCache
	Balance  *domain.BalanceGuard
	Store    domain.TradeStore
	Metrics  *infra.Metrics
	OnUpdate func(*event.OrderStateEvent)
	Now      func() time.Time
}

type loopView struct {
	Machines []MachineView
	Orders   []domain.ActiveOrder
}

// GameLoop runs the competition cycle of one game.
// All machine state is owned by the goroutine running Run; other goroutines
// only read the view published after each step.
type GameLoop struct {
	game     string
	cfg      *infra.TradeConfig
	market   domain.Marketplace
	gateway  *OrderGateway
	pricer   strategy.Pricer
	cache    *service.MarketCache
	balance  *domain.BalanceGuard
	store    domain.TradeStore
	metrics  *infra.Metrics
	onUpdate func(*event.OrderStateEvent)
	now      func() time.Time

	inbox    chan event.Event
	buys     map[string]*Machine // by title
	sells    map[string]*Machine // by asset id
	lastFill time.Time
	atLast   map[string]struct{} // fills already handled at lastFill

	view   atomic.Pointer[loopView]
	logger *slog.Logger
}

// NewGameLoop creates a loop. Call Run to start it.
func NewGameLoop(d LoopDeps) *GameLoop {
	if d.Metrics == nil {
		d.Metrics = infra.GlobalMetrics
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Cache == nil {
		d.Cache = service.NewMarketCache(d.Game)
	}
	l := &GameLoop{
		game:     d.Game,
		cfg:      d.Config,
		market:   d.Market,
		gateway:  d.Gateway,
		pricer:   d.Pricer,
		cache:    d.Cache,
		balance:  d.Balance,
		store:    d.Store,
		metrics:  d.Metrics,
		onUpdate: d.OnUpdate,
		now:      d.Now,
		inbox:    make(chan event.Event, 256),
		buys:     make(map[string]*Machine),
		sells:    make(map[string]*Machine),
		atLast:   make(map[string]struct{}),
		logger:   slog.Default().With(slog.String("module", "loop"), slog.String("game", d.Game)),
	}
	l.view.Store(&loopView{})
	return l
}

// Inbox returns the event channel. External notifiers send fills here.
func (l *GameLoop) Inbox() chan<- event.Event {
	return l.inbox
}

// Game returns the game id.
func (l *GameLoop) Game() string {
	return l.game
}

// Cache returns the market cache of this game.
func (l *GameLoop) Cache() *service.MarketCache {
	return l.cache
}

// Run restores state, then drives the refresh timers until ctx is done.
// It MUST be run in a single goroutine. Live orders are withdrawn on exit.
func (l *GameLoop) Run(ctx context.Context) {
	l.logger.Info("🚀 Game loop started")

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			l.DumpState(fmt.Sprintf("panic_dump_%s.json", l.game))
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	l.Restore()
	l.lastFill = l.now().Add(-fillLookback)

	go l.runHistory(ctx)

	timers := l.cfg.Timers
	ordersTicker := time.NewTicker(timers.OrdersInterval())
	defer ordersTicker.Stop()
	fillsTicker := time.NewTicker(timers.FillsInterval())
	defer fillsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Game loop stopping...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			l.WithdrawAll(shutdownCtx)
			cancel()
			return
		case <-ordersTicker.C:
			l.RefreshBook(ctx)
			l.RunCycle(ctx)
		case <-fillsTicker.C:
			l.PollFills(ctx)
		case ev := <-l.inbox:
			l.handleEvent(ctx, ev)
		}
	}
}

func (l *GameLoop) runHistory(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("History refresher panic recovered", slog.Any("panic", r))
		}
	}()

	l.RefreshHistory(ctx)

	ticker := time.NewTicker(l.cfg.Timers.PrevInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RefreshHistory(ctx)
		}
	}
}

func (l *GameLoop) handleEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case *event.FillEvent:
		l.HandleFill(ctx, e.Fill)
	default:
		l.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

// Restore loads the last persisted history and re-creates sell machines for
// bought assets that have not been sold yet.
func (l *GameLoop) Restore() {
	if l.store == nil {
		return
	}

	if l.cache.History().Seq == 0 {
		records, err := l.store.LoadItems(l.game)
		if err != nil {
			l.logger.Warn("Failed to load stored history", slog.Any("error", err))
		} else if len(records) > 0 {
			items := make(map[string]domain.ItemRecord, len(records))
			for _, r := range records {
				items[r.Title] = r
			}
			l.cache.PublishHistory(items)
			l.logger.Info("Restored history", slog.Int("items", len(items)))
		}
	}

	trades, err := l.store.UnsoldTrades(l.game)
	if err != nil {
		l.logger.Warn("Failed to load unsold trades", slog.Any("error", err))
		return
	}
	for _, t := range trades {
		if _, ok := l.sells[t.AssetID]; ok {
			continue
		}
		m := newSellMachine(l.game, t.Title, t.AssetID, t.BuyPrice)
		l.sells[t.AssetID] = m
		l.transition(m, StateIdle, "restored")
	}
	if len(trades) > 0 {
		l.logger.Info("Restored unsold assets", slog.Int("count", len(trades)))
	}
	l.publishView()
}

// RefreshHistory discovers titles in the average-price band and rebuilds the
// sale-history generation. Titles whose fetch fails keep their previous record.
// Safe to call from a goroutine other than Run.
func (l *GameLoop) RefreshHistory(ctx context.Context) {
	prev := l.cache.History()
	p := l.cfg.Prev

	titles, err := l.market.ListItems(ctx, l.game, p.MinAvgPrice, p.MaxAvgPrice, p.DiscoveryLimit)
	if err != nil {
		l.metrics.RecordRefreshFailure()
		l.logger.Warn("Item discovery failed, keeping previous titles",
			slog.Any("error", fmt.Errorf("%w: %w", domain.ErrDataUnavailable, err)))
		titles = l.cache.Titles()
	}
	if len(titles) == 0 {
		return
	}

	items := make(map[string]domain.ItemRecord, len(titles))
	failed := 0
	for _, title := range titles {
		if ctx.Err() != nil {
			return
		}
		if strategy.IsBlockedName(title, l.cfg.BadItems, l.cfg.BadItemsAllow) {
			continue
		}

		sales, err := l.market.FetchSalesHistory(ctx, l.game, title)
		if err != nil {
			failed++
			l.metrics.RecordRefreshFailure()
			if old, ok := prev.Items[title]; ok {
				items[title] = old
			}
			l.logger.Debug("Sales history unavailable", slog.String("title", title), slog.Any("error", err))
			continue
		}
		items[title] = domain.NewItemRecord(title, l.game, sales, p.HistorySize)
	}

	gen := l.cache.PublishHistory(items)
	l.logger.Info("History refreshed",
		slog.Uint64("generation", gen.Seq),
		slog.Int("items", len(items)),
		slog.Int("failed", failed),
	)

	if l.store != nil {
		records := make([]domain.ItemRecord, 0, len(items))
		for _, r := range items {
			records = append(records, r)
		}
		if err := l.store.SaveItems(l.game, records); err != nil {
			l.logger.Warn("Failed to persist history", slog.Any("error", err))
		}
	}
}

// RefreshBook fetches the order book of every tracked title and publishes a
// new generation. Titles whose fetch fails are left out, which leaves their
// orders untouched in the next cycle.
func (l *GameLoop) RefreshBook(ctx context.Context) {
	titles := l.trackedTitles()
	entries := make(map[string]domain.OrderBookEntry, len(titles))
	for _, title := range titles {
		if ctx.Err() != nil {
			return
		}
		entry, err := l.market.FetchOrderBook(ctx, l.game, title)
		if err != nil {
			l.metrics.RecordRefreshFailure()
			l.logger.Debug("Order book unavailable", slog.String("title", title), slog.Any("error", err))
			continue
		}
		entries[title] = entry
	}
	l.cache.PublishBook(entries)
}

func (l *GameLoop) trackedTitles() []string {
	set := make(map[string]struct{})
	for _, title := range l.cache.Titles() {
		set[title] = struct{}{}
	}
	for title, m := range l.buys {
		if m.Order != nil {
			set[title] = struct{}{}
		}
	}
	for _, m := range l.sells {
		set[m.Title] = struct{}{}
	}
	return sortedKeys(set)
}

// RunCycle re-evaluates every buy item and every unsold asset against one
// snapshot of the latest completed history and order-book generations.
func (l *GameLoop) RunCycle(ctx context.Context) {
	start := time.Now()
	snap := l.cache.Snapshot()

	set := make(map[string]struct{}, len(snap.History.Items)+len(l.buys))
	for title := range snap.History.Items {
		set[title] = struct{}{}
	}
	for title := range l.buys {
		set[title] = struct{}{}
	}

	for _, title := range sortedKeys(set) {
		if ctx.Err() != nil {
			return
		}
		l.evaluateBuy(ctx, title, snap)
	}

	assets := make([]string, 0, len(l.sells))
	for id := range l.sells {
		assets = append(assets, id)
	}
	sort.Strings(assets)
	for _, id := range assets {
		if ctx.Err() != nil {
			return
		}
		l.evaluateSell(ctx, l.sells[id], snap)
	}

	l.metrics.RecordCycle(time.Since(start).Nanoseconds())
	l.publishView()
}

func (l *GameLoop) evaluateBuy(ctx context.Context, title string, snap service.Snapshot) {
	m, ok := l.buys[title]
	if !ok {
		m = newBuyMachine(l.game, title)
		l.buys[title] = m
	}

	item, okH := snap.History.Items[title]
	entry, okB := snap.Book.Entries[title]
	if !okH {
		// dropped from a completed discovery: no longer a candidate
		if snap.History.Seq > 0 && m.Order != nil {
			l.retire(ctx, m, reasonNotTracked)
		}
		if m.Order == nil {
			delete(l.buys, title)
		}
		return
	}
	if !okB {
		return
	}

	l.transition(m, StateEvaluating, "")
	verdict := l.safeEvaluate(item)
	if !verdict.Eligible {
		l.retire(ctx, m, string(verdict.Reason))
		return
	}

	l.transition(m, StateBidding, "")
	spend := l.balance.Available() + m.price()
	bid := l.safeComputeBid(strategy.BidInput{Item: item, Book: entry, Balance: spend})
	if !bid.OK {
		if bid.Reason == strategy.NoBidInsufficientBalance && m.Order != nil {
			// the guard only blocks new bids
			l.transition(m, StateMonitoring, string(bid.Reason))
			return
		}
		l.retire(ctx, m, string(bid.Reason))
		return
	}

	if m.Order != nil && m.Order.Price == bid.Price {
		m.Order.BookStamp = snap.Book.Seq
		l.transition(m, StateMonitoring, "")
		return
	}

	l.placeBid(ctx, m, bid.Price, snap.Book.Seq)
}

func (l *GameLoop) placeBid(ctx context.Context, m *Machine, price domain.Cents, stamp uint64) {
	replaced := m.Order != nil
	if replaced {
		if err := l.gateway.Cancel(ctx, m.Order.Handle); err != nil {
			l.metrics.RecordError()
			l.logger.Warn("Failed to cancel bid for replacement", slog.String("title", m.Title), slog.Any("error", err))
			l.transition(m, StateMonitoring, reasonOrderFailed)
			return
		}
		l.balance.Release(m.Order.Price)
		m.Order = nil
	}

	if !l.balance.TryReserve(price, l.cfg.Buy.StopOrdersBalance) {
		if replaced {
			l.metrics.RecordWithdrawn()
		}
		l.logger.Info("Bid skipped", slog.String("title", m.Title), slog.Any("error", domain.ErrInsufficientBalance))
		l.transition(m, StateIdle, string(strategy.NoBidInsufficientBalance))
		return
	}

	h, err := l.gateway.Submit(ctx, domain.OrderRequest{Game: l.game, Title: m.Title, Side: domain.SideBuy, Price: price})
	if err != nil {
		l.balance.Release(price)
		l.recordSubmitFailure(m, replaced, err)
		return
	}

	m.Order = &domain.ActiveOrder{
		ID:        uuid.NewString(),
		Handle:    h,
		Title:     m.Title,
		Game:      l.game,
		Side:      domain.SideBuy,
		Price:     price,
		PlacedAt:  l.now(),
		BookStamp: stamp,
	}
	l.metrics.RecordBidPlaced(replaced)
	l.logger.Info("Bid placed", slog.String("title", m.Title), slog.String("price", price.String()), slog.Bool("replaced", replaced))
	l.transition(m, StateMonitoring, "")
}

func (l *GameLoop) evaluateSell(ctx context.Context, m *Machine, snap service.Snapshot) {
	entry, ok := snap.Book.Entries[m.Title]
	if !ok {
		return
	}

	l.transition(m, StateAsking, "")
	r, ok := l.safeComputeAsk(m)
	if !ok {
		l.transition(m, StateMonitoring, string(strategy.NoBidInternalError))
		return
	}

	best := entry.BestOfferPrice
	if m.Order != nil && best == m.Order.Price {
		// our own offer is the best ask
		m.Order.BookStamp = snap.Book.Seq
		l.transition(m, StateMonitoring, "")
		return
	}
	price := strategy.AskPrice(r, best)
	if m.Order != nil && m.Order.Price == price {
		m.Order.BookStamp = snap.Book.Seq
		l.transition(m, StateMonitoring, "")
		return
	}

	replaced := m.Order != nil
	if replaced {
		if err := l.gateway.Cancel(ctx, m.Order.Handle); err != nil {
			l.metrics.RecordError()
			l.logger.Warn("Failed to cancel ask for replacement", slog.String("asset_id", m.AssetID), slog.Any("error", err))
			l.transition(m, StateMonitoring, reasonOrderFailed)
			return
		}
		m.Order = nil
	}

	h, err := l.gateway.Submit(ctx, domain.OrderRequest{Game: l.game, Title: m.Title, Side: domain.SideSell, Price: price, AssetID: m.AssetID})
	if err != nil {
		l.recordSubmitFailure(m, replaced, err)
		return
	}

	m.Order = &domain.ActiveOrder{
		ID:        uuid.NewString(),
		Handle:    h,
		Title:     m.Title,
		Game:      l.game,
		Side:      domain.SideSell,
		AssetID:   m.AssetID,
		Price:     price,
		PlacedAt:  l.now(),
		BookStamp: snap.Book.Seq,
	}
	l.metrics.RecordAskPlaced(replaced)
	l.logger.Info("Ask placed",
		slog.String("title", m.Title),
		slog.String("asset_id", m.AssetID),
		slog.String("price", price.String()),
		slog.String("floor", r.Min.String()),
	)
	l.transition(m, StateMonitoring, "")
}

func (l *GameLoop) recordSubmitFailure(m *Machine, replaced bool, err error) {
	l.metrics.RecordRejected()
	if replaced {
		l.metrics.RecordWithdrawn()
	}
	if errors.Is(err, domain.ErrOrderRejected) {
		l.logger.Warn("Order rejected", slog.String("title", m.Title), slog.Any("error", err))
	} else {
		l.logger.Error("Order submission failed", slog.String("title", m.Title), slog.Any("error", err))
	}
	l.transition(m, StateIdle, reasonOrderFailed)
}

// retire withdraws the machine's order, if any, and parks it in Idle.
// A failed withdrawal keeps the order and retries on the next cycle.
func (l *GameLoop) retire(ctx context.Context, m *Machine, reason string) {
	if err := l.withdraw(ctx, m, reason); err != nil {
		l.transition(m, StateMonitoring, reason)
		return
	}
	l.transition(m, StateIdle, reason)
}

func (l *GameLoop) withdraw(ctx context.Context, m *Machine, reason string) error {
	if m.Order == nil {
		return nil
	}
	if err := l.gateway.Cancel(ctx, m.Order.Handle); err != nil {
		l.metrics.RecordError()
		l.logger.Warn("Withdraw failed", slog.String("title", m.Title), slog.Any("error", err))
		return err
	}
	if m.Side == domain.SideBuy {
		l.balance.Release(m.Order.Price)
	}
	m.Order = nil
	l.metrics.RecordWithdrawn()
	l.transition(m, StateWithdrawn, reason)
	return nil
}

// WithdrawAll cancels every live order of this loop.
func (l *GameLoop) WithdrawAll(ctx context.Context) {
	for _, title := range sortedKeys(l.buys) {
		if m := l.buys[title]; m.Order != nil {
			l.retire(ctx, m, "shutdown")
		}
	}
	for _, id := range sortedKeys(l.sells) {
		if m := l.sells[id]; m.Order != nil {
			l.retire(ctx, m, "shutdown")
		}
	}
	l.publishView()
}

// PollFills asks the marketplace for executed orders since the last poll.
func (l *GameLoop) PollFills(ctx context.Context) {
	fills, err := l.market.PollFills(ctx, l.game, l.lastFill)
	if err != nil {
		l.metrics.RecordRefreshFailure()
		l.logger.Warn("Fill poll failed", slog.Any("error", err))
		return
	}

	// the poll repeats fills closed in the same second as lastFill
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].At.Before(fills[j].At) })
	for _, f := range fills {
		key := fillKey(f)
		if f.At.Equal(l.lastFill) {
			if _, seen := l.atLast[key]; seen {
				continue
			}
		} else if f.At.After(l.lastFill) {
			l.lastFill = f.At
			clear(l.atLast)
		} else {
			continue
		}
		l.atLast[key] = struct{}{}
		l.HandleFill(ctx, f)
	}
}

func fillKey(f domain.Fill) string {
	return string(f.Side) + ":" + f.Handle.ID + ":" + f.AssetID
}

// HandleFill applies an executed order. A buy fill opens a sell machine for
// the bought asset; a sell fill closes it.
func (l *GameLoop) HandleFill(ctx context.Context, f domain.Fill) {
	defer l.publishView()

	switch f.Side {
	case domain.SideBuy:
		l.handleBuyFill(f)
	case domain.SideSell:
		l.handleSellFill(f)
	default:
		l.logger.Warn("Fill with unknown side", slog.Any("fill", f))
	}
}

func (l *GameLoop) handleBuyFill(f domain.Fill) {
	if m, ok := l.buys[f.Title]; ok && m.Order != nil && m.Order.Handle.ID == f.Handle.ID {
		l.balance.Release(m.Order.Price)
		m.Order = nil
		l.metrics.RecordOrderFilled()
		l.transition(m, StateFilled, "")
		l.transition(m, StateIdle, "")
	}

	if f.AssetID == "" {
		l.logger.Warn("Buy fill without asset id", slog.String("title", f.Title))
		return
	}
	if _, ok := l.sells[f.AssetID]; ok {
		return
	}

	if l.store != nil {
		rec, err := l.store.RecordPurchase(f)
		if err != nil {
			l.logger.Error("Failed to journal purchase", slog.String("asset_id", f.AssetID), slog.Any("error", err))
		} else if rec.Sold() {
			return
		}
	}

	m := newSellMachine(l.game, f.Title, f.AssetID, f.Price)
	l.sells[f.AssetID] = m
	l.logger.Info("Item bought", slog.String("title", f.Title), slog.String("asset_id", f.AssetID), slog.String("price", f.Price.String()))
	l.transition(m, StateIdle, "")
}

func (l *GameLoop) handleSellFill(f domain.Fill) {
	m, ok := l.sells[f.AssetID]
	if ok {
		if m.Order != nil {
			l.metrics.RecordOrderFilled()
		}
		m.Order = nil
		l.transition(m, StateFilled, "")
		delete(l.sells, f.AssetID)
		l.logger.Info("Item sold",
			slog.String("title", f.Title),
			slog.String("asset_id", f.AssetID),
			slog.String("bought", m.Purchase.String()),
			slog.String("sold", f.Price.String()),
		)
	}

	if l.store != nil {
		if err := l.store.RecordSale(f); err != nil {
			l.logger.Error("Failed to journal sale", slog.String("asset_id", f.AssetID), slog.Any("error", err))
		}
	}
}

func (l *GameLoop) safeEvaluate(item domain.ItemRecord) (v strategy.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordError()
			l.logger.Error("Filter panic recovered", slog.String("title", item.Title), slog.Any("panic", r))
			v = strategy.Verdict{Reason: strategy.ReasonInternalError}
		}
	}()
	return l.pricer.Evaluate(item, l.now())
}

func (l *GameLoop) safeComputeBid(in strategy.BidInput) (b strategy.Bid) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordError()
			l.logger.Error("Bid pricing panic recovered", slog.String("title", in.Item.Title), slog.Any("panic", r))
			b = strategy.Bid{Reason: strategy.NoBidInternalError}
		}
	}()
	return l.pricer.ComputeBid(in)
}

func (l *GameLoop) safeComputeAsk(m *Machine) (r strategy.PriceRange, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			l.metrics.RecordError()
			l.logger.Error("Ask pricing panic recovered", slog.String("asset_id", m.AssetID), slog.Any("panic", rec))
			ok = false
		}
	}()
	return l.pricer.ComputeAsk(m.Purchase), true
}

func (l *GameLoop) transition(m *Machine, to State, reason string) {
	m.State = to
	m.Reason = reason
	m.UpdatedAt = l.now()

	if l.onUpdate == nil || !to.settled() {
		return
	}
	price := m.price()
	if m.lastSent.ok && m.lastSent.state == to && m.lastSent.price == price {
		return
	}
	m.lastSent.state, m.lastSent.price, m.lastSent.ok = to, price, true

	l.onUpdate(&event.OrderStateEvent{
		BaseEvent: event.BaseEvent{Ts: m.UpdatedAt},
		Game:      l.game,
		Title:     m.Title,
		Side:      m.Side,
		AssetID:   m.AssetID,
		State:     to.String(),
		Price:     price,
		Reason:    reason,
	})
}

func (l *GameLoop) publishView() {
	v := &loopView{
		Machines: make([]MachineView, 0, len(l.buys)+len(l.sells)),
	}
	for _, title := range sortedKeys(l.buys) {
		m := l.buys[title]
		if m.Order == nil && m.State == StateIdle && m.Reason == "" {
			continue
		}
		v.Machines = append(v.Machines, m.view())
	}
	for _, id := range sortedKeys(l.sells) {
		v.Machines = append(v.Machines, l.sells[id].view())
	}
	for _, mv := range v.Machines {
		if mv.Order != nil {
			v.Orders = append(v.Orders, *mv.Order)
		}
	}
	l.view.Store(v)
}

// ActiveOrders returns the live orders as of the last completed step (external read).
func (l *GameLoop) ActiveOrders() []domain.ActiveOrder {
	v := l.view.Load()
	out := make([]domain.ActiveOrder, len(v.Orders))
	copy(out, v.Orders)
	return out
}

// Machines returns every non-trivial machine as of the last completed step (external read).
func (l *GameLoop) Machines() []MachineView {
	v := l.view.Load()
	out := make([]MachineView, len(v.Machines))
	copy(out, v.Machines)
	return out
}

// DumpState writes the loop's internal state to a file (for post-mortem).
func (l *GameLoop) DumpState(filename string) {
	l.logger.Info("Dumping internal state...", slog.String("file", filename))

	buys := make(map[string]MachineView, len(l.buys))
	for k, m := range l.buys {
		buys[k] = m.view()
	}
	sells := make(map[string]MachineView, len(l.sells))
	for k, m := range l.sells {
		sells[k] = m.view()
	}

	data := struct {
		Game       string                 `json:"game"`
		HistorySeq uint64                 `json:"history_seq"`
		BookSeq    uint64                 `json:"book_seq"`
		Balance    domain.BalanceSnapshot `json:"balance"`
		Buys       map[string]MachineView `json:"buys"`
		Sells      map[string]MachineView `json:"sells"`
	}{
		Game:       l.game,
		HistorySeq: l.cache.History().Seq,
		BookSeq:    l.cache.Book().Seq,
		Balance:    l.balance.Snapshot(),
		Buys:       buys,
		Sells:      sells,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		l.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		l.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
