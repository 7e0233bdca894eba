package service

import (
	"sort"
	"sync/atomic"
	"time"

	"dmarket_go/internal/domain"
)

// HistoryGeneration is one completed sale-history refresh. Immutable once published.
type HistoryGeneration struct {
	Seq     uint64
	BuiltAt time.Time
	Items   map[string]domain.ItemRecord
}

// BookGeneration is one completed order-book refresh. Immutable once published.
type BookGeneration struct {
	Seq     uint64
	BuiltAt time.Time
	Entries map[string]domain.OrderBookEntry
}

// Snapshot pairs the latest completed generation of each refresh.
type Snapshot struct {
	History *HistoryGeneration
	Book    *BookGeneration
}

// Item returns the history and book entry of title from the same snapshot.
func (s Snapshot) Item(title string) (domain.ItemRecord, domain.OrderBookEntry, bool) {
	item, okH := s.History.Items[title]
	entry, okB := s.Book.Entries[title]
	return item, entry, okH && okB
}

// MarketCache holds the market data of one game.
// Refreshers build a whole generation off to the side and swap it in with one
// atomic store, so readers never see a refresh in progress.
type MarketCache struct {
	game    string
	history atomic.Pointer[HistoryGeneration]
	book    atomic.Pointer[BookGeneration]
	histSeq atomic.Uint64
	bookSeq atomic.Uint64
}

// NewMarketCache creates a cache with empty generations (Seq 0).
func NewMarketCache(game string) *MarketCache {
	c := &MarketCache{game: game}
	c.history.Store(&HistoryGeneration{Items: map[string]domain.ItemRecord{}})
	c.book.Store(&BookGeneration{Entries: map[string]domain.OrderBookEntry{}})
	return c
}

// Game returns the game this cache belongs to.
func (c *MarketCache) Game() string {
	return c.game
}

// PublishHistory installs items as the new history generation.
// The caller must not touch items afterwards.
func (c *MarketCache) PublishHistory(items map[string]domain.ItemRecord) *HistoryGeneration {
	gen := &HistoryGeneration{
		Seq:     c.histSeq.Add(1),
		BuiltAt: time.Now(),
		Items:   items,
	}
	c.history.Store(gen)
	return gen
}

// PublishBook installs entries as the new order-book generation.
// The caller must not touch entries afterwards.
func (c *MarketCache) PublishBook(entries map[string]domain.OrderBookEntry) *BookGeneration {
	gen := &BookGeneration{
		Seq:     c.bookSeq.Add(1),
		BuiltAt: time.Now(),
		Entries: entries,
	}
	c.book.Store(gen)
	return gen
}

// History returns the latest completed history generation.
func (c *MarketCache) History() *HistoryGeneration {
	return c.history.Load()
}

// Book returns the latest completed order-book generation.
func (c *MarketCache) Book() *BookGeneration {
	return c.book.Load()
}

// Snapshot loads both generations once; use it for a whole evaluation cycle.
func (c *MarketCache) Snapshot() Snapshot {
	return Snapshot{History: c.history.Load(), Book: c.book.Load()}
}

// Titles returns the titles of the latest history generation sorted by name.
func (c *MarketCache) Titles() []string {
	items := c.history.Load().Items
	result := make([]string, 0, len(items))
	for title := range items {
		result = append(result, title)
	}

	// Sort for consistent ordering
	sort.Strings(result)
	return result
}
