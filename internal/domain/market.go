package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Cents is a marketplace price in US cents. All money in the hot path is
// integer cents; decimal is only used at the edges and for percent math.
type Cents int64

// CentsFromDollars converts a dollar amount to cents, rounding half away from zero.
func CentsFromDollars(d decimal.Decimal) Cents {
	return Cents(d.Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// Dollars returns the price as a decimal dollar amount.
func (c Cents) Dollars() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Dollars().StringFixed(2)
}

// SalePoint is one completed sale of an item.
type SalePoint struct {
	Price Cents     `json:"price"`
	Time  time.Time `json:"time"`
}

// ItemRecord is the sale history of one item, newest sale first.
// Records are rebuilt wholesale on each history refresh and never mutated.
type ItemRecord struct {
	Title    string      `json:"title"`
	Game     string      `json:"game"`
	Sales    []SalePoint `json:"sales"`
	AvgPrice Cents       `json:"avg_price"`
}

// NewItemRecord sorts sales newest first, keeps at most limit points
// (limit <= 0 keeps all) and derives the average price.
func NewItemRecord(title, game string, sales []SalePoint, limit int) ItemRecord {
	sorted := make([]SalePoint, len(sales))
	copy(sorted, sales)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	return ItemRecord{
		Title:    title,
		Game:     game,
		Sales:    sorted,
		AvgPrice: AveragePrice(sorted),
	}
}

// Newest returns the most recent sale.
func (r ItemRecord) Newest() (SalePoint, bool) {
	if len(r.Sales) == 0 {
		return SalePoint{}, false
	}
	return r.Sales[0], true
}

// Oldest returns the earliest recorded sale.
func (r ItemRecord) Oldest() (SalePoint, bool) {
	if len(r.Sales) == 0 {
		return SalePoint{}, false
	}
	return r.Sales[len(r.Sales)-1], true
}

// CountSince returns how many sales happened strictly after t.
func (r ItemRecord) CountSince(t time.Time) int {
	n := 0
	for _, s := range r.Sales {
		if s.Time.After(t) {
			n++
		}
	}
	return n
}

// AveragePrice is the floor of the arithmetic mean, 0 for no points.
func AveragePrice(sales []SalePoint) Cents {
	if len(sales) == 0 {
		return 0
	}
	var sum int64
	for _, s := range sales {
		sum += int64(s.Price)
	}
	return Cents(sum / int64(len(sales)))
}

// OrderBookEntry is the order-book view of one item at FetchedAt.
type OrderBookEntry struct {
	Title          string    `json:"title"`
	TopOrderPrice  Cents     `json:"top_order_price"`  // best buy order (first place)
	BestOfferPrice Cents     `json:"best_offer_price"` // lowest sell offer, 0 when none
	SellOfferCount int       `json:"sell_offer_count"`
	FetchedAt      time.Time `json:"fetched_at"`
}

func (e OrderBookEntry) String() string {
	return fmt.Sprintf("%s top=%s ask=%s offers=%d", e.Title, e.TopOrderPrice, e.BestOfferPrice, e.SellOfferCount)
}
