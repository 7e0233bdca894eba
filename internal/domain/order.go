package domain

import "time"

// Side of an order. Buy orders are DMarket "targets", sell orders are "offers".
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest describes an order to place. AssetID is set for sell orders only.
type OrderRequest struct {
	Game    string
	Title   string
	Side    Side
	Price   Cents
	AssetID string
}

// OrderHandle identifies a live order on the marketplace.
type OrderHandle struct {
	ID      string `json:"id"`
	Game    string `json:"game"`
	Side    Side   `json:"side"`
	AssetID string `json:"asset_id,omitempty"`
	Price   Cents  `json:"price"`
}

// ActiveOrder is an order the competition loop currently holds.
// At most one exists per (game, item) on the buy side and per asset on the sell side.
type ActiveOrder struct {
	ID        string      `json:"id"` // local id
	Handle    OrderHandle `json:"handle"`
	Title     string      `json:"title"`
	Game      string      `json:"game"`
	Side      Side        `json:"side"`
	AssetID   string      `json:"asset_id,omitempty"`
	Price     Cents       `json:"price"`
	PlacedAt  time.Time   `json:"placed_at"`
	BookStamp uint64      `json:"book_stamp"` // order-book generation the price came from
}

// Fill reports that an order executed.
type Fill struct {
	Handle  OrderHandle `json:"handle"`
	Title   string      `json:"title"`
	Game    string      `json:"game"`
	Side    Side        `json:"side"`
	AssetID string      `json:"asset_id"`
	Price   Cents       `json:"price"`
	At      time.Time   `json:"at"`
}
