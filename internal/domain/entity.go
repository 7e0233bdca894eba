package domain

import (
	"time"
)

// ItemSnapshot is the persisted form of an ItemRecord
type ItemSnapshot struct {
	Title     string      `gorm:"primaryKey;size:255" json:"title"`
	Game      string      `gorm:"primaryKey;size:16" json:"game"`
	Sales     []SalePoint `gorm:"serializer:json" json:"sales"`
	AvgPrice  Cents       `json:"avg_price"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TradeRecord journals one bought asset and, once sold, its sale.
type TradeRecord struct {
	AssetID   string     `gorm:"primaryKey;size:64" json:"asset_id"`
	Title     string     `gorm:"index;size:255" json:"title"`
	Game      string     `gorm:"index;size:16" json:"game"`
	TargetID  string     `json:"target_id"`
	BuyPrice  Cents      `json:"buy_price"`
	BuyTime   time.Time  `json:"buy_time"`
	OfferID   string     `json:"offer_id"`
	SellPrice Cents      `json:"sell_price"`
	SellTime  *time.Time `json:"sell_time"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Sold reports whether the asset has been sold.
func (r TradeRecord) Sold() bool {
	return r.SellTime != nil
}
