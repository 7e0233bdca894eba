package strategy

import (
	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"

	"github.com/shopspring/decimal"
)

// NoBidReason explains why no buy order should be held.
type NoBidReason string

const (
	NoBidNoHistory           NoBidReason = "no_history"
	NoBidEmptyBook           NoBidReason = "empty_order_book"
	NoBidUnprofitable        NoBidReason = "unprofitable_history"
	NoBidUnprofitableRecent  NoBidReason = "unprofitable_recent_average"
	NoBidAboveCeiling        NoBidReason = "above_ceiling"
	NoBidBelowMinPrice       NoBidReason = "below_min_price"
	NoBidAboveMaxPrice       NoBidReason = "above_max_price"
	NoBidTooManyOffers       NoBidReason = "too_many_offers"
	NoBidInsufficientBalance NoBidReason = "insufficient_balance"
	NoBidInternalError       NoBidReason = "internal_error"
)

// BidInput pairs one history record with one order-book entry.
// Balance is what the bid may spend: free balance plus the reservation
// of the order it would replace.
type BidInput struct {
	Item    domain.ItemRecord
	Book    domain.OrderBookEntry
	Balance domain.Cents
}

// Bid is the buy decision. Price is only meaningful when OK.
type Bid struct {
	Price      domain.Cents
	OK         bool
	Reason     NoBidReason
	TrimmedAvg domain.Cents
	Ceiling    domain.Cents // highest price that still meets profit_percent
	Floor      domain.Cents // lowest retreat allowed below the top order
}

// ComputeBid prices a buy order that outbids the current top order by one
// cent, bounded by max_threshold above it, as long as the trimmed history
// says the item can be resold at profit_percent after the sell fee.
func ComputeBid(in BidInput, cfg *infra.TradeConfig) Bid {
	b := cfg.Buy
	top := in.Book.TopOrderPrice

	if len(in.Item.Sales) == 0 {
		return Bid{Reason: NoBidNoHistory}
	}
	if top <= 0 {
		return Bid{Reason: NoBidEmptyBook}
	}

	avg, kept := TrimmedAverage(in.Item.Sales, b.BoostPercent, b.BoostPoints)
	res := Bid{TrimmedAvg: avg}

	good := 0
	for _, s := range kept {
		if meetsProfit(s.Price, top, b.SellFee, b.ProfitPercent) {
			good++
		}
	}
	required := decimal.NewFromInt(int64(len(kept))).Mul(b.GoodPointsPercent).Div(hundred).Ceil().IntPart()
	if int64(good) < required {
		res.Reason = NoBidUnprofitable
		return res
	}

	if b.Frequency {
		recent := kept
		if b.AvgPriceCount > 0 && len(recent) > b.AvgPriceCount {
			recent = recent[:b.AvgPriceCount]
		}
		if !meetsProfit(domain.AveragePrice(recent), top, b.SellFee, b.ProfitPercent) {
			res.Reason = NoBidUnprofitableRecent
			return res
		}
	}

	// ceiling = avg·(100−fee)/(100+profit)
	res.Ceiling = floorCents(decimal.NewFromInt(int64(avg)).
		Mul(hundred.Sub(b.SellFee)).
		Div(hundred.Add(b.ProfitPercent)))
	res.Floor = ceilCents(scale(top, b.MinThreshold.Neg()))

	outbid := top + 1
	if limit := floorCents(scale(top, b.MaxThreshold)); outbid > limit {
		outbid = max(limit, top)
	}

	var price domain.Cents
	switch {
	case outbid <= res.Ceiling:
		price = outbid
	case res.Ceiling >= res.Floor:
		price = res.Ceiling
	default:
		res.Reason = NoBidAboveCeiling
		return res
	}

	if avg < b.MinPrice || price < b.MinPrice {
		res.Reason = NoBidBelowMinPrice
		return res
	}
	if price > b.MaxPrice {
		price = b.MaxPrice
		if price < res.Floor {
			res.Reason = NoBidAboveMaxPrice
			return res
		}
	}

	if in.Book.SellOfferCount >= b.MaxCountSellOffers {
		res.Reason = NoBidTooManyOffers
		return res
	}

	if in.Balance-price <= b.StopOrdersBalance {
		res.Reason = NoBidInsufficientBalance
		return res
	}

	res.Price = price
	res.OK = true
	return res
}
