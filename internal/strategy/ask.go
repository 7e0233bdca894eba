package strategy

import (
	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"
)

// PriceRange bounds an ask. Min is the profit floor.
type PriceRange struct {
	Min domain.Cents
	Max domain.Cents
}

// ComputeAsk returns [purchase·(1+min_percent), purchase·(1+max_percent)],
// rounding Min up and Max down so both stay inside the configured band.
func ComputeAsk(purchase domain.Cents, cfg *infra.TradeConfig) PriceRange {
	r := PriceRange{
		Min: ceilCents(scale(purchase, cfg.Sell.MinPercent)),
		Max: floorCents(scale(purchase, cfg.Sell.MaxPercent)),
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r
}

// AskPrice undercuts the best competing ask by one cent inside r.
// bestCompeting <= 0 means nobody else is selling, so ask the maximum.
// Undercutting below r.Min pins the ask at r.Min.
func AskPrice(r PriceRange, bestCompeting domain.Cents) domain.Cents {
	if bestCompeting <= 0 {
		return r.Max
	}
	price := bestCompeting - 1
	if price < r.Min {
		return r.Min
	}
	if price > r.Max {
		return r.Max
	}
	return price
}
