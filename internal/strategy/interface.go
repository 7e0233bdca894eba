package strategy

import (
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"
)

// Pricer is the decision core the competition loop calls every cycle.
// Implementations must be pure: same inputs, same outputs, no I/O.
type Pricer interface {
	// Evaluate decides whether an item may be traded at all.
	Evaluate(item domain.ItemRecord, now time.Time) Verdict
	// ComputeBid returns the buy price for an eligible item, or a NoBid.
	ComputeBid(in BidInput) Bid
	// ComputeAsk returns the sell bounds for an asset bought at purchase.
	ComputeAsk(purchase domain.Cents) PriceRange
}

// Rules is the Pricer driven by TradeConfig thresholds.
type Rules struct {
	cfg *infra.TradeConfig
}

// NewRules binds the pricing rules to an immutable config.
func NewRules(cfg *infra.TradeConfig) *Rules {
	return &Rules{cfg: cfg}
}

func (r *Rules) Evaluate(item domain.ItemRecord, now time.Time) Verdict {
	return Evaluate(item, r.cfg, now)
}

func (r *Rules) ComputeBid(in BidInput) Bid {
	return ComputeBid(in, r.cfg)
}

func (r *Rules) ComputeAsk(purchase domain.Cents) PriceRange {
	return ComputeAsk(purchase, r.cfg)
}
