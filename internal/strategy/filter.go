package strategy

import (
	"strings"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"
)

const day = 24 * time.Hour

// RejectReason explains why an item is not tradable.
type RejectReason string

const (
	ReasonNoHistory         RejectReason = "no_history"
	ReasonBlockedName       RejectReason = "blocked_name"
	ReasonAvgOutOfRange     RejectReason = "avg_price_out_of_range"
	ReasonNotEnoughSales    RejectReason = "not_enough_sales"
	ReasonLowRecentActivity RejectReason = "low_recent_activity"
	ReasonInactive          RejectReason = "inactive"
	ReasonShortHistory      RejectReason = "short_history"
	ReasonInternalError     RejectReason = "internal_error"
)

// Verdict is the filter outcome. Reason is empty when Eligible.
type Verdict struct {
	Eligible bool
	Reason   RejectReason
}

func reject(r RejectReason) Verdict { return Verdict{Reason: r} }

// Evaluate runs every eligibility check against item as of now.
// All checks must pass; the first failing one is reported.
func Evaluate(item domain.ItemRecord, cfg *infra.TradeConfig, now time.Time) Verdict {
	newest, ok := item.Newest()
	if !ok {
		return reject(ReasonNoHistory)
	}
	oldest, _ := item.Oldest()

	if IsBlockedName(item.Title, cfg.BadItems, cfg.BadItemsAllow) {
		return reject(ReasonBlockedName)
	}

	if item.AvgPrice < cfg.Prev.MinAvgPrice || item.AvgPrice > cfg.Prev.MaxAvgPrice {
		return reject(ReasonAvgOutOfRange)
	}

	b := cfg.Buy
	if len(item.Sales) < b.AllSales {
		return reject(ReasonNotEnoughSales)
	}

	window := now.Add(-time.Duration(b.DaysCount) * day)
	if item.CountSince(window) < b.SaleCount {
		return reject(ReasonLowRecentActivity)
	}

	if newest.Time.Before(now.Add(-time.Duration(b.LastSale)*day)) {
		return reject(ReasonInactive)
	}

	if oldest.Time.After(now.Add(-time.Duration(b.FirstSale) * day)) {
		return reject(ReasonShortHistory)
	}

	return Verdict{Eligible: true}
}

// IsBlockedName reports whether title contains a blocked token.
// Matching is case-insensitive. A title containing any allow entry is never blocked.
func IsBlockedName(title string, blocked, allow []string) bool {
	lower := strings.ToLower(title)
	hit := false
	for _, token := range blocked {
		if token != "" && strings.Contains(lower, strings.ToLower(token)) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, ok := range allow {
		if ok != "" && strings.Contains(lower, strings.ToLower(ok)) {
			return false
		}
	}
	return true
}
