package strategy

import (
	"sort"

	"dmarket_go/internal/domain"

	"github.com/shopspring/decimal"
)

// TrimmedAverage drops up to maxPoints sales priced more than boostPercent
// above the raw average, largest first, and averages what remains.
// The kept points are returned in their original (newest first) order.
func TrimmedAverage(sales []domain.SalePoint, boostPercent decimal.Decimal, maxPoints int) (domain.Cents, []domain.SalePoint) {
	if len(sales) == 0 {
		return 0, nil
	}

	var sum int64
	for _, s := range sales {
		sum += int64(s.Price)
	}
	raw := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(sales))))
	limit := raw.Mul(hundred.Add(boostPercent)).Div(hundred)

	var spikes []int
	for i, s := range sales {
		if decimal.NewFromInt(int64(s.Price)).GreaterThan(limit) {
			spikes = append(spikes, i)
		}
	}
	if len(spikes) == 0 || maxPoints <= 0 {
		return domain.AveragePrice(sales), sales
	}

	sort.SliceStable(spikes, func(a, b int) bool {
		return sales[spikes[a]].Price > sales[spikes[b]].Price
	})
	if len(spikes) > maxPoints {
		spikes = spikes[:maxPoints]
	}
	drop := make(map[int]struct{}, len(spikes))
	for _, i := range spikes {
		drop[i] = struct{}{}
	}

	kept := make([]domain.SalePoint, 0, len(sales)-len(drop))
	for i, s := range sales {
		if _, ok := drop[i]; !ok {
			kept = append(kept, s)
		}
	}
	return domain.AveragePrice(kept), kept
}
