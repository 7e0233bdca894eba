package strategy

import (
	"dmarket_go/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// scale returns price·(1+pct/100).
func scale(price domain.Cents, pct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(price)).Mul(hundred.Add(pct)).Div(hundred)
}

func floorCents(d decimal.Decimal) domain.Cents {
	return domain.Cents(d.Floor().IntPart())
}

func ceilCents(d decimal.Decimal) domain.Cents {
	return domain.Cents(d.Ceil().IntPart())
}

// meetsProfit reports whether selling at sale (after fee) instead of buying
// at buy yields at least profit percent:
//
//	sale·(100−fee) ≥ buy·(100+profit)
//
// Both sides are exact, so no rounding is involved.
func meetsProfit(sale, buy domain.Cents, fee, profit decimal.Decimal) bool {
	net := decimal.NewFromInt(int64(sale)).Mul(hundred.Sub(fee))
	need := decimal.NewFromInt(int64(buy)).Mul(hundred.Add(profit))
	return net.GreaterThanOrEqual(need)
}
