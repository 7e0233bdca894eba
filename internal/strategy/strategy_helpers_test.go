package strategy_test

import (
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/infra"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testConfig() *infra.TradeConfig {
	return &infra.TradeConfig{
		Games:         []string{"a8db"},
		BadItems:      []string{"Sticker", "Souvenir"},
		BadItemsAllow: []string{"Case Hardened"},
		Timers:        infra.TimersConfig{PrevBase: 3600, OrdersBase: 60, FillsBase: 120},
		Prev:          infra.PrevParams{MinAvgPrice: 300, MaxAvgPrice: 5000, HistorySize: 20, DiscoveryLimit: 100},
		Buy: infra.BuyParams{
			MinPrice:           100,
			MaxPrice:           3000,
			ProfitPercent:      d(3),
			GoodPointsPercent:  d(50),
			AllSales:           20,
			DaysCount:          7,
			SaleCount:          5,
			LastSale:           2,
			FirstSale:          3,
			MaxCountSellOffers: 30,
			BoostPercent:       d(20),
			BoostPoints:        2,
			MaxThreshold:       d(1),
			MinThreshold:       d(5),
			StopOrdersBalance:  1000,
			AvgPriceCount:      10,
			SellFee:            decimal.Zero,
		},
		Sell: infra.SellParams{MinPercent: d(4), MaxPercent: d(12)},
	}
}

// history builds one sale every 6h starting 1h ago, newest first.
func history(title string, prices ...domain.Cents) domain.ItemRecord {
	sales := make([]domain.SalePoint, len(prices))
	for i, p := range prices {
		sales[i] = domain.SalePoint{Price: p, Time: testNow.Add(-time.Hour - time.Duration(i)*6*time.Hour)}
	}
	return domain.NewItemRecord(title, "a8db", sales, 0)
}

func flat(price domain.Cents, n int) []domain.Cents {
	out := make([]domain.Cents, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func book(top domain.Cents) domain.OrderBookEntry {
	return domain.OrderBookEntry{Title: "AK-47 | Redline (Field-Tested)", TopOrderPrice: top, SellOfferCount: 5, FetchedAt: testNow}
}
