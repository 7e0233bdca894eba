package strategy_test

import (
	"testing"
	"time"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/strategy"
)

func TestEvaluate(t *testing.T) {
	cfg := testConfig()
	const title = "AK-47 | Redline (Field-Tested)"

	shifted := func(rec domain.ItemRecord, by time.Duration) domain.ItemRecord {
		sales := make([]domain.SalePoint, len(rec.Sales))
		for i, s := range rec.Sales {
			sales[i] = domain.SalePoint{Price: s.Price, Time: s.Time.Add(by)}
		}
		return domain.NewItemRecord(rec.Title, rec.Game, sales, 0)
	}

	tests := []struct {
		name string
		item domain.ItemRecord
		want strategy.RejectReason
	}{
		{"eligible", history(title, flat(500, 20)...), ""},
		{"no history", domain.NewItemRecord(title, "a8db", nil, 20), strategy.ReasonNoHistory},
		{"average below band", history(title, flat(299, 20)...), strategy.ReasonAvgOutOfRange},
		{"average above band", history(title, flat(5001, 20)...), strategy.ReasonAvgOutOfRange},
		{"too few sales", history(title, flat(500, 19)...), strategy.ReasonNotEnoughSales},
		{"blocked name", history("Sticker | Crown (Foil)", flat(500, 20)...), strategy.ReasonBlockedName},
		{"blocked name any case", history("SOUVENIR AWP | Dragon Lore", flat(500, 20)...), strategy.ReasonBlockedName},
		{"allow list wins", history("Souvenir AK-47 | Case Hardened", flat(500, 20)...), ""},
		{"inactive", shifted(history(title, flat(500, 20)...), -3*24*time.Hour), strategy.ReasonInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := strategy.Evaluate(tt.item, cfg, testNow)
			if v.Eligible != (tt.want == "") {
				t.Fatalf("Eligible = %v, reason %q, want reason %q", v.Eligible, v.Reason, tt.want)
			}
			if v.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.want)
			}
		})
	}
}

func TestEvaluate_RecentActivityAndShortHistory(t *testing.T) {
	cfg := testConfig()

	t.Run("low recent activity", func(t *testing.T) {
		// 3 sales this week, the rest 10+ days ago
		sales := []domain.SalePoint{}
		for i := 0; i < 3; i++ {
			sales = append(sales, domain.SalePoint{Price: 500, Time: testNow.Add(-time.Duration(i+1) * time.Hour)})
		}
		for i := 0; i < 17; i++ {
			sales = append(sales, domain.SalePoint{Price: 500, Time: testNow.Add(-10*24*time.Hour - time.Duration(i)*time.Hour)})
		}
		v := strategy.Evaluate(domain.NewItemRecord("x", "a8db", sales, 0), cfg, testNow)
		if v.Reason != strategy.ReasonLowRecentActivity {
			t.Errorf("Reason = %q, want %q", v.Reason, strategy.ReasonLowRecentActivity)
		}
	})

	t.Run("short history", func(t *testing.T) {
		// 20 sales within the last day
		sales := []domain.SalePoint{}
		for i := 0; i < 20; i++ {
			sales = append(sales, domain.SalePoint{Price: 500, Time: testNow.Add(-time.Duration(i+1) * time.Hour)})
		}
		v := strategy.Evaluate(domain.NewItemRecord("x", "a8db", sales, 0), cfg, testNow)
		if v.Reason != strategy.ReasonShortHistory {
			t.Errorf("Reason = %q, want %q", v.Reason, strategy.ReasonShortHistory)
		}
	})
}

func TestEvaluate_ZeroLastSaleRejectsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Buy.LastSale = 0

	// newest sale is 1h old
	v := strategy.Evaluate(history("AK-47 | Redline (Field-Tested)", flat(500, 20)...), cfg, testNow)
	if v.Eligible || v.Reason != strategy.ReasonInactive {
		t.Errorf("verdict = %+v, want %q", v, strategy.ReasonInactive)
	}
}

func TestEvaluate_AveragePriceBandAlwaysRejects(t *testing.T) {
	cfg := testConfig()
	for _, p := range []domain.Cents{1, 150, 299, 5001, 9000, 100000} {
		v := strategy.Evaluate(history("x", flat(p, 20)...), cfg, testNow)
		if v.Eligible {
			t.Errorf("avg %d accepted outside [%d, %d]", p, cfg.Prev.MinAvgPrice, cfg.Prev.MaxAvgPrice)
		}
	}
}

func TestIsBlockedName(t *testing.T) {
	blocked := []string{"Sticker", "case"}
	allow := []string{"Case Hardened"}

	tests := []struct {
		title string
		want  bool
	}{
		{"Sticker | Team Liquid", true},
		{"Operation Breakout Weapon Case", true},
		{"AK-47 | Case Hardened (Minimal Wear)", false},
		{"AWP | Asiimov (Field-Tested)", false},
	}

	for _, tt := range tests {
		if got := strategy.IsBlockedName(tt.title, blocked, allow); got != tt.want {
			t.Errorf("IsBlockedName(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}
