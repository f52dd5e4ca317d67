package calculator

import (
	"testing"

	"github.com/betbot/copybot/internal/analyzer"
	"github.com/betbot/copybot/internal/domain"
)

func buyTrade(size, price float64) *domain.DetectedTrade {
	return &domain.DetectedTrade{
		TokenID: "tok",
		Side:    domain.SideBuy,
		Size:    size,
		Price:   price,
	}
}

func deepSnap(t *testing.T) domain.MarketSnapshot {
	t.Helper()
	asks := []domain.BookLevel{{Price: 0.50, Size: 10000}}
	bids := []domain.BookLevel{{Price: 0.49, Size: 10000}}
	return analyzer.Analyze(analyzer.DefaultConfig(), "tok", bids, asks, 0.50, 0)
}

func TestCalculate_TraderFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraderFraction = 0.1
	cfg.MinOrderUSDC = 0

	snap := deepSnap(t)
	spec, reason := Calculate(cfg, buyTrade(1000, 0.50), &snap, StateView{Balance: 10000})
	if spec == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if got, want := spec.Size, 100.0; !approx(got, want) {
		t.Fatalf("Size got=%v want=%v", got, want)
	}
	if got, want := spec.Price, 0.50; !approx(got, want) {
		t.Fatalf("Price got=%v want=%v (recommended ask)", got, want)
	}
}

func TestCalculate_PortfolioPercentage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = SizingPortfolio
	cfg.PortfolioPercentage = 0.02
	cfg.MinOrderUSDC = 0

	snap := deepSnap(t)
	spec, reason := Calculate(cfg, buyTrade(1000, 0.50), &snap, StateView{Balance: 1000})
	if spec == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	// 1000 * 0.02 / 0.50 = 40 份
	if got, want := spec.Size, 40.0; !approx(got, want) {
		t.Fatalf("Size got=%v want=%v", got, want)
	}
}

func TestCalculate_DepthScaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraderFraction = 1.0
	cfg.MinOrderUSDC = 0

	// ask 近端深度只有 50，目标 100 → 缩到 50
	asks := []domain.BookLevel{{Price: 0.50, Size: 50}}
	bids := []domain.BookLevel{{Price: 0.49, Size: 500}}
	snap := analyzer.Analyze(analyzer.DefaultConfig(), "tok", bids, asks, 0.50, 0)

	spec, reason := Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000})
	if spec == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if got, want := spec.Size, 50.0; !approx(got, want) {
		t.Fatalf("Size got=%v want=%v", got, want)
	}
}

func TestCalculate_PriceOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriceOffsetBps = 100 // 1%
	cfg.MinOrderUSDC = 0

	snap := deepSnap(t)
	spec, _ := Calculate(cfg, buyTrade(1000, 0.50), &snap, StateView{Balance: 10000})
	if spec == nil {
		t.Fatal("unexpected skip")
	}
	if got, want := spec.Price, 0.505; !approx(got, want) {
		t.Fatalf("BUY offset price got=%v want=%v", got, want)
	}

	sell := &domain.DetectedTrade{TokenID: "tok", Side: domain.SideSell, Size: 1000, Price: 0.50}
	spec, _ = Calculate(cfg, sell, &snap, StateView{Balance: 10000, HeldQty: 1000})
	if spec == nil {
		t.Fatal("unexpected skip")
	}
	// SELL 推荐价 bestBid=0.49，压价 1% → 0.4851
	if got, want := spec.Price, 0.49*0.99; !approx(got, want) {
		t.Fatalf("SELL offset price got=%v want=%v", got, want)
	}
}

func TestCalculate_Caps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraderFraction = 1.0
	cfg.MinOrderUSDC = 0
	cfg.MaxPositionPerToken = 120

	snap := deepSnap(t)
	spec, _ := Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000, HeldQty: 80})
	if spec == nil {
		t.Fatal("unexpected skip")
	}
	if got, want := spec.Size, 40.0; !approx(got, want) {
		t.Fatalf("capped size got=%v want=%v", got, want)
	}

	_, reason := Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000, HeldQty: 120})
	if reason != "token position cap reached" {
		t.Fatalf("reason got=%q", reason)
	}

	cfg.MaxPositionPerToken = 0
	cfg.MaxTotalPosition = 150
	spec, _ = Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000, TotalShares: 100})
	if spec == nil || !approx(spec.Size, 50.0) {
		t.Fatalf("total cap size got=%+v", spec)
	}
}

func TestCalculate_MinSizePolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraderFraction = 0.001
	cfg.MinOrderUSDC = 1.05
	cfg.MinSizePolicy = MinSizeSkip

	snap := deepSnap(t)
	spec, reason := Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000})
	if spec != nil {
		t.Fatalf("expected skip, got %+v", spec)
	}
	if reason == "" {
		t.Fatal("expected skip reason")
	}

	cfg.MinSizePolicy = MinSizeMinimum
	spec, _ = Calculate(cfg, buyTrade(100, 0.50), &snap, StateView{Balance: 10000})
	if spec == nil {
		t.Fatal("unexpected skip")
	}
	if !approx(spec.Size*spec.Price, 1.05) {
		t.Fatalf("min bump cost got=%v want=1.05", spec.Size*spec.Price)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
