package analyzer

import (
	"testing"

	"github.com/betbot/copybot/internal/domain"
)

func sampleBook() (bids, asks []domain.BookLevel) {
	asks = []domain.BookLevel{
		{Price: 0.6510, Size: 500},
		{Price: 0.6520, Size: 800},
		{Price: 0.6540, Size: 1200},
	}
	bids = []domain.BookLevel{
		{Price: 0.6490, Size: 400},
		{Price: 0.6480, Size: 600},
		{Price: 0.6460, Size: 900},
	}
	return bids, asks
}

func TestAnalyze_NormalBook(t *testing.T) {
	bids, asks := sampleBook()
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.65, 0)

	if got, want := snap.BestAsk, 0.6510; !approx(got, want) {
		t.Fatalf("BestAsk got=%v want=%v", got, want)
	}
	if got, want := snap.BestBid, 0.6490; !approx(got, want) {
		t.Fatalf("BestBid got=%v want=%v", got, want)
	}
	if got, want := snap.Midpoint, 0.65; !approx(got, want) {
		t.Fatalf("Midpoint got=%v want=%v", got, want)
	}
	if got, want := snap.Spread, 0.0020; !approx(got, want) {
		t.Fatalf("Spread got=%v want=%v", got, want)
	}
	if snap.SpreadBps <= 25 || snap.SpreadBps >= 40 {
		t.Fatalf("SpreadBps got=%v want in (25,40)", snap.SpreadBps)
	}
	if snap.Condition != domain.ConditionNormal {
		t.Fatalf("Condition got=%s want=normal", snap.Condition)
	}
	if snap.IsVolatile {
		t.Fatalf("normal book must not be volatile")
	}
}

func TestAnalyze_DepthNearBoundaryIncluded(t *testing.T) {
	// 1.00 * 1.01 边界档位应计入（这里构造恰好等于边界的档位）
	asks := []domain.BookLevel{
		{Price: 0.5000, Size: 100},
		{Price: 0.5050, Size: 200}, // 0.50*1.01 = 0.5050，恰好在边界
		{Price: 0.5100, Size: 999},
	}
	bids := []domain.BookLevel{
		{Price: 0.4950, Size: 300},
	}
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.5, 0)
	if got, want := snap.AskDepthNear, 300.0; !approx(got, want) {
		t.Fatalf("AskDepthNear got=%v want=%v", got, want)
	}
}

func TestWeightedFillPrice(t *testing.T) {
	asks := []domain.BookLevel{
		{Price: 0.50, Size: 100},
		{Price: 0.52, Size: 200},
	}
	price, filled := WeightedFillPrice(asks, 150)
	want := (100*0.50 + 50*0.52) / 150
	if !approx(price, want) {
		t.Fatalf("weighted price got=%v want=%v", price, want)
	}
	if !approx(filled, 150) {
		t.Fatalf("filled got=%v want=150", filled)
	}

	// 全部在第一档成交时加权价等于该档价格
	price, filled = WeightedFillPrice(asks, 80)
	if !approx(price, 0.50) || !approx(filled, 80) {
		t.Fatalf("first-level fill got price=%v filled=%v", price, filled)
	}

	// 吃穿盘口：按已消耗部分加权
	price, filled = WeightedFillPrice(asks, 1000)
	want = (100*0.50 + 200*0.52) / 300
	if !approx(price, want) || !approx(filled, 300) {
		t.Fatalf("exhausted book got price=%v filled=%v", price, filled)
	}
}

func TestAnalyze_EmptyBookIsStale(t *testing.T) {
	snap := Analyze(DefaultConfig(), "tok", nil, []domain.BookLevel{{Price: 0.5, Size: 10}}, 0.5, 0)
	if snap.Condition != domain.ConditionStale {
		t.Fatalf("Condition got=%s want=stale", snap.Condition)
	}
	if !snap.IsVolatile {
		t.Fatalf("stale book must be volatile")
	}
}

func TestAnalyze_WideSpread(t *testing.T) {
	// 2000bps 价差必须判为 wide_spread
	asks := []domain.BookLevel{{Price: 0.60, Size: 500}}
	bids := []domain.BookLevel{{Price: 0.49, Size: 500}}
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.55, 0)
	if snap.SpreadBps < 2000 {
		t.Fatalf("test setup: spreadBps=%v", snap.SpreadBps)
	}
	if snap.Condition != domain.ConditionWideSpread {
		t.Fatalf("Condition got=%s want=wide_spread", snap.Condition)
	}
}

func TestAnalyze_HighDivergence(t *testing.T) {
	// midpoint 0.65，ref 0.50 → 偏离 3000bps > 2500
	bids, asks := sampleBook()
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.50, 0)
	if snap.Condition != domain.ConditionHighDivergence {
		t.Fatalf("Condition got=%s want=high_divergence divergenceBps=%v", snap.Condition, snap.DivergenceBps)
	}
}

func TestAnalyze_ThinBookBeatsWideSpread(t *testing.T) {
	// 同时满足 thin_book 和 wide_spread 时 thin_book 优先
	asks := []domain.BookLevel{{Price: 0.60, Size: 10}}
	bids := []domain.BookLevel{{Price: 0.40, Size: 10}}
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.5, 0)
	if snap.Condition != domain.ConditionThinBook {
		t.Fatalf("Condition got=%s want=thin_book", snap.Condition)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	bids, asks := sampleBook()
	a := Analyze(DefaultConfig(), "tok", bids, asks, 0.65, 300)
	b := Analyze(DefaultConfig(), "tok", bids, asks, 0.65, 300)
	if a != b {
		t.Fatalf("Analyze not idempotent: %+v vs %+v", a, b)
	}
}

func TestRecommendedPriceAndDepthRatio(t *testing.T) {
	bids, asks := sampleBook()
	snap := Analyze(DefaultConfig(), "tok", bids, asks, 0.65, 600)

	// targetSize=600 时 BUY 推荐加权 ask 价
	want := (500*0.6510 + 100*0.6520) / 600
	if got := RecommendedPrice(&snap, domain.SideBuy); !approx(got, want) {
		t.Fatalf("RecommendedPrice(BUY) got=%v want=%v", got, want)
	}

	noSize := Analyze(DefaultConfig(), "tok", bids, asks, 0.65, 0)
	if got := RecommendedPrice(&noSize, domain.SideBuy); !approx(got, 0.6510) {
		t.Fatalf("RecommendedPrice(BUY, no size) got=%v want bestAsk", got)
	}
	if got := RecommendedPrice(&noSize, domain.SideSell); !approx(got, 0.6490) {
		t.Fatalf("RecommendedPrice(SELL, no size) got=%v want bestBid", got)
	}

	// ask 侧近端深度 2500：不足 5000 时按比例缩小
	if got := DepthRatio(&snap, domain.SideBuy, 5000); !approx(got, 0.5) {
		t.Fatalf("DepthRatio got=%v want=0.5", got)
	}
	if got := DepthRatio(&snap, domain.SideBuy, 100); got != 1 {
		t.Fatalf("DepthRatio got=%v want=1", got)
	}
}

func TestFromPrices_Degraded(t *testing.T) {
	snap := FromPrices(DefaultConfig(), "tok", 0.49, 0.51, 0.50)
	if snap.Condition != domain.ConditionNormal {
		t.Fatalf("Condition got=%s want=normal", snap.Condition)
	}
	if snap.AskDepthNear != 0 || snap.BidDepthNear != 0 {
		t.Fatalf("degraded snapshot must carry zero depth")
	}

	wide := FromPrices(DefaultConfig(), "tok", 0.40, 0.60, 0.50)
	if wide.Condition != domain.ConditionWideSpread {
		t.Fatalf("Condition got=%s want=wide_spread", wide.Condition)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
