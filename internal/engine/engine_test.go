package engine

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/copybot/internal/calculator"
	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/risk"
)

// fakeBooks 固定盘口
type fakeBooks struct {
	bids, asks []domain.BookLevel
	err        error
	calls      int
}

func (f *fakeBooks) FetchBook(ctx context.Context, tokenID string) ([]domain.BookLevel, []domain.BookLevel, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.bids, f.asks, nil
}

func normalBooks() *fakeBooks {
	return &fakeBooks{
		bids: []domain.BookLevel{{Price: 0.64, Size: 500}, {Price: 0.63, Size: 800}},
		asks: []domain.BookLevel{{Price: 0.65, Size: 500}, {Price: 0.66, Size: 800}},
	}
}

func testEngine(books BookFetcher, riskCfg risk.Config) (*Engine, *executor.PaperExecutor, *risk.Checker) {
	cfg := DefaultConfig()
	cfg.Calculator = calculator.Config{
		Method:         calculator.SizingTrader,
		TraderFraction: 0.10,
		MinOrderUSDC:   1.0,
		MinSizePolicy:  calculator.MinSizeSkip,
		OrderType:      domain.OrderTypeLimit,
		TimeInForce:    domain.TimeInForceGTC,
	}
	exec := executor.NewPaperExecutor(executor.PaperConfig{InitialBalance: 1000, FillRate: 1.0}, nil)
	checker := risk.NewChecker(riskCfg)
	eng := New(cfg, books, checker, exec, nil, nil)
	return eng, exec, checker
}

func sampleTrade() *domain.DetectedTrade {
	now := time.Now()
	return &domain.DetectedTrade{
		ID:              "tx:0",
		Trader:          "0xabc",
		TokenID:         "tok",
		Side:            domain.SideBuy,
		Size:            100,
		Price:           0.65,
		UsdcSize:        65,
		Source:          domain.SourceOnchain,
		SourceTimestamp: now,
		DetectedAt:      now,
	}
}

func TestHandle_CopiesTrade(t *testing.T) {
	eng, exec, _ := testEngine(normalBooks(), risk.DefaultConfig())

	eng.handle(context.Background(), sampleTrade())

	pos, ok := exec.GetPosition("tok")
	if !ok {
		t.Fatalf("expected a position after copying")
	}
	// 100 * 0.10 = 10 份
	if pos.Quantity < 9.9 || pos.Quantity > 10.1 {
		t.Fatalf("quantity got=%v want≈10", pos.Quantity)
	}

	stats := eng.Stats()
	if stats.Detected != 1 || stats.Executed != 1 {
		t.Fatalf("stats got=%+v", stats)
	}
}

func TestStats_LatencyAggregation(t *testing.T) {
	eng, _, _ := testEngine(normalBooks(), risk.DefaultConfig())

	for _, ms := range []int64{30, 10, 50} {
		tr := sampleTrade()
		tr.DetectedAt = tr.SourceTimestamp.Add(time.Duration(ms) * time.Millisecond)
		eng.handle(context.Background(), tr)
	}

	stats := eng.Stats()
	if stats.LatencyMinMs != 10 || stats.LatencyMaxMs != 50 || stats.LatencyAvgMs != 30 {
		t.Fatalf("latency stats got=%+v", stats)
	}
}

func TestHandle_SkipsBelowMinimum(t *testing.T) {
	eng, exec, _ := testEngine(normalBooks(), risk.DefaultConfig())

	tr := sampleTrade()
	tr.Size = 1 // 0.1 份 * 0.65 < $1 最小单量
	eng.handle(context.Background(), tr)

	if _, ok := exec.GetPosition("tok"); ok {
		t.Fatalf("small trade must be skipped")
	}
	if got := eng.Stats().Skipped; got != 1 {
		t.Fatalf("skipped got=%d want=1", got)
	}
}

func TestHandle_BookFailureDegrades(t *testing.T) {
	// 盘口拉取失败时按触发价继续，而不是放弃
	eng, exec, _ := testEngine(&fakeBooks{err: context.DeadlineExceeded}, risk.DefaultConfig())

	eng.handle(context.Background(), sampleTrade())

	if _, ok := exec.GetPosition("tok"); !ok {
		t.Fatalf("expected degraded execution at trigger price")
	}
}

func TestHandle_SkipVolatileMarket(t *testing.T) {
	books := &fakeBooks{
		bids: []domain.BookLevel{{Price: 0.10, Size: 500}},
		asks: []domain.BookLevel{{Price: 0.90, Size: 500}}, // 巨大价差 → volatile
	}
	eng, exec, _ := testEngine(books, risk.DefaultConfig())
	eng.cfg.SkipVolatile = true

	eng.handle(context.Background(), sampleTrade())

	if _, ok := exec.GetPosition("tok"); ok {
		t.Fatalf("volatile market must be skipped")
	}
	if got := eng.Stats().Skipped; got != 1 {
		t.Fatalf("skipped got=%d want=1", got)
	}
}

func TestHandle_RiskRejection(t *testing.T) {
	riskCfg := risk.DefaultConfig()
	riskCfg.MaxTokenSpend = 0.01 // 任何买入都超限
	eng, exec, _ := testEngine(normalBooks(), riskCfg)

	eng.handle(context.Background(), sampleTrade())

	if _, ok := exec.GetPosition("tok"); ok {
		t.Fatalf("rejected order must not execute")
	}
	if got := eng.Stats().Rejected; got != 1 {
		t.Fatalf("rejected got=%d want=1", got)
	}
}

func TestHandle_KillSwitchLiquidatesOnce(t *testing.T) {
	eng, exec, checker := testEngine(normalBooks(), risk.DefaultConfig())
	eng.cfg.LiquidateOnKill = true

	// 先建仓
	eng.handle(context.Background(), sampleTrade())
	if _, ok := exec.GetPosition("tok"); !ok {
		t.Fatalf("setup: expected position")
	}

	checker.ActivateKillSwitch()

	tr := sampleTrade()
	tr.ID = "tx:1"
	eng.handle(context.Background(), tr)

	if _, ok := exec.GetPosition("tok"); ok {
		t.Fatalf("kill switch must liquidate all positions")
	}
	if got := eng.Stats().Rejected; got != 1 {
		t.Fatalf("rejected got=%d want=1", got)
	}

	// 再来一条不会重复清仓（CAS 只放行一次）
	tr2 := sampleTrade()
	tr2.ID = "tx:2"
	eng.handle(context.Background(), tr2)
	if got := eng.Stats().Rejected; got != 2 {
		t.Fatalf("rejected got=%d want=2", got)
	}
}
