package executor

import (
	"context"
	"testing"

	"github.com/betbot/copybot/internal/domain"
)

func paperSpec(side domain.Side, size, price float64) *domain.OrderSpec {
	return &domain.OrderSpec{
		TokenID:     "tok",
		MarketID:    "mkt",
		Side:        side,
		Size:        size,
		Price:       price,
		OrderType:   domain.OrderTypeLimit,
		TimeInForce: domain.TimeInForceGTC,
	}
}

func TestPaperExecute_BuyWithSlippage(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 1000, SlippageBps: 100, FillRate: 1}
	p := NewPaperExecutor(cfg, nil)

	res := p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	if res.Status != domain.OrderStatusFilled {
		t.Fatalf("Status got=%s err=%s", res.Status, res.Error)
	}
	if got, want := res.AvgFillPrice, 0.505; !approx(got, want) {
		t.Fatalf("AvgFillPrice got=%v want=%v", got, want)
	}
	if got, want := res.SlippageBps, 100.0; !approx(got, want) {
		t.Fatalf("SlippageBps got=%v want=%v", got, want)
	}

	bal, _ := p.GetBalance(context.Background())
	if got, want := bal, 1000-100*0.505; !approx(got, want) {
		t.Fatalf("balance got=%v want=%v", got, want)
	}
	pos, ok := p.GetPosition("tok")
	if !ok || !approx(pos.Quantity, 100) || !approx(pos.AvgPrice, 0.505) {
		t.Fatalf("position got=%+v", pos)
	}
	if got := p.GetSpend().TokenSpend["tok"]; !approx(got, 50.5) {
		t.Fatalf("token spend got=%v want=50.5", got)
	}
}

func TestPaperExecute_FillRateTruncates(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 1000, FillRate: 0.5}
	p := NewPaperExecutor(cfg, nil)

	res := p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	if res.Status != domain.OrderStatusPartial {
		t.Fatalf("Status got=%s", res.Status)
	}
	if !approx(res.FilledSize, 50) || !approx(res.RemainingSize, 50) {
		t.Fatalf("filled=%v remaining=%v", res.FilledSize, res.RemainingSize)
	}
}

func TestPaperExecute_AffordableResize(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 10, FillRate: 1}
	p := NewPaperExecutor(cfg, nil)

	res := p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	if res.Status != domain.OrderStatusPartial {
		t.Fatalf("Status got=%s err=%s", res.Status, res.Error)
	}
	// 10 / 0.50 = 20 份
	if !approx(res.FilledSize, 20) {
		t.Fatalf("FilledSize got=%v want=20", res.FilledSize)
	}

	// 余额归零后再买必须失败
	res = p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	if res.Status != domain.OrderStatusFailed {
		t.Fatalf("Status got=%s want=failed", res.Status)
	}
}

func TestPaperExecute_SellRealizesPnL(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 1000, FillRate: 1}
	p := NewPaperExecutor(cfg, nil)

	p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	res := p.Execute(context.Background(), paperSpec(domain.SideSell, 100, 0.60))
	if res.Status != domain.OrderStatusFilled {
		t.Fatalf("Status got=%s err=%s", res.Status, res.Error)
	}

	state := p.State()
	if got, want := state.TotalPnL, 10.0; !approx(got, want) {
		t.Fatalf("TotalPnL got=%v want=%v", got, want)
	}
	if got, want := state.Balance, 1010.0; !approx(got, want) {
		t.Fatalf("Balance got=%v want=%v", got, want)
	}
	if _, ok := p.GetPosition("tok"); ok {
		t.Fatal("position must be removed at zero quantity")
	}
}

func TestPaperExecute_SellCapsAtHeld(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 1000, FillRate: 1}
	p := NewPaperExecutor(cfg, nil)

	p.Execute(context.Background(), paperSpec(domain.SideBuy, 100, 0.50))
	res := p.Execute(context.Background(), paperSpec(domain.SideSell, 150, 0.50))
	if !approx(res.FilledSize, 100) {
		t.Fatalf("FilledSize got=%v want=100", res.FilledSize)
	}

	res = p.Execute(context.Background(), paperSpec(domain.SideSell, 10, 0.50))
	if res.Status != domain.OrderStatusFailed {
		t.Fatalf("sell with no position got=%s", res.Status)
	}
}

func TestPaperSellAllPositions(t *testing.T) {
	cfg := PaperConfig{InitialBalance: 1000, FillRate: 1}
	p := NewPaperExecutor(cfg, func(string) float64 { return 0.70 })

	spec := paperSpec(domain.SideBuy, 100, 0.50)
	p.Execute(context.Background(), spec)
	other := paperSpec(domain.SideBuy, 50, 0.40)
	other.TokenID = "tok2"
	p.Execute(context.Background(), other)

	results := p.SellAllPositions(context.Background(), "kill switch")
	if len(results) != 2 {
		t.Fatalf("results got=%d want=2", len(results))
	}
	for _, res := range results {
		if res.Status != domain.OrderStatusFilled {
			t.Fatalf("Status got=%s err=%s", res.Status, res.Error)
		}
		if !approx(res.AvgFillPrice, 0.70) {
			t.Fatalf("AvgFillPrice got=%v want=0.70 (quoted)", res.AvgFillPrice)
		}
	}
	if len(p.GetAllPositions()) != 0 {
		t.Fatal("all positions must be closed")
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
