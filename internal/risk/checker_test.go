package risk

import (
	"strings"
	"testing"

	"github.com/betbot/copybot/internal/domain"
)

func buySpec(size, price float64) *domain.OrderSpec {
	return &domain.OrderSpec{
		TokenID:  "tok",
		MarketID: "mkt",
		Side:     domain.SideBuy,
		Size:     size,
		Price:    price,
	}
}

func freshState(balance float64) *domain.TradingState {
	return &domain.TradingState{
		Balance:   balance,
		Positions: map[string]float64{},
	}
}

func TestCheck_ApprovedClean(t *testing.T) {
	c := NewChecker(DefaultConfig())
	res := c.Check(buySpec(10, 0.50), freshState(1000))
	if !res.Approved {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
	if res.Level != LevelLow {
		t.Fatalf("Level got=%s want=low", res.Level)
	}
}

func TestCheck_TotalLossLatchesKillSwitch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalLoss = 500
	c := NewChecker(cfg)

	state := freshState(1000)
	state.TotalPnL = -500

	res := c.Check(buySpec(10, 0.50), state)
	if res.Approved {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(res.Reason, "Total loss limit exceeded") {
		t.Fatalf("Reason got=%q", res.Reason)
	}
	if !c.KillSwitchActive() {
		t.Fatal("kill switch must latch")
	}

	// 后续任何订单都被 kill switch 拒绝，即使 PnL 恢复
	state.TotalPnL = 0
	res = c.Check(buySpec(10, 0.50), state)
	if res.Approved || res.Reason != "KILL SWITCH ACTIVE" {
		t.Fatalf("latched check got approved=%v reason=%q", res.Approved, res.Reason)
	}

	c.ClearKillSwitch()
	if res := c.Check(buySpec(10, 0.50), state); !res.Approved {
		t.Fatalf("after clear: %s", res.Reason)
	}
}

func TestCheck_DailyLossRejectsWithoutLatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLoss = 100
	c := NewChecker(cfg)

	state := freshState(1000)
	state.DailyPnL = -100

	res := c.Check(buySpec(10, 0.50), state)
	if res.Approved || !strings.Contains(res.Reason, "Daily loss limit exceeded") {
		t.Fatalf("got approved=%v reason=%q", res.Approved, res.Reason)
	}
	if c.KillSwitchActive() {
		t.Fatal("daily loss must not latch kill switch")
	}
}

func TestCheck_BalanceGateOnlyForBuys(t *testing.T) {
	c := NewChecker(DefaultConfig())

	state := freshState(0)
	state.Positions["tok"] = 100

	res := c.Check(buySpec(10, 0.50), state)
	if res.Approved || !strings.Contains(res.Reason, "Insufficient balance") {
		t.Fatalf("BUY with zero balance got approved=%v reason=%q", res.Approved, res.Reason)
	}

	// 余额为零也必须允许卖出已持有的份额
	sell := &domain.OrderSpec{TokenID: "tok", Side: domain.SideSell, Size: 10, Price: 0.50}
	res = c.Check(sell, state)
	if !res.Approved {
		t.Fatalf("SELL rejected: %s", res.Reason)
	}
}

func TestCheck_SpendLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokenSpend = 100
	cfg.MaxMarketSpend = 150
	c := NewChecker(cfg)

	state := freshState(10000)
	state.Spend.TokenSpend = map[string]float64{"tok": 95}
	state.Spend.MarketSpend = map[string]float64{"mkt": 100}

	res := c.Check(buySpec(20, 0.50), state) // cost 10，token 95+10 > 100
	if res.Approved || !strings.Contains(res.Reason, "Token spend limit") {
		t.Fatalf("got approved=%v reason=%q", res.Approved, res.Reason)
	}

	state.Spend.TokenSpend["tok"] = 0
	state.Spend.MarketSpend["mkt"] = 145
	res = c.Check(buySpec(20, 0.50), state) // market 145+10 > 150
	if res.Approved || !strings.Contains(res.Reason, "Market spend limit") {
		t.Fatalf("got approved=%v reason=%q", res.Approved, res.Reason)
	}

	// 无市场 ID 时市场限额不生效
	spec := buySpec(20, 0.50)
	spec.MarketID = ""
	if res := c.Check(spec, state); !res.Approved {
		t.Fatalf("no-market spec rejected: %s", res.Reason)
	}
}

func TestCheck_HoldingsLimitAndOversell(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalHoldingsLimit = 200
	c := NewChecker(cfg)

	state := freshState(10000)
	state.Spend.TotalHoldingsValue = 195

	res := c.Check(buySpec(20, 0.50), state)
	if res.Approved || !strings.Contains(res.Reason, "Total holdings limit") {
		t.Fatalf("got approved=%v reason=%q", res.Approved, res.Reason)
	}

	state.Spend.TotalHoldingsValue = 0
	state.Positions["tok"] = 5
	sell := &domain.OrderSpec{TokenID: "tok", Side: domain.SideSell, Size: 10, Price: 0.50}
	res = c.Check(sell, state)
	if res.Approved || !strings.Contains(res.Reason, "cannot sell more than held") {
		t.Fatalf("oversell got approved=%v reason=%q", res.Approved, res.Reason)
	}
}

func TestCheck_WarningsAndLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLoss = 100
	cfg.MaxTotalLoss = 500
	cfg.LowBalanceUSDC = 50
	c := NewChecker(cfg)

	// 单个告警 → medium
	state := freshState(1000)
	state.DailyPnL = -80
	res := c.Check(buySpec(10, 0.50), state)
	if !res.Approved || len(res.Warnings) != 1 || res.Level != LevelMedium {
		t.Fatalf("got approved=%v warnings=%v level=%s", res.Approved, res.Warnings, res.Level)
	}

	// 多个告警 → high：接近总亏损 + 低余额 + 大单
	state = freshState(40)
	state.TotalPnL = -300
	res = c.Check(buySpec(60, 0.50), state) // cost 30 >= 50% of 40
	if !res.Approved {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if len(res.Warnings) < 2 || res.Level != LevelHigh {
		t.Fatalf("warnings=%v level=%s", res.Warnings, res.Level)
	}
}
