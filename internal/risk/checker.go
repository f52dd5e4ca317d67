// Package risk 下单前的同步风控闸门与线路熔断。
package risk

import (
	"fmt"
	"sync/atomic"

	"github.com/betbot/copybot/internal/domain"
)

// Level 风险等级
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Result 一次风控检查的结果
type Result struct {
	Approved bool
	Reason   string   // 仅拒绝时有值
	Warnings []string // 非阻塞告警，按触发顺序排列
	Level    Level
}

// Config 风控配置。约定：限额 <= 0 表示关闭对应规则。
type Config struct {
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`       // 当日最大亏损（USDC）
	MaxTotalLoss       float64 `yaml:"max_total_loss"`       // 总最大亏损（USDC），触发后闩锁
	MaxTokenSpend      float64 `yaml:"max_token_spend"`      // 单代币累计花费上限
	MaxMarketSpend     float64 `yaml:"max_market_spend"`     // 单市场累计花费上限
	TotalHoldingsLimit float64 `yaml:"total_holdings_limit"` // 总持仓价值上限
	LowBalanceUSDC     float64 `yaml:"low_balance_usdc"`     // 低余额告警阈值
	LargeOrderFraction float64 `yaml:"large_order_fraction"` // 大单告警：成本占余额比例
}

// DefaultConfig 默认风控
func DefaultConfig() Config {
	return Config{
		MaxDailyLoss:       100,
		MaxTotalLoss:       500,
		LowBalanceUSDC:     50,
		LargeOrderFraction: 0.5,
	}
}

// Checker 下单前风控。除 kill switch 闩锁外无副作用；
// 每次检查读取的是 TradingState 快照。
type Checker struct {
	cfg        Config
	killSwitch atomic.Bool
}

// NewChecker 创建风控检查器
func NewChecker(cfg Config) *Checker {
	if cfg.LargeOrderFraction <= 0 {
		cfg.LargeOrderFraction = 0.5
	}
	return &Checker{cfg: cfg}
}

// KillSwitchActive kill switch 是否已触发
func (c *Checker) KillSwitchActive() bool {
	return c.killSwitch.Load()
}

// ActivateKillSwitch 手动/规则触发 kill switch（闩锁，需显式清除）。
func (c *Checker) ActivateKillSwitch() {
	c.killSwitch.Store(true)
}

// ClearKillSwitch 人工清除闩锁
func (c *Checker) ClearKillSwitch() {
	c.killSwitch.Store(false)
}

// Check 按固定顺序评估规则：首个失败即拒绝；
// 全部通过时再收集非阻塞告警。
func (c *Checker) Check(spec *domain.OrderSpec, state *domain.TradingState) Result {
	cost := spec.Cost()

	// 1. kill switch
	if c.killSwitch.Load() {
		return rejected("KILL SWITCH ACTIVE")
	}

	// 2. 总亏损（触发后闩锁）
	if c.cfg.MaxTotalLoss > 0 && state.TotalPnL <= -c.cfg.MaxTotalLoss {
		c.killSwitch.Store(true)
		return rejected(fmt.Sprintf("Total loss limit exceeded: %.2f <= -%.2f", state.TotalPnL, c.cfg.MaxTotalLoss))
	}

	// 3. 当日亏损（不闩锁）
	if c.cfg.MaxDailyLoss > 0 && state.DailyPnL <= -c.cfg.MaxDailyLoss {
		return rejected(fmt.Sprintf("Daily loss limit exceeded: %.2f <= -%.2f", state.DailyPnL, c.cfg.MaxDailyLoss))
	}

	// 4. 余额（仅 BUY；SELL 永不做余额校验）
	if spec.Side == domain.SideBuy && cost > state.Balance {
		return rejected(fmt.Sprintf("Insufficient balance: need %.2f, have %.2f", cost, state.Balance))
	}

	// 5. 单代币花费
	if c.cfg.MaxTokenSpend > 0 && spec.Side == domain.SideBuy {
		if state.Spend.TokenSpend[spec.TokenID]+cost > c.cfg.MaxTokenSpend {
			return rejected(fmt.Sprintf("Token spend limit exceeded for %s", spec.TokenID))
		}
	}

	// 6. 单市场花费（只有订单带市场 ID 时生效）
	if c.cfg.MaxMarketSpend > 0 && spec.Side == domain.SideBuy && spec.MarketID != "" {
		if state.Spend.MarketSpend[spec.MarketID]+cost > c.cfg.MaxMarketSpend {
			return rejected(fmt.Sprintf("Market spend limit exceeded for %s", spec.MarketID))
		}
	}

	// 7. 总持仓价值
	if c.cfg.TotalHoldingsLimit > 0 && spec.Side == domain.SideBuy {
		if state.Spend.TotalHoldingsValue+cost > c.cfg.TotalHoldingsLimit {
			return rejected("Total holdings limit exceeded")
		}
	}

	// 8. 超卖（仅 SELL）
	if spec.Side == domain.SideSell {
		if held := state.HeldQuantity(spec.TokenID); spec.Size > held {
			return rejected(fmt.Sprintf("cannot sell more than held: %.4f > %.4f", spec.Size, held))
		}
	}

	return c.approved(spec, state, cost)
}

func (c *Checker) approved(spec *domain.OrderSpec, state *domain.TradingState, cost float64) Result {
	var warnings []string

	if c.cfg.MaxDailyLoss > 0 && state.DailyPnL <= -0.8*c.cfg.MaxDailyLoss {
		warnings = append(warnings, fmt.Sprintf("approaching daily loss limit: %.2f of %.2f", -state.DailyPnL, c.cfg.MaxDailyLoss))
	}
	if c.cfg.MaxTotalLoss > 0 && state.TotalPnL <= -0.6*c.cfg.MaxTotalLoss {
		warnings = append(warnings, fmt.Sprintf("approaching total loss limit: %.2f of %.2f", -state.TotalPnL, c.cfg.MaxTotalLoss))
	}
	if c.cfg.LowBalanceUSDC > 0 && state.Balance < c.cfg.LowBalanceUSDC {
		warnings = append(warnings, fmt.Sprintf("low balance: %.2f", state.Balance))
	}
	if spec.Side == domain.SideBuy && state.Balance > 0 && cost >= c.cfg.LargeOrderFraction*state.Balance {
		warnings = append(warnings, fmt.Sprintf("large order: %.2f is %.0f%% of balance", cost, cost/state.Balance*100))
	}

	return Result{
		Approved: true,
		Warnings: warnings,
		Level:    levelFor(len(warnings)),
	}
}

func levelFor(warnings int) Level {
	switch {
	case warnings == 0:
		return LevelLow
	case warnings == 1:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func rejected(reason string) Result {
	return Result{Approved: false, Reason: reason, Level: LevelHigh}
}
