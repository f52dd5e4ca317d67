package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
)

// PaperConfig 模拟盘配置
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"` // 初始余额（USDC）
	SlippageBps    float64 `yaml:"slippage_bps"`    // 定向滑点：BUY 付更多，SELL 收更少
	FillRate       float64 `yaml:"fill_rate"`       // 成交比例 (0,1]，截断下单数量
}

// DefaultPaperConfig 默认模拟盘
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialBalance: 1000,
		SlippageBps:    20,
		FillRate:       1.0,
	}
}

// PaperExecutor 确定性的同步模拟执行器。无网络、无重试。
type PaperExecutor struct {
	cfg    PaperConfig
	book   *positionBook
	prices PriceSource // 清仓价来源，可为 nil
}

// NewPaperExecutor prices 可为 nil（清仓时退回持仓均价）。
func NewPaperExecutor(cfg PaperConfig, prices PriceSource) *PaperExecutor {
	if cfg.FillRate <= 0 || cfg.FillRate > 1 {
		cfg.FillRate = 1
	}
	return &PaperExecutor{
		cfg:    cfg,
		book:   newPositionBook(cfg.InitialBalance),
		prices: prices,
	}
}

func (p *PaperExecutor) GetMode() domain.ExecutionMode { return domain.ModePaper }
func (p *PaperExecutor) IsReady() bool                 { return true }

func (p *PaperExecutor) GetBalance(_ context.Context) (float64, error) {
	return p.book.balance, nil
}

func (p *PaperExecutor) GetPosition(tokenID string) (domain.Position, bool) {
	pos, ok := p.book.positions[tokenID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

func (p *PaperExecutor) GetAllPositions() []domain.Position { return p.book.allPositions() }
func (p *PaperExecutor) GetSpend() domain.SpendTracker      { return p.book.spend.Snapshot() }
func (p *PaperExecutor) State() domain.TradingState         { return p.book.state() }

// Execute 同步模拟一次执行。
func (p *PaperExecutor) Execute(_ context.Context, spec *domain.OrderSpec) *domain.OrderResult {
	now := time.Now()
	res := &domain.OrderResult{
		OrderID:  "paper-" + uuid.NewString(),
		Mode:     domain.ModePaper,
		PlacedAt: now,
	}

	if err := spec.Validate(); err != nil {
		return failResult(res, err.Error())
	}

	fillPrice := slippedPrice(spec.Price, spec.Side, p.cfg.SlippageBps)
	size := spec.Size * p.cfg.FillRate

	switch spec.Side {
	case domain.SideBuy:
		// 余额不足时缩到买得起的数量
		if cost := size * fillPrice; cost > p.book.balance {
			size = p.book.balance / fillPrice
			if size*fillPrice < 0.01 {
				return failResult(res, fmt.Sprintf("insufficient balance: %.2f", p.book.balance))
			}
			logger.Warnf("模拟买入缩量: %s %.2f -> %.2f (余额 %.2f)", spec.TokenID, spec.Size, size, p.book.balance)
		}
		p.book.applyBuy(spec.TokenID, spec.MarketID, size, fillPrice)

	case domain.SideSell:
		held := p.book.heldQuantity(spec.TokenID)
		if held <= 0 {
			return failResult(res, "no position to sell")
		}
		if size > held {
			size = held
		}
		pnl := p.book.applySell(spec.TokenID, size, fillPrice)
		logger.Debugf("模拟卖出: %s %.2f @ %.4f pnl=%.2f", spec.TokenID, size, fillPrice, pnl)

	default:
		return failResult(res, "unknown side")
	}

	res.FilledSize = size
	res.AvgFillPrice = fillPrice
	res.RemainingSize = spec.Size - size
	res.SlippageBps = adverseBps(spec.Price, fillPrice, spec.Side)
	res.ExecutedAt = time.Now()
	if res.RemainingSize > 1e-9 {
		res.Status = domain.OrderStatusPartial
	} else {
		res.RemainingSize = 0
		res.Status = domain.OrderStatusFilled
	}
	return res
}

// SellAllPositions 对每个持仓发一笔全量市价卖单。
func (p *PaperExecutor) SellAllPositions(ctx context.Context, reason string) []*domain.OrderResult {
	positions := p.book.allPositions()
	if len(positions) == 0 {
		return nil
	}
	logger.Warnf("模拟盘清仓 (%s): %d 个持仓", reason, len(positions))

	results := make([]*domain.OrderResult, 0, len(positions))
	for _, pos := range positions {
		price := pos.AvgPrice
		if p.prices != nil {
			if quoted := p.prices(pos.TokenID); quoted > 0 {
				price = quoted
			}
		}
		spec := &domain.OrderSpec{
			TokenID:     pos.TokenID,
			MarketID:    pos.MarketID,
			Side:        domain.SideSell,
			Price:       price,
			Size:        pos.Quantity,
			OrderType:   domain.OrderTypeMarket,
			TimeInForce: domain.TimeInForceGTC,
		}
		results = append(results, p.Execute(ctx, spec))
	}
	return results
}

// slippedPrice 定向滑点：BUY 抬价、SELL 压价。
func slippedPrice(price float64, side domain.Side, bps float64) float64 {
	if side == domain.SideBuy {
		return price * (1 + bps/10000)
	}
	return price * (1 - bps/10000)
}

// adverseBps 相对请求价的不利偏移（基点），正值表示吃亏。
func adverseBps(requested, filled float64, side domain.Side) float64 {
	if requested <= 0 {
		return 0
	}
	if side == domain.SideBuy {
		return (filled - requested) / requested * 10000
	}
	return (requested - filled) / requested * 10000
}

func failResult(res *domain.OrderResult, reason string) *domain.OrderResult {
	res.Status = domain.OrderStatusFailed
	res.Error = reason
	res.ExecutedAt = time.Now()
	return res
}
