// Package calculator 把检测到的目标成交换算成自己的下单规格。
package calculator

import (
	"fmt"

	"github.com/betbot/copybot/internal/analyzer"
	"github.com/betbot/copybot/internal/domain"
)

// SizingMethod 仓位换算方法
type SizingMethod string

const (
	// SizingPortfolio 按自身余额的固定比例下单
	SizingPortfolio SizingMethod = "portfolio"
	// SizingTrader 按目标成交数量的固定比例跟单
	SizingTrader SizingMethod = "trader"
)

// MinSizePolicy 低于最小单量时的处理
type MinSizePolicy string

const (
	MinSizeSkip    MinSizePolicy = "skip"    // 直接放弃
	MinSizeMinimum MinSizePolicy = "minimum" // 抬到最小单量
)

// Config 跟单换算配置
type Config struct {
	Method              SizingMethod       `yaml:"method"`
	PortfolioPercentage float64            `yaml:"portfolio_percentage"`   // portfolio 模式：余额占比（0.05 = 5%）
	TraderFraction      float64            `yaml:"trader_fraction"`        // trader 模式：目标数量倍数（0.05 = 1/20）
	PriceOffsetBps      float64            `yaml:"price_offset_bps"`       // 正值更激进：BUY 抬价 / SELL 压价
	MaxPositionPerToken float64            `yaml:"max_position_per_token"` // 单代币最大持仓（份额，0 不限）
	MaxTotalPosition    float64            `yaml:"max_total_position"`     // 总持仓上限（份额，0 不限）
	MinOrderUSDC        float64            `yaml:"min_order_usdc"`         // 最小单量（USDC）
	MinSizePolicy       MinSizePolicy      `yaml:"min_size_policy"`
	OrderType           domain.OrderType   `yaml:"order_type"`
	TimeInForce         domain.TimeInForce `yaml:"time_in_force"`
	ExpiresInMs         int64              `yaml:"expires_in_ms"` // GTD 的相对过期时间
	PostOnly            bool               `yaml:"post_only"`
}

// DefaultConfig 保守的默认换算参数
func DefaultConfig() Config {
	return Config{
		Method:         SizingTrader,
		TraderFraction: 0.05,
		MinOrderUSDC:   1.05,
		MinSizePolicy:  MinSizeSkip,
		OrderType:      domain.OrderTypeLimit,
		TimeInForce:    domain.TimeInForceGTC,
	}
}

// StateView Calculator 所需的只读状态切片
type StateView struct {
	Balance     float64 // 可用余额（USDC）
	HeldQty     float64 // 该代币当前持仓
	TotalShares float64 // 全部持仓份额
}

// 价格钳制范围：交易所限制订单价必须落在 (0,1) 的 tick 内
const (
	minOrderPrice = 0.01
	maxOrderPrice = 0.99
)

// Calculate 生成 OrderSpec。
// 返回 nil 表示本次不下单，reason 说明原因。
func Calculate(cfg Config, trade *domain.DetectedTrade, snap *domain.MarketSnapshot, state StateView) (*domain.OrderSpec, string) {
	raw := rawSize(cfg, trade, state)
	if raw <= 0 {
		return nil, "sizing produced zero"
	}

	// 盘口吃不下就按可用深度缩小（降级快照深度为 0 时不缩放）
	size := raw
	if snap != nil && snap.DepthNear(trade.Side) > 0 {
		size = raw * analyzer.DepthRatio(snap, trade.Side, raw)
	}

	price := trade.Price
	if snap != nil {
		if rec := analyzer.RecommendedPrice(snap, trade.Side); rec > 0 {
			price = rec
		}
	}
	price = applyOffset(price, trade.Side, cfg.PriceOffsetBps)
	if price < minOrderPrice {
		price = minOrderPrice
	}
	if price > maxOrderPrice {
		price = maxOrderPrice
	}

	// 持仓上限
	if cfg.MaxPositionPerToken > 0 && trade.Side == domain.SideBuy {
		room := cfg.MaxPositionPerToken - state.HeldQty
		if room <= 0 {
			return nil, "token position cap reached"
		}
		if size > room {
			size = room
		}
	}
	if cfg.MaxTotalPosition > 0 && trade.Side == domain.SideBuy {
		room := cfg.MaxTotalPosition - state.TotalShares
		if room <= 0 {
			return nil, "total position cap reached"
		}
		if size > room {
			size = room
		}
	}

	// 最小单量
	if cfg.MinOrderUSDC > 0 && size*price < cfg.MinOrderUSDC {
		if cfg.MinSizePolicy != MinSizeMinimum {
			return nil, fmt.Sprintf("below min order ($%.2f < $%.2f)", size*price, cfg.MinOrderUSDC)
		}
		size = cfg.MinOrderUSDC / price
	}

	spec := &domain.OrderSpec{
		TokenID:     trade.TokenID,
		MarketID:    trade.MarketID,
		Side:        trade.Side,
		Price:       price,
		Size:        size,
		OrderType:   cfg.OrderType,
		TimeInForce: cfg.TimeInForce,
		ExpiresInMs: cfg.ExpiresInMs,
		PostOnly:    cfg.PostOnly,
		Trigger:     trade,
	}
	if spec.OrderType == "" {
		spec.OrderType = domain.OrderTypeLimit
	}
	if spec.TimeInForce == "" {
		spec.TimeInForce = domain.TimeInForceGTC
	}
	if err := spec.Validate(); err != nil {
		return nil, err.Error()
	}
	return spec, ""
}

// rawSize 未经盘口/上限修正的目标数量
func rawSize(cfg Config, trade *domain.DetectedTrade, state StateView) float64 {
	switch cfg.Method {
	case SizingPortfolio:
		if trade.Price <= 0 {
			return 0
		}
		return state.Balance * cfg.PortfolioPercentage / trade.Price
	default:
		return trade.Size * cfg.TraderFraction
	}
}

// applyOffset 正 bps 表示更激进：BUY 抬价、SELL 压价。
func applyOffset(price float64, side domain.Side, bps float64) float64 {
	if bps == 0 {
		return price
	}
	if side == domain.SideBuy {
		return price * (1 + bps/10000)
	}
	return price * (1 - bps/10000)
}
