// Package analyzer 盘口分析：从订单簿快照计算市场衡量指标。
// 纯函数，无内部状态；相同输入必然得到相同输出。
package analyzer

import (
	"github.com/betbot/copybot/internal/domain"
)

// Config 分析阈值。约定：<= 0 使用默认值。
type Config struct {
	// MinDepthShares 最优价附近的最小深度（份额），低于则判为 thin_book。
	MinDepthShares float64

	// MaxSpreadBps 一档价差上限（基点），超过则判为 wide_spread。
	MaxSpreadBps float64

	// MaxDivergenceBps 与目标成交价的偏离上限（基点），超过则判为 high_divergence。
	MaxDivergenceBps float64
}

// DefaultConfig 默认阈值
func DefaultConfig() Config {
	return Config{
		MinDepthShares:   50,
		MaxSpreadBps:     1500,
		MaxDivergenceBps: 2500,
	}
}

func (c Config) normalized() Config {
	if c.MinDepthShares <= 0 {
		c.MinDepthShares = 50
	}
	if c.MaxSpreadBps <= 0 {
		c.MaxSpreadBps = 1500
	}
	if c.MaxDivergenceBps <= 0 {
		c.MaxDivergenceBps = 2500
	}
	return c
}

// nearBestBand 深度统计的价格带宽（最优价的 1%，边界计入）
const nearBestBand = 0.01

// Analyze 从盘口快照计算 MarketSnapshot。
// bids/asks 要求按最优价在前排列（交易所返回顺序）。
// refPrice 为目标交易者的成交价；targetSize > 0 时额外计算加权成交价。
func Analyze(cfg Config, tokenID string, bids, asks []domain.BookLevel, refPrice, targetSize float64) domain.MarketSnapshot {
	cfg = cfg.normalized()

	snap := domain.MarketSnapshot{TokenID: tokenID}

	if len(bids) == 0 || len(asks) == 0 {
		snap.Condition = domain.ConditionStale
		snap.IsVolatile = true
		return snap
	}

	snap.BestBid = bids[0].Price
	snap.BestAsk = asks[0].Price
	snap.Midpoint = (snap.BestBid + snap.BestAsk) / 2
	snap.Spread = snap.BestAsk - snap.BestBid
	if snap.Midpoint > 0 {
		snap.SpreadBps = snap.Spread / snap.Midpoint * 10000
	}

	snap.AskDepthNear = depthWithin(asks, snap.BestAsk*(1+nearBestBand), true)
	snap.BidDepthNear = depthWithin(bids, snap.BestBid*(1-nearBestBand), false)

	if targetSize > 0 {
		snap.WeightedAskForSize, _ = WeightedFillPrice(asks, targetSize)
		snap.WeightedBidForSize, _ = WeightedFillPrice(bids, targetSize)
	}

	if refPrice > 0 {
		snap.DivergenceFromTrader = abs(snap.Midpoint - refPrice)
		snap.DivergenceBps = snap.DivergenceFromTrader / refPrice * 10000
	}

	snap.Condition = classify(cfg, &snap)
	snap.IsVolatile = snap.Condition != domain.ConditionNormal
	return snap
}

// FromPrices 仅有标量价格时的降级快照：深度为零，
// 分类只依据价差/偏离（不判 stale / thin_book）。
func FromPrices(cfg Config, tokenID string, bestBid, bestAsk, refPrice float64) domain.MarketSnapshot {
	cfg = cfg.normalized()

	snap := domain.MarketSnapshot{
		TokenID:  tokenID,
		BestBid:  bestBid,
		BestAsk:  bestAsk,
		Midpoint: (bestBid + bestAsk) / 2,
		Spread:   bestAsk - bestBid,
	}
	if snap.Midpoint > 0 {
		snap.SpreadBps = snap.Spread / snap.Midpoint * 10000
	}
	if refPrice > 0 {
		snap.DivergenceFromTrader = abs(snap.Midpoint - refPrice)
		snap.DivergenceBps = snap.DivergenceFromTrader / refPrice * 10000
	}

	switch {
	case snap.SpreadBps > cfg.MaxSpreadBps:
		snap.Condition = domain.ConditionWideSpread
	case snap.DivergenceBps > cfg.MaxDivergenceBps:
		snap.Condition = domain.ConditionHighDivergence
	default:
		snap.Condition = domain.ConditionNormal
	}
	snap.IsVolatile = snap.Condition != domain.ConditionNormal
	return snap
}

// classify 按优先级分类，先命中先生效。
// stale 在 Analyze 入口已处理（空盘口直接返回）。
func classify(cfg Config, snap *domain.MarketSnapshot) domain.MarketCondition {
	if snap.AskDepthNear < cfg.MinDepthShares || snap.BidDepthNear < cfg.MinDepthShares {
		return domain.ConditionThinBook
	}
	if snap.SpreadBps > cfg.MaxSpreadBps {
		return domain.ConditionWideSpread
	}
	if snap.DivergenceBps > cfg.MaxDivergenceBps {
		return domain.ConditionHighDivergence
	}
	return domain.ConditionNormal
}

// WeightedFillPrice 逐档消耗 targetSize 计算加权成交价。
// 返回加权价和实际可成交数量；盘口吃穿时按已消耗部分加权。
func WeightedFillPrice(levels []domain.BookLevel, targetSize float64) (price, filled float64) {
	if targetSize <= 0 || len(levels) == 0 {
		return 0, 0
	}
	remaining := targetSize
	var cost float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		filled += take
		remaining -= take
	}
	if filled <= 0 {
		return 0, 0
	}
	return cost / filled, filled
}

// RecommendedPrice 推荐下单价：有加权价用加权价，否则 BUY 用 bestAsk、SELL 用 bestBid。
func RecommendedPrice(snap *domain.MarketSnapshot, side domain.Side) float64 {
	if side == domain.SideBuy {
		if snap.WeightedAskForSize > 0 {
			return snap.WeightedAskForSize
		}
		return snap.BestAsk
	}
	if snap.WeightedBidForSize > 0 {
		return snap.WeightedBidForSize
	}
	return snap.BestBid
}

// DepthRatio 可用深度与目标数量之比，上限 1。
// 用于在盘口吃不下时按比例缩小下单数量。
func DepthRatio(snap *domain.MarketSnapshot, side domain.Side, targetSize float64) float64 {
	if targetSize <= 0 {
		return 1
	}
	avail := snap.DepthNear(side)
	if avail >= targetSize {
		return 1
	}
	return avail / targetSize
}

// depthWithin 统计价格在界限内的档位深度之和。
// ask 侧 limit 为上界，bid 侧为下界；恰好等于界限计入。
func depthWithin(levels []domain.BookLevel, limit float64, ask bool) float64 {
	var depth float64
	for _, lvl := range levels {
		if ask && lvl.Price > limit {
			break
		}
		if !ask && lvl.Price < limit {
			break
		}
		depth += lvl.Size
	}
	return depth
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
