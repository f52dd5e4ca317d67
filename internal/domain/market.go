package domain

// BookLevel 盘口档位（价格/数量）
type BookLevel struct {
	Price float64
	Size  float64
}

// MarketCondition 市场状态分类
type MarketCondition string

const (
	ConditionNormal         MarketCondition = "normal"
	ConditionWideSpread     MarketCondition = "wide_spread"
	ConditionHighDivergence MarketCondition = "high_divergence"
	ConditionThinBook       MarketCondition = "thin_book"
	ConditionStale          MarketCondition = "stale"
)

// MarketSnapshot 某一时刻的盘口衡量指标。
// 每次决策前重新计算，计算后不再修改。
type MarketSnapshot struct {
	TokenID string

	BestBid   float64
	BestAsk   float64
	Midpoint  float64
	Spread    float64
	SpreadBps float64

	// 距最优价 1% 以内的深度（份额），边界价位计入
	AskDepthNear float64
	BidDepthNear float64

	// 针对目标数量逐档加权的成交价（未提供目标数量时为 0）
	WeightedAskForSize float64
	WeightedBidForSize float64

	// 与目标交易者成交价的偏离
	DivergenceFromTrader float64
	DivergenceBps        float64

	Condition  MarketCondition
	IsVolatile bool
}

// DepthNear 返回指定方向上靠近最优价的深度。
// BUY 吃 ask 侧，SELL 吃 bid 侧。
func (s *MarketSnapshot) DepthNear(side Side) float64 {
	if side == SideBuy {
		return s.AskDepthNear
	}
	return s.BidDepthNear
}
