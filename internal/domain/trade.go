package domain

import (
	"fmt"
	"time"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// DetectionSource 检测来源
type DetectionSource string

const (
	SourceOnchain       DetectionSource = "onchain"        // 链上 OrderFilled 事件
	SourceActivityFeed  DetectionSource = "activity_feed"  // 活动/成交轮询
	SourcePositionsFeed DetectionSource = "positions_feed" // 持仓快照轮询
)

// DetectedTrade 检测到的目标交易者成交。
// 由 Detector 创建后不可变，只被 Calculator 消费一次。
type DetectedTrade struct {
	ID              string          // 去重键（链上为 txHash:logIndex）
	Trader          string          // 目标交易者地址（小写）
	TokenID         string          // 条件代币资产 ID（十进制字符串）
	MarketID        string          // 市场/condition ID（可为空）
	MarketTitle     string          // 市场标题（可为空）
	Side            Side            // 目标交易者的方向
	Size            float64         // 成交数量（份额）
	Price           float64         // 成交价格
	UsdcSize        float64         // 成交金额（USDC）
	IsMakerFill     bool            // 目标是被动成交方（maker）
	Source          DetectionSource // 检测来源
	SourceTimestamp time.Time       // 源事件时间
	DetectedAt      time.Time       // 本地检测时间
}

// DetectionLatencyMs 源事件时间到本地检测时间的延迟（毫秒）。
func (t *DetectedTrade) DetectionLatencyMs() int64 {
	if t.SourceTimestamp.IsZero() || t.DetectedAt.Before(t.SourceTimestamp) {
		return 0
	}
	return t.DetectedAt.Sub(t.SourceTimestamp).Milliseconds()
}

// Key 返回去重键
func (t *DetectedTrade) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return fmt.Sprintf("%s:%s:%s:%.6f", t.Trader, t.TokenID, t.Side, t.Size)
}

// PositionChange 持仓快照对比得到的变化。
// 语义上等价于一笔 DetectedTrade，但价格信息可能缺失（只有快照均价）。
type PositionChange struct {
	Trader      string          // 目标交易者地址
	TokenID     string          // 条件代币资产 ID
	MarketID    string          // 市场 ID（可为空，原样透传）
	MarketTitle string          // 市场标题（可为空，原样透传）
	Side        Side            // BUY=增仓 SELL=减仓/清仓
	Delta       float64         // 变化数量（恒为正）
	AvgPrice    float64         // 快照中的平均价格（可为 0）
	Source      DetectionSource // 检测来源
	DetectedAt  time.Time       // 本地检测时间
}

// ToDetectedTrade 转换为统一的 DetectedTrade 形态供下游消费。
func (c *PositionChange) ToDetectedTrade() DetectedTrade {
	return DetectedTrade{
		ID:              fmt.Sprintf("pos:%s:%s:%d", c.Trader, c.TokenID, c.DetectedAt.UnixNano()),
		Trader:          c.Trader,
		TokenID:         c.TokenID,
		MarketID:        c.MarketID,
		MarketTitle:     c.MarketTitle,
		Side:            c.Side,
		Size:            c.Delta,
		Price:           c.AvgPrice,
		UsdcSize:        c.Delta * c.AvgPrice,
		Source:          c.Source,
		SourceTimestamp: c.DetectedAt,
		DetectedAt:      c.DetectedAt,
	}
}
