// Package detector 目标交易者的成交检测：链上事件解码与双通道轮询对账。
package detector

import (
	"sort"
	"time"

	"github.com/betbot/copybot/internal/domain"
)

// PositionRecord 持仓快照中的一条记录
type PositionRecord struct {
	TokenID     string
	MarketID    string
	MarketTitle string
	Quantity    float64
	AvgPrice    float64
}

// DefaultMinDelta 低于该阈值的持仓变化整体忽略（恰好等于阈值算变化）。
const DefaultMinDelta = 0.01

// DiffPositions 对比前后两份持仓快照，产出持仓变化。
// 新出现 = 全量 BUY；增加 = 增量 BUY；减少 = 减量 SELL；消失 = 全量 SELL。
// 输出按 tokenID 排序，保证确定性。
func DiffPositions(trader string, prev, curr map[string]PositionRecord, minDelta float64, now time.Time) []domain.PositionChange {
	if minDelta <= 0 {
		minDelta = DefaultMinDelta
	}

	var changes []domain.PositionChange

	for tokenID, cur := range curr {
		prevQty := 0.0
		if p, ok := prev[tokenID]; ok {
			prevQty = p.Quantity
		}
		delta := cur.Quantity - prevQty
		side := domain.SideBuy
		if delta < 0 {
			delta = -delta
			side = domain.SideSell
		}
		if delta < minDelta {
			continue
		}
		changes = append(changes, domain.PositionChange{
			Trader:      trader,
			TokenID:     tokenID,
			MarketID:    cur.MarketID,
			MarketTitle: cur.MarketTitle,
			Side:        side,
			Delta:       delta,
			AvgPrice:    cur.AvgPrice,
			Source:      domain.SourcePositionsFeed,
			DetectedAt:  now,
		})
	}

	// 从快照中消失的持仓视为全量卖出
	for tokenID, p := range prev {
		if _, ok := curr[tokenID]; ok {
			continue
		}
		if p.Quantity < minDelta {
			continue
		}
		changes = append(changes, domain.PositionChange{
			Trader:      trader,
			TokenID:     tokenID,
			MarketID:    p.MarketID,
			MarketTitle: p.MarketTitle,
			Side:        domain.SideSell,
			Delta:       p.Quantity,
			AvgPrice:    p.AvgPrice,
			Source:      domain.SourcePositionsFeed,
			DetectedAt:  now,
		})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].TokenID < changes[j].TokenID })
	return changes
}
