package executor

import (
	"sort"

	"github.com/betbot/copybot/internal/domain"
)

// positionBook paper/live 共用的本地持仓账本。
// 单一持有者：只在所属 executor 的调用链内变更，不加锁。
type positionBook struct {
	balance   float64
	dailyPnL  float64
	totalPnL  float64
	positions map[string]*domain.Position
	spend     *domain.SpendTracker
}

func newPositionBook(balance float64) *positionBook {
	return &positionBook{
		balance:   balance,
		positions: make(map[string]*domain.Position),
		spend:     domain.NewSpendTracker(),
	}
}

// applyBuy 记一笔买入成交：扣余额、更新加权均价、累计花费。
func (b *positionBook) applyBuy(tokenID, marketID string, size, price float64) {
	cost := size * price
	b.balance -= cost

	pos, ok := b.positions[tokenID]
	if !ok {
		pos = &domain.Position{TokenID: tokenID, MarketID: marketID}
		b.positions[tokenID] = pos
	}
	pos.AddFill(size, price)
	b.spend.Record(tokenID, marketID, cost)
}

// applySell 记一笔卖出成交，返回本次已实现盈亏。
// 持仓清零后从账本移除。
func (b *positionBook) applySell(tokenID string, size, price float64) float64 {
	pos, ok := b.positions[tokenID]
	if !ok {
		return 0
	}
	if size > pos.Quantity {
		size = pos.Quantity
	}
	costReleased := pos.AvgPrice * size
	pnl := pos.Reduce(size, price)
	b.balance += size * price
	b.dailyPnL += pnl
	b.totalPnL += pnl
	b.spend.Release(costReleased)
	if pos.Quantity <= 0 {
		delete(b.positions, tokenID)
	}
	return pnl
}

func (b *positionBook) heldQuantity(tokenID string) float64 {
	if pos, ok := b.positions[tokenID]; ok {
		return pos.Quantity
	}
	return 0
}

func (b *positionBook) totalShares() float64 {
	var total float64
	for _, pos := range b.positions {
		total += pos.Quantity
	}
	return total
}

// allPositions 按 tokenID 排序返回持仓副本
func (b *positionBook) allPositions() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// state 构造 RiskChecker 消费的只读快照
func (b *positionBook) state() domain.TradingState {
	qty := make(map[string]float64, len(b.positions))
	for id, pos := range b.positions {
		qty[id] = pos.Quantity
	}
	return domain.TradingState{
		DailyPnL:    b.dailyPnL,
		TotalPnL:    b.totalPnL,
		Balance:     b.balance,
		Positions:   qty,
		TotalShares: b.totalShares(),
		Spend:       b.spend.Snapshot(),
	}
}
