package domain

import "errors"

var (
	ErrInvalidSize  = errors.New("order size must be positive")
	ErrInvalidPrice = errors.New("order price must be in (0, 1)")
)

// Position 本地跟踪的持仓
type Position struct {
	TokenID     string
	MarketID    string
	Quantity    float64 // 持有数量（恒 >= 0）
	AvgPrice    float64 // 加权平均入场价
	CostBasis   float64 // 累计成本（USDC）
	RealizedPnL float64 // 已实现盈亏（USDC）
}

// AddFill 累加一笔买入成交，更新加权平均入场价。
func (p *Position) AddFill(size, price float64) {
	if size <= 0 {
		return
	}
	p.CostBasis += size * price
	p.Quantity += size
	if p.Quantity > 0 {
		p.AvgPrice = p.CostBasis / p.Quantity
	}
}

// Reduce 按平均成本减仓，返回本次已实现盈亏。
// size 超过持仓时按持仓数量截断。
func (p *Position) Reduce(size, price float64) float64 {
	if size <= 0 || p.Quantity <= 0 {
		return 0
	}
	if size > p.Quantity {
		size = p.Quantity
	}
	cost := p.AvgPrice * size
	proceeds := price * size
	pnl := proceeds - cost
	p.Quantity -= size
	p.CostBasis -= cost
	p.RealizedPnL += pnl
	if p.Quantity <= 0 {
		p.Quantity = 0
		p.CostBasis = 0
	}
	return pnl
}

// SpendTracker 按代币/市场/总体累计的花费。
// 只由 Executor 在成交时写入；除显式 Reset 外单调不减。
type SpendTracker struct {
	TokenSpend         map[string]float64 // tokenId -> 累计成本
	MarketSpend        map[string]float64 // marketId -> 累计成本
	TotalHoldingsValue float64            // 总持仓名义价值
}

// NewSpendTracker 创建空的花费跟踪器
func NewSpendTracker() *SpendTracker {
	return &SpendTracker{
		TokenSpend:  make(map[string]float64),
		MarketSpend: make(map[string]float64),
	}
}

// Record 记录一笔成交花费
func (t *SpendTracker) Record(tokenID, marketID string, cost float64) {
	if cost <= 0 {
		return
	}
	t.TokenSpend[tokenID] += cost
	if marketID != "" {
		t.MarketSpend[marketID] += cost
	}
	t.TotalHoldingsValue += cost
}

// Release 卖出后按成本释放持仓价值（不回退 token/market 花费，花费口径是累计投入）。
func (t *SpendTracker) Release(cost float64) {
	t.TotalHoldingsValue -= cost
	if t.TotalHoldingsValue < 0 {
		t.TotalHoldingsValue = 0
	}
}

// Reset 显式清零（仅用于日切/人工干预）
func (t *SpendTracker) Reset() {
	t.TokenSpend = make(map[string]float64)
	t.MarketSpend = make(map[string]float64)
	t.TotalHoldingsValue = 0
}

// Snapshot 深拷贝，供 RiskChecker 只读使用。
func (t *SpendTracker) Snapshot() SpendTracker {
	cp := SpendTracker{
		TokenSpend:         make(map[string]float64, len(t.TokenSpend)),
		MarketSpend:        make(map[string]float64, len(t.MarketSpend)),
		TotalHoldingsValue: t.TotalHoldingsValue,
	}
	for k, v := range t.TokenSpend {
		cp.TokenSpend[k] = v
	}
	for k, v := range t.MarketSpend {
		cp.MarketSpend[k] = v
	}
	return cp
}

// TradingState Executor 持有的交易状态。
// RiskChecker 每次检查拿到的是只读快照。
type TradingState struct {
	DailyPnL    float64
	TotalPnL    float64
	Balance     float64
	Positions   map[string]float64 // tokenId -> 持有数量
	TotalShares float64
	Spend       SpendTracker
}

// HeldQuantity 返回某代币的持有数量
func (s *TradingState) HeldQuantity(tokenID string) float64 {
	return s.Positions[tokenID]
}
