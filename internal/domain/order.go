package domain

import "time"

// OrderType 订单执行类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce 订单有效期语义
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // 挂单直到取消
	TimeInForceGTD TimeInForce = "GTD" // 挂单到指定时间
	TimeInForceFOK TimeInForce = "FOK" // 全部成交或取消
)

// OrderSpec 一笔待执行订单的完整规格。
// 由 Calculator 创建，先后被 RiskChecker 和 Executor 各消费一次。
type OrderSpec struct {
	TokenID     string      // 条件代币资产 ID
	MarketID    string      // 市场 ID（用于按市场的花费归集，可为空）
	Side        Side        // 订单方向
	Price       float64     // 限价（0 < price < 1）
	Size        float64     // 数量（> 0）
	OrderType   OrderType   // limit / market
	TimeInForce TimeInForce // GTC / GTD / FOK
	ExpiresInMs int64       // GTD 的相对过期时间（毫秒，可选）
	PostOnly    bool        // 只做 maker（可选）
	Trigger     *DetectedTrade // 触发本单的源交易（溯源用，可为 nil）
}

// Cost 名义成本（USDC）
func (s *OrderSpec) Cost() float64 {
	return s.Price * s.Size
}

// Validate 基本不变量：size > 0 且 0 < price < 1。
func (s *OrderSpec) Validate() error {
	if s.Size <= 0 {
		return ErrInvalidSize
	}
	if s.Price <= 0 || s.Price >= 1 {
		return ErrInvalidPrice
	}
	return nil
}

// OrderStatus 订单结果状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal 状态一旦离开 pending 即为终态。
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending && s != ""
}

// ExecutionMode 执行模式
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// OrderResult 一次订单执行的最终结果。
// 执行失败也返回 OrderResult（Error 置位），不跨 Executor 边界抛错。
type OrderResult struct {
	OrderID       string        // 交易所/模拟器分配的订单 ID
	Status        OrderStatus   // 终态
	FilledSize    float64       // 已成交数量（<= 请求数量）
	AvgFillPrice  float64       // 平均成交价（无成交时为 0）
	RemainingSize float64       // 未成交数量
	Error         string        // 失败原因（仅失败时）
	PlacedAt      time.Time     // 提交时间
	ExecutedAt    time.Time     // 终态确认时间
	Mode          ExecutionMode // paper / live
	Expired       bool          // 是否因超时过期
	SlippageBps   float64       // 相对请求价的不利偏移（基点，负向为不利）
}

// Filled 是否有任何成交
func (r *OrderResult) Filled() bool {
	return r.FilledSize > 0
}
