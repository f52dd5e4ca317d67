// Package executor 订单执行：paper 模拟与 live 实盘共用一个接口。
package executor

import (
	"context"

	"github.com/betbot/copybot/internal/domain"
)

// Executor paper/live 共用的执行接口。
// Execute 对执行失败不返回 error，统一落在 OrderResult.Error 上；
// 调用方必须对同一实例串行调用 Execute。
type Executor interface {
	Execute(ctx context.Context, spec *domain.OrderSpec) *domain.OrderResult

	GetBalance(ctx context.Context) (float64, error)
	GetPosition(tokenID string) (domain.Position, bool)
	GetAllPositions() []domain.Position
	GetSpend() domain.SpendTracker
	State() domain.TradingState

	GetMode() domain.ExecutionMode
	IsReady() bool

	// SellAllPositions 撤掉全部挂单后对所有持仓市价清仓（kill switch 动作）。
	SellAllPositions(ctx context.Context, reason string) []*domain.OrderResult
}

// PriceSource 清仓时取当前可卖价格；返回 0 时退回持仓均价。
type PriceSource func(tokenID string) float64
