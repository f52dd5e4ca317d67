package executor

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/sdk/api"
	sdkhttp "github.com/betbot/copybot/pkg/sdk/http"
)

// NegRiskResolver 判定代币所属市场是否为 neg-risk（决定签名用哪个结算合约）
type NegRiskResolver func(tokenID string) bool

// SDKGateway 把 CLOB SDK 适配成执行层的 ClobGateway：
// 结构化拒单转 RejectionError，HTTP 状态错误转 HTTPStatusError，
// 交易所状态字符串归一成执行层口径。
type SDKGateway struct {
	client  *api.ClobClient
	negRisk NegRiskResolver
}

// NewSDKGateway negRisk 为 nil 时默认按经典合约签名
func NewSDKGateway(client *api.ClobClient, negRisk NegRiskResolver) *SDKGateway {
	return &SDKGateway{client: client, negRisk: negRisk}
}

func (g *SDKGateway) isNegRisk(tokenID string) bool {
	return g.negRisk != nil && g.negRisk(tokenID)
}

// PlaceOrder 签名并提交订单。
// 市价单用 FAK（吃掉可用流动性、撤销剩余），限价单按过期时间选 GTC/GTD。
func (g *SDKGateway) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResponse, error) {
	orderType := api.OrderTypeGTC
	switch {
	case req.OrderType == domain.OrderTypeMarket:
		orderType = api.OrderTypeFAK
	case req.ExpiresAt > 0:
		orderType = api.OrderTypeGTD
	}

	resp, err := g.client.PlaceOrder(ctx, req.TokenID, api.Side(req.Side),
		req.Size, req.Price, orderType, g.isNegRisk(req.TokenID), req.ExpiresAt)
	if err != nil {
		return PlaceOrderResponse{}, translateErr(err)
	}
	if !resp.Success {
		return PlaceOrderResponse{}, &RejectionError{Reason: resp.ErrorMsg}
	}

	out := PlaceOrderResponse{
		OrderID: resp.OrderID,
		Status:  strings.ToLower(resp.Status),
	}
	out.MatchedSize, out.AvgPrice = matchedFromAmounts(req.Side, resp.MakingAmount, resp.TakingAmount)
	// 回执带 matched 但没给成交量时按全量处理，后续轮询会纠正
	if out.Status == gwStatusMatched && out.MatchedSize == 0 {
		out.MatchedSize = req.Size
		out.AvgPrice = req.Price
	}
	return out, nil
}

// OrderStatus 查询订单状态并归一化
func (g *SDKGateway) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	order, err := g.client.GetOrder(ctx, orderID)
	if err != nil {
		return OrderState{}, translateErr(err)
	}

	status := strings.ToLower(order.Status)
	if status == "canceled" {
		status = gwStatusCancelled
	}

	st := OrderState{Status: status}
	st.OriginalSize, _ = strconv.ParseFloat(order.OriginalSize, 64)
	st.MatchedSize, _ = strconv.ParseFloat(order.SizeMatched, 64)
	st.AvgPrice, _ = strconv.ParseFloat(order.Price, 64)
	return st, nil
}

// CancelOrder 撤单（订单已终态视为成功，由 SDK 处理 404）
func (g *SDKGateway) CancelOrder(ctx context.Context, orderID string) error {
	return translateErr(g.client.CancelOrder(ctx, orderID))
}

// CollateralBalance 查询 USDC 抵押余额
func (g *SDKGateway) CollateralBalance(ctx context.Context) (float64, error) {
	balance, err := g.client.GetUSDCBalance(ctx)
	if err != nil {
		return 0, translateErr(err)
	}
	return balance, nil
}

// matchedFromAmounts 从回执的 6 位定点成交量推出份额与均价。
// BUY 付出 USDC（making）换代币（taking），SELL 相反。
func matchedFromAmounts(side domain.Side, making, taking string) (size, avgPrice float64) {
	makingF, err1 := strconv.ParseFloat(making, 64)
	takingF, err2 := strconv.ParseFloat(taking, 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	makingF /= 1e6
	takingF /= 1e6

	var usdc, tokens float64
	if side == domain.SideBuy {
		usdc, tokens = makingF, takingF
	} else {
		usdc, tokens = takingF, makingF
	}
	if tokens <= 0 {
		return 0, 0
	}
	return tokens, usdc / tokens
}

// translateErr 把 SDK 错误转成执行层的重试分类类型
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *sdkhttp.StatusError
	if errors.As(err, &statusErr) {
		return &HTTPStatusError{StatusCode: statusErr.Code, Body: statusErr.Body}
	}
	return err
}
