package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/cache"
	"github.com/betbot/copybot/pkg/logger"
)

// 提交回执 / 查询状态（交易所口径）
const (
	gwStatusMatched   = "matched"
	gwStatusLive      = "live"
	gwStatusDelayed   = "delayed"
	gwStatusUnmatched = "unmatched"
	gwStatusCancelled = "cancelled"
)

// PlaceOrderRequest 提交订单请求
type PlaceOrderRequest struct {
	TokenID   string
	Side      domain.Side
	Price     float64
	Size      float64
	OrderType domain.OrderType
	PostOnly  bool
	ExpiresAt int64 // unix 秒，0 表示不过期（GTC）
}

// PlaceOrderResponse 提交回执
type PlaceOrderResponse struct {
	OrderID     string
	Status      string // matched / live / delayed / unmatched
	MatchedSize float64
	AvgPrice    float64
}

// OrderState 订单状态查询结果
type OrderState struct {
	Status       string // live / matched / cancelled
	MatchedSize  float64
	AvgPrice     float64
	OriginalSize float64
}

// ClobGateway 签名与提交后端。实盘由 SDK 客户端实现，测试用桩替代。
type ClobGateway interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResponse, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	CollateralBalance(ctx context.Context) (float64, error)
}

// LiveConfig 实盘执行配置
type LiveConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`       // 成交轮询间隔，默认 1s
	MaxPollDuration   time.Duration `yaml:"max_poll_duration"`   // GTC 订单的最长轮询时间
	MinExpirationLead time.Duration `yaml:"min_expiration_lead"` // GTD 过期时间下限
	SlippageGuardBps  float64       `yaml:"slippage_guard_bps"`  // 滑点告警阈值（仅告警）
	BalanceCacheTTL   time.Duration `yaml:"balance_cache_ttl"`   // 余额缓存 TTL，默认 10s
	Retry             RetryPolicy   `yaml:"-"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
}

// DefaultLiveConfig 默认实盘配置
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		PollInterval:      time.Second,
		MaxPollDuration:   90 * time.Second,
		MinExpirationLead: 60 * time.Second,
		SlippageGuardBps:  100,
		BalanceCacheTTL:   10 * time.Second,
		Retry:             DefaultRetryPolicy(),
		BreakerThreshold:  3,
		BreakerCooldown:   30 * time.Second,
	}
}

const balanceCacheKey = "collateral"

// LiveExecutor 实盘执行器。本地账本镜像 paper 的均价/盈亏逻辑，
// 让止盈止损和清仓无需额外网络往返。
type LiveExecutor struct {
	cfg     LiveConfig
	gw      ClobGateway
	breaker *risk.CircuitBreaker
	book    *positionBook
	balCache *cache.InMemoryCache[string, float64]
	prices   PriceSource

	openOrders map[string]struct{} // 仍在挂的订单 ID
}

// NewLiveExecutor 创建实盘执行器并预热余额。
// gw 不可用（取不到余额）时返回错误：这是配置问题，不是交易结果。
func NewLiveExecutor(ctx context.Context, cfg LiveConfig, gw ClobGateway, prices PriceSource) (*LiveExecutor, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = 90 * time.Second
	}
	if cfg.MinExpirationLead <= 0 {
		cfg.MinExpirationLead = 60 * time.Second
	}
	if cfg.BalanceCacheTTL <= 0 {
		cfg.BalanceCacheTTL = 10 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	balance, err := gw.CollateralBalance(ctx)
	if err != nil {
		return nil, err
	}

	e := &LiveExecutor{
		cfg:        cfg,
		gw:         gw,
		breaker:    risk.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		book:       newPositionBook(balance),
		balCache:   cache.NewInMemoryCache[string, float64](cfg.BalanceCacheTTL),
		prices:     prices,
		openOrders: make(map[string]struct{}),
	}
	e.balCache.Set(balanceCacheKey, balance, cfg.BalanceCacheTTL)
	return e, nil
}

func (e *LiveExecutor) GetMode() domain.ExecutionMode { return domain.ModeLive }
func (e *LiveExecutor) IsReady() bool                 { return e.gw != nil }

// GetBalance 短 TTL 缓存余额，成交时失效。
func (e *LiveExecutor) GetBalance(ctx context.Context) (float64, error) {
	if v, ok := e.balCache.Get(balanceCacheKey); ok {
		return v, nil
	}
	balance, err := e.gw.CollateralBalance(ctx)
	if err != nil {
		return 0, err
	}
	e.balCache.Set(balanceCacheKey, balance, e.cfg.BalanceCacheTTL)
	e.book.balance = balance
	return balance, nil
}

func (e *LiveExecutor) GetPosition(tokenID string) (domain.Position, bool) {
	pos, ok := e.book.positions[tokenID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

func (e *LiveExecutor) GetAllPositions() []domain.Position { return e.book.allPositions() }
func (e *LiveExecutor) GetSpend() domain.SpendTracker      { return e.book.spend.Snapshot() }
func (e *LiveExecutor) State() domain.TradingState         { return e.book.state() }

// Execute 实盘订单生命周期：熔断门 → 带重试提交 → 成交轮询 → 终态。
func (e *LiveExecutor) Execute(ctx context.Context, spec *domain.OrderSpec) *domain.OrderResult {
	now := time.Now()
	res := &domain.OrderResult{Mode: domain.ModeLive, PlacedAt: now}

	if err := spec.Validate(); err != nil {
		return failResult(res, err.Error())
	}

	// 熔断打开时本地短路，不碰网络
	if !e.breaker.AllowRequest() {
		return failResult(res, risk.ErrCircuitBreakerOpen.Error())
	}

	req := PlaceOrderRequest{
		TokenID:   spec.TokenID,
		Side:      spec.Side,
		Price:     spec.Price,
		Size:      spec.Size,
		OrderType: spec.OrderType,
		PostOnly:  spec.PostOnly,
	}
	deadline := now.Add(e.cfg.MaxPollDuration)
	if spec.TimeInForce == domain.TimeInForceGTD {
		lead := time.Duration(spec.ExpiresInMs) * time.Millisecond
		if lead < e.cfg.MinExpirationLead {
			lead = e.cfg.MinExpirationLead
		}
		expiry := now.Add(lead)
		req.ExpiresAt = expiry.Unix()
		deadline = expiry
	}

	var resp PlaceOrderResponse
	err := e.cfg.Retry.Do(ctx, func() error {
		var opErr error
		resp, opErr = e.gw.PlaceOrder(ctx, req)
		return opErr
	})
	if err != nil {
		e.breaker.RecordFailure()
		logger.Errorf("下单失败: %s %s %.2f@%.4f: %v", spec.Side, spec.TokenID, spec.Size, spec.Price, err)
		return failResult(res, err.Error())
	}
	e.breaker.RecordSuccess()

	res.OrderID = resp.OrderID
	if res.OrderID == "" {
		res.OrderID = "live-" + uuid.NewString()
	}

	// 即时全量成交
	if resp.Status == gwStatusMatched && resp.MatchedSize >= spec.Size-1e-9 {
		return e.finalize(res, spec, spec.Size, fillPriceOr(resp.AvgPrice, spec.Price), domain.OrderStatusFilled, false)
	}

	// 部分即时成交或挂单：进入轮询
	e.openOrders[res.OrderID] = struct{}{}
	defer delete(e.openOrders, res.OrderID)
	return e.pollUntilDone(ctx, res, spec, deadline)
}

// pollUntilDone 轮询订单状态直到全量成交、被撤或超时。
// 超时主动撤单，再查一次终态区分 partial / expired。
func (e *LiveExecutor) pollUntilDone(ctx context.Context, res *domain.OrderResult, spec *domain.OrderSpec, deadline time.Time) *domain.OrderResult {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var lastMatched float64
	var lastPrice float64

	for {
		select {
		case <-ctx.Done():
			return e.cancelAndFinalize(context.Background(), res, spec, lastMatched, lastPrice)
		case <-ticker.C:
		}

		st, err := e.gw.OrderStatus(ctx, res.OrderID)
		if err != nil {
			logger.Warnf("查询订单状态失败 %s: %v", res.OrderID, err)
		} else {
			lastMatched = st.MatchedSize
			lastPrice = st.AvgPrice
			if st.Status == gwStatusMatched || st.MatchedSize >= spec.Size-1e-9 {
				return e.finalize(res, spec, spec.Size, fillPriceOr(st.AvgPrice, spec.Price), domain.OrderStatusFilled, false)
			}
			if st.Status == gwStatusCancelled {
				if st.MatchedSize > 0 {
					return e.finalize(res, spec, st.MatchedSize, fillPriceOr(st.AvgPrice, spec.Price), domain.OrderStatusPartial, false)
				}
				res.Status = domain.OrderStatusCancelled
				res.RemainingSize = spec.Size
				res.ExecutedAt = time.Now()
				return res
			}
		}

		if time.Now().After(deadline) {
			return e.cancelAndFinalize(ctx, res, spec, lastMatched, lastPrice)
		}
	}
}

// cancelAndFinalize 超时路径：撤单后按最终成交量定 partial / expired。
func (e *LiveExecutor) cancelAndFinalize(ctx context.Context, res *domain.OrderResult, spec *domain.OrderSpec, lastMatched, lastPrice float64) *domain.OrderResult {
	if err := e.gw.CancelOrder(ctx, res.OrderID); err != nil {
		logger.Warnf("撤单失败 %s: %v", res.OrderID, err)
	}

	matched, price := lastMatched, lastPrice
	if st, err := e.gw.OrderStatus(ctx, res.OrderID); err == nil {
		matched, price = st.MatchedSize, st.AvgPrice
	}

	if matched > 0 {
		return e.finalize(res, spec, matched, fillPriceOr(price, spec.Price), domain.OrderStatusPartial, true)
	}
	res.Status = domain.OrderStatusExpired
	res.Expired = true
	res.RemainingSize = spec.Size
	res.ExecutedAt = time.Now()
	return res
}

// finalize 记账并填充终态结果。滑点超限仅告警，成交既成事实不回滚。
func (e *LiveExecutor) finalize(res *domain.OrderResult, spec *domain.OrderSpec, filled, price float64, status domain.OrderStatus, expired bool) *domain.OrderResult {
	if spec.Side == domain.SideBuy {
		e.book.applyBuy(spec.TokenID, spec.MarketID, filled, price)
	} else {
		pnl := e.book.applySell(spec.TokenID, filled, price)
		logger.Infof("实盘卖出: %s %.2f @ %.4f pnl=%.2f", spec.TokenID, filled, price, pnl)
	}
	e.balCache.Delete(balanceCacheKey)

	res.Status = status
	res.Expired = expired
	res.FilledSize = filled
	res.AvgFillPrice = price
	res.RemainingSize = spec.Size - filled
	if res.RemainingSize < 0 {
		res.RemainingSize = 0
	}
	res.SlippageBps = adverseBps(spec.Price, price, spec.Side)
	res.ExecutedAt = time.Now()

	if e.cfg.SlippageGuardBps > 0 && res.SlippageBps > e.cfg.SlippageGuardBps {
		logger.Warnf("滑点超限: %s 请求 %.4f 成交 %.4f (%.0fbps > %.0fbps)",
			spec.TokenID, spec.Price, price, res.SlippageBps, e.cfg.SlippageGuardBps)
	}
	return res
}

// SellAllPositions 先撤掉全部挂单，再对每个持仓发全量市价卖单。
func (e *LiveExecutor) SellAllPositions(ctx context.Context, reason string) []*domain.OrderResult {
	for orderID := range e.openOrders {
		if err := e.gw.CancelOrder(ctx, orderID); err != nil {
			logger.Warnf("清仓撤单失败 %s: %v", orderID, err)
		}
	}

	positions := e.book.allPositions()
	if len(positions) == 0 {
		return nil
	}
	logger.Warnf("实盘清仓 (%s): %d 个持仓", reason, len(positions))

	results := make([]*domain.OrderResult, 0, len(positions))
	for _, pos := range positions {
		price := pos.AvgPrice
		if e.prices != nil {
			if quoted := e.prices(pos.TokenID); quoted > 0 {
				price = quoted
			}
		}
		spec := &domain.OrderSpec{
			TokenID:     pos.TokenID,
			MarketID:    pos.MarketID,
			Side:        domain.SideSell,
			Price:       price,
			Size:        pos.Quantity,
			OrderType:   domain.OrderTypeMarket,
			TimeInForce: domain.TimeInForceGTC,
		}
		results = append(results, e.Execute(ctx, spec))
	}
	return results
}

// Breaker 暴露给监控/面板只读使用
func (e *LiveExecutor) Breaker() *risk.CircuitBreaker { return e.breaker }

func fillPriceOr(price, fallback float64) float64 {
	if price > 0 {
		return price
	}
	return fallback
}
