// Package engine 串联检测 → 分析 → 换算 → 风控 → 执行的跟单主流程。
// 单 goroutine 消费检测事件，天然序列化执行，不需要额外互斥。
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/copybot/internal/analyzer"
	"github.com/betbot/copybot/internal/calculator"
	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/history"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/persistence"
)

// BookFetcher 盘口来源
type BookFetcher interface {
	FetchBook(ctx context.Context, tokenID string) (bids, asks []domain.BookLevel, err error)
}

// Config 引擎配置
type Config struct {
	Analyzer     analyzer.Config   `yaml:"analyzer"`
	Calculator   calculator.Config `yaml:"calculator"`
	SkipVolatile bool              `yaml:"skip_volatile"` // 波动市况直接放弃本次跟单
	QueueSize    int               `yaml:"queue_size"`    // 检测事件队列长度

	// LiquidateOnKill 总亏损触发 kill switch 后自动清仓
	LiquidateOnKill bool `yaml:"liquidate_on_kill"`

	// BookTimeout 单次盘口拉取超时
	BookTimeout time.Duration `yaml:"book_timeout"`
}

// DefaultConfig 默认引擎配置
func DefaultConfig() Config {
	return Config{
		Analyzer:    analyzer.DefaultConfig(),
		Calculator:  calculator.DefaultConfig(),
		QueueSize:   256,
		BookTimeout: 5 * time.Second,
	}
}

// Stats 引擎计数快照
type Stats struct {
	Detected int64 `json:"detected"`
	Executed int64 `json:"executed"`
	Skipped  int64 `json:"skipped"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`

	// 检测延迟（源事件时间到本地检测，毫秒）
	LatencyMinMs int64 `json:"latency_min_ms"`
	LatencyAvgMs int64 `json:"latency_avg_ms"`
	LatencyMaxMs int64 `json:"latency_max_ms"`
}

// Engine 跟单引擎
type Engine struct {
	cfg     Config
	books   BookFetcher
	checker *risk.Checker
	exec    executor.Executor
	records *persistence.Store // 可为 nil
	hist    *history.Store     // 可为 nil

	trades chan domain.DetectedTrade

	liquidated atomic.Bool

	detected atomic.Int64
	executed atomic.Int64
	skipped  atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64

	// 延迟聚合由面板并发读取，单独加锁
	latMu  sync.Mutex
	latMin int64
	latMax int64
	latSum int64
	latN   int64
}

// New records 与 hist 允许为 nil（不落盘）。
func New(cfg Config, books BookFetcher, checker *risk.Checker, exec executor.Executor, records *persistence.Store, hist *history.Store) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BookTimeout <= 0 {
		cfg.BookTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		books:   books,
		checker: checker,
		exec:    exec,
		records: records,
		hist:    hist,
		trades:  make(chan domain.DetectedTrade, cfg.QueueSize),
	}
}

// TradesIn 检测器写入通道
func (e *Engine) TradesIn() chan<- domain.DetectedTrade {
	return e.trades
}

// Stats 返回计数快照
func (e *Engine) Stats() Stats {
	s := Stats{
		Detected: e.detected.Load(),
		Executed: e.executed.Load(),
		Skipped:  e.skipped.Load(),
		Rejected: e.rejected.Load(),
		Failed:   e.failed.Load(),
	}

	e.latMu.Lock()
	if e.latN > 0 {
		s.LatencyMinMs = e.latMin
		s.LatencyMaxMs = e.latMax
		s.LatencyAvgMs = e.latSum / e.latN
	}
	e.latMu.Unlock()
	return s
}

// observeLatency 累计一条检测延迟样本
func (e *Engine) observeLatency(ms int64) {
	e.latMu.Lock()
	defer e.latMu.Unlock()

	if e.latN == 0 || ms < e.latMin {
		e.latMin = ms
	}
	if ms > e.latMax {
		e.latMax = ms
	}
	e.latSum += ms
	e.latN++
}

// Run 消费检测事件直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("引擎启动: mode=%s queue=%d", e.exec.GetMode(), cap(e.trades))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr := <-e.trades:
			e.handle(ctx, &tr)
		}
	}
}

// handle 处理一条检测事件的完整决策链
func (e *Engine) handle(ctx context.Context, tr *domain.DetectedTrade) {
	e.detected.Add(1)
	e.observeLatency(tr.DetectionLatencyMs())
	logger.Infof("检测到成交: %s %s %.2f@%.4f source=%s latency=%dms",
		tr.Side, tr.TokenID, tr.Size, tr.Price, tr.Source, tr.DetectionLatencyMs())

	snap := e.snapshot(ctx, tr)
	if snap != nil && e.cfg.SkipVolatile && snap.IsVolatile {
		e.skip(tr, snap, "volatile market: "+string(snap.Condition))
		return
	}

	// 刷新余额快照（live 模式短缓存，失败用本地账本值继续）
	if _, err := e.exec.GetBalance(ctx); err != nil {
		logger.Warnf("刷新余额失败: %v", err)
	}
	state := e.exec.State()

	view := calculator.StateView{
		Balance:     state.Balance,
		HeldQty:     state.HeldQuantity(tr.TokenID),
		TotalShares: state.TotalShares,
	}
	spec, reason := calculator.Calculate(e.cfg.Calculator, tr, snap, view)
	if spec == nil {
		e.skip(tr, snap, reason)
		return
	}

	result := e.checkAndExecute(ctx, spec, &state)
	if result == nil {
		return
	}

	switch result.Status {
	case domain.OrderStatusFailed:
		e.failed.Add(1)
	default:
		e.executed.Add(1)
	}
	e.save(buildRecord(tr, spec, snap, result, e.exec.GetMode()))
}

// checkAndExecute 风控门 + 执行。风控拒绝返回 nil（已记账）。
func (e *Engine) checkAndExecute(ctx context.Context, spec *domain.OrderSpec, state *domain.TradingState) *domain.OrderResult {
	verdict := e.checker.Check(spec, state)
	if !verdict.Approved {
		e.rejected.Add(1)
		logger.Warnf("风控拒绝: %s (%s %s %.2f@%.4f)",
			verdict.Reason, spec.Side, spec.TokenID, spec.Size, spec.Price)
		e.save(rejectedRecord(spec, verdict.Reason, e.exec.GetMode()))
		e.maybeLiquidate(ctx, verdict.Reason)
		return nil
	}
	for _, w := range verdict.Warnings {
		logger.Warnf("风控警告(%s): %s", verdict.Level, w)
	}

	return e.exec.Execute(ctx, spec)
}

// maybeLiquidate kill switch 首次触发时按配置清仓（只执行一次）
func (e *Engine) maybeLiquidate(ctx context.Context, reason string) {
	if !e.cfg.LiquidateOnKill || !e.checker.KillSwitchActive() {
		return
	}
	if !e.liquidated.CompareAndSwap(false, true) {
		return
	}

	logger.Errorf("触发自动清仓: %s", reason)
	results := e.exec.SellAllPositions(ctx, reason)
	for _, res := range results {
		e.save(liquidationRecord(res, reason, e.exec.GetMode()))
	}
}

// snapshot 拉取盘口并计算市况。拉取失败返回 nil，下游按降级处理。
func (e *Engine) snapshot(ctx context.Context, tr *domain.DetectedTrade) *domain.MarketSnapshot {
	if e.books == nil {
		return nil
	}
	bookCtx, cancel := context.WithTimeout(ctx, e.cfg.BookTimeout)
	defer cancel()

	bids, asks, err := e.books.FetchBook(bookCtx, tr.TokenID)
	if err != nil {
		logger.Warnf("拉取盘口失败 %s: %v", tr.TokenID, err)
		return nil
	}

	targetSize := tr.Size * e.cfg.Calculator.TraderFraction
	snap := analyzer.Analyze(e.cfg.Analyzer, tr.TokenID, bids, asks, tr.Price, targetSize)
	return &snap
}

func (e *Engine) skip(tr *domain.DetectedTrade, snap *domain.MarketSnapshot, reason string) {
	e.skipped.Add(1)
	logger.Infof("跳过跟单: %s (%s %s %.2f)", reason, tr.Side, tr.TokenID, tr.Size)
	e.save(skippedRecord(tr, snap, reason, e.exec.GetMode()))
}

func (e *Engine) save(rec *persistence.Record) {
	if e.records != nil {
		if err := e.records.SaveResult(rec); err != nil {
			logger.Errorf("写执行记录失败: %v", err)
		}
	}
	if e.hist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.hist.Insert(ctx, rec); err != nil {
			logger.Errorf("写历史库失败: %v", err)
		}
	}
}

func buildRecord(tr *domain.DetectedTrade, spec *domain.OrderSpec, snap *domain.MarketSnapshot, res *domain.OrderResult, mode domain.ExecutionMode) *persistence.Record {
	rec := &persistence.Record{
		OrderID:            res.OrderID,
		Trader:             tr.Trader,
		TokenID:            tr.TokenID,
		MarketID:           tr.MarketID,
		MarketTitle:        tr.MarketTitle,
		Side:               string(spec.Side),
		RequestedSize:      spec.Size,
		RequestedPrice:     spec.Price,
		FilledSize:         res.FilledSize,
		AvgFillPrice:       res.AvgFillPrice,
		Status:             string(res.Status),
		Mode:               string(mode),
		Error:              res.Error,
		Source:             string(tr.Source),
		SlippageBps:        res.SlippageBps,
		DetectionLatencyMs: tr.DetectionLatencyMs(),
		PlacedAt:           res.PlacedAt,
		ExecutedAt:         res.ExecutedAt,
	}
	if snap != nil {
		rec.Condition = string(snap.Condition)
	}
	return rec
}

func skippedRecord(tr *domain.DetectedTrade, snap *domain.MarketSnapshot, reason string, mode domain.ExecutionMode) *persistence.Record {
	rec := &persistence.Record{
		Trader:             tr.Trader,
		TokenID:            tr.TokenID,
		MarketID:           tr.MarketID,
		MarketTitle:        tr.MarketTitle,
		Side:               string(tr.Side),
		RequestedSize:      0,
		RequestedPrice:     tr.Price,
		Status:             "skipped",
		Mode:               string(mode),
		Error:              reason,
		Source:             string(tr.Source),
		DetectionLatencyMs: tr.DetectionLatencyMs(),
		ExecutedAt:         time.Now(),
	}
	if snap != nil {
		rec.Condition = string(snap.Condition)
	}
	return rec
}

func rejectedRecord(spec *domain.OrderSpec, reason string, mode domain.ExecutionMode) *persistence.Record {
	rec := &persistence.Record{
		TokenID:        spec.TokenID,
		MarketID:       spec.MarketID,
		Side:           string(spec.Side),
		RequestedSize:  spec.Size,
		RequestedPrice: spec.Price,
		Status:         "rejected",
		Mode:           string(mode),
		Error:          reason,
		ExecutedAt:     time.Now(),
	}
	if spec.Trigger != nil {
		rec.Trader = spec.Trigger.Trader
		rec.MarketTitle = spec.Trigger.MarketTitle
		rec.Source = string(spec.Trigger.Source)
		rec.DetectionLatencyMs = spec.Trigger.DetectionLatencyMs()
	}
	return rec
}

func liquidationRecord(res *domain.OrderResult, reason string, mode domain.ExecutionMode) *persistence.Record {
	return &persistence.Record{
		OrderID:      res.OrderID,
		Side:         string(domain.SideSell),
		FilledSize:   res.FilledSize,
		AvgFillPrice: res.AvgFillPrice,
		Status:       string(res.Status),
		Mode:         string(mode),
		Error:        res.Error,
		Source:       "liquidation: " + reason,
		SlippageBps:  res.SlippageBps,
		PlacedAt:     res.PlacedAt,
		ExecutedAt:   res.ExecutedAt,
	}
}
