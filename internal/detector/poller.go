package detector

import (
	"context"
	"time"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
)

// ActivityTrade 活动/成交源返回的一条成交记录
type ActivityTrade struct {
	ID          string // 源侧唯一 ID
	Trader      string
	TokenID     string
	MarketID    string
	MarketTitle string
	Side        domain.Side
	Size        float64
	Price       float64
	Timestamp   time.Time
}

// TraderFeed 轮询数据源（REST）
type TraderFeed interface {
	RecentTrades(ctx context.Context, trader string, limit int) ([]ActivityTrade, error)
	Positions(ctx context.Context, trader string) ([]PositionRecord, error)
}

// PollerConfig 双通道轮询配置
type PollerConfig struct {
	Trader            string        `yaml:"trader"`
	ActivityInterval  time.Duration `yaml:"activity_interval"`  // 成交轮询周期
	PositionsInterval time.Duration `yaml:"positions_interval"` // 持仓轮询周期
	SizeTolerance     float64       `yaml:"size_tolerance"`     // 跨通道匹配的数量容差（份额）
	MinDelta          float64       `yaml:"min_delta"`          // 持仓 diff 最小变化
	PendingMaxAge     time.Duration `yaml:"pending_max_age"`    // 待匹配队列的最大存活
	PendingMaxSize    int           `yaml:"pending_max_size"`   // 待匹配队列的最大长度
	TradeBatchLimit   int           `yaml:"trade_batch_limit"`  // 单次拉取的成交条数
}

// DefaultPollerConfig 默认轮询配置
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		ActivityInterval:  3 * time.Second,
		PositionsInterval: 10 * time.Second,
		SizeTolerance:     0.01,
		MinDelta:          DefaultMinDelta,
		PendingMaxAge:     10 * time.Minute,
		PendingMaxSize:    256,
		TradeBatchLimit:   50,
	}
}

// pendingEvent 待跨通道匹配的事件
type pendingEvent struct {
	tokenID string
	side    domain.Side
	size    float64
	seenAt  time.Time
}

// Poller 双通道轮询对账器。两个通道独立发现成交：
// 先到者发射 DetectedTrade，后到者与待匹配队列对账，只用于延迟审计。
// 通道间不保证顺序，匹配按容差而非序列。
type Poller struct {
	cfg  PollerConfig
	feed TraderFeed
	out  chan<- domain.DetectedTrade

	pendingActivity []pendingEvent // 已由活动通道发射、等持仓通道确认
	pendingChanges  []pendingEvent // 已由持仓通道发射、等活动通道确认

	prevPositions map[string]PositionRecord
	havePrev      bool

	seenTrades map[string]struct{}
	seenOrder  []string
}

// maxSeenTrades 活动成交去重集合的容量上限
const maxSeenTrades = 4096

// NewPoller out 由调用方持有，Poller 只写不关。
func NewPoller(cfg PollerConfig, feed TraderFeed, out chan<- domain.DetectedTrade) *Poller {
	def := DefaultPollerConfig()
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = def.ActivityInterval
	}
	if cfg.PositionsInterval <= 0 {
		cfg.PositionsInterval = def.PositionsInterval
	}
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = def.SizeTolerance
	}
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = def.MinDelta
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = def.PendingMaxAge
	}
	if cfg.PendingMaxSize <= 0 {
		cfg.PendingMaxSize = def.PendingMaxSize
	}
	if cfg.TradeBatchLimit <= 0 {
		cfg.TradeBatchLimit = def.TradeBatchLimit
	}
	return &Poller{
		cfg:        cfg,
		feed:       feed,
		out:        out,
		seenTrades: make(map[string]struct{}),
	}
}

// Run 两个独立定时器驱动，阻塞直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) error {
	activityTicker := time.NewTicker(p.cfg.ActivityInterval)
	defer activityTicker.Stop()
	positionsTicker := time.NewTicker(p.cfg.PositionsInterval)
	defer positionsTicker.Stop()

	logger.Infof("轮询检测启动: trader=%s activity=%s positions=%s",
		p.cfg.Trader, p.cfg.ActivityInterval, p.cfg.PositionsInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-activityTicker.C:
			p.pollActivity(ctx)
		case <-positionsTicker.C:
			p.pollPositions(ctx)
		}
	}
}

func (p *Poller) pollActivity(ctx context.Context) {
	trades, err := p.feed.RecentTrades(ctx, p.cfg.Trader, p.cfg.TradeBatchLimit)
	if err != nil {
		logger.Warnf("拉取成交失败: %v", err)
		return
	}
	for i := range trades {
		p.handleActivityTrade(&trades[i], time.Now())
	}
}

func (p *Poller) pollPositions(ctx context.Context) {
	records, err := p.feed.Positions(ctx, p.cfg.Trader)
	if err != nil {
		logger.Warnf("拉取持仓失败: %v", err)
		return
	}
	curr := make(map[string]PositionRecord, len(records))
	for _, r := range records {
		curr[r.TokenID] = r
	}
	p.handlePositionSnapshot(curr, time.Now())
}

// handleActivityTrade 处理一条活动成交。
// 与持仓通道的待匹配队列对账：命中表示该成交已被另一通道发射，只记延迟。
func (p *Poller) handleActivityTrade(tr *ActivityTrade, now time.Time) {
	if tr.ID != "" {
		if _, dup := p.seenTrades[tr.ID]; dup {
			return
		}
		p.rememberTrade(tr.ID)
	}

	p.prune(now)
	if matched, at := p.takeMatch(&p.pendingChanges, tr.TokenID, tr.Side, tr.Size); matched {
		logger.Debugf("通道对账命中(活动后到): %s %s %.2f 延迟=%dms",
			tr.TokenID, tr.Side, tr.Size, now.Sub(at).Milliseconds())
		return
	}

	p.pendingActivity = appendBounded(p.pendingActivity, pendingEvent{
		tokenID: tr.TokenID, side: tr.Side, size: tr.Size, seenAt: now,
	}, p.cfg.PendingMaxSize)

	p.emit(domain.DetectedTrade{
		ID:              tr.ID,
		Trader:          tr.Trader,
		TokenID:         tr.TokenID,
		MarketID:        tr.MarketID,
		MarketTitle:     tr.MarketTitle,
		Side:            tr.Side,
		Size:            tr.Size,
		Price:           tr.Price,
		UsdcSize:        tr.Size * tr.Price,
		Source:          domain.SourceActivityFeed,
		SourceTimestamp: tr.Timestamp,
		DetectedAt:      now,
	})
}

// handlePositionSnapshot 处理一份持仓快照。首份快照只建立基线，不发射。
func (p *Poller) handlePositionSnapshot(curr map[string]PositionRecord, now time.Time) {
	if !p.havePrev {
		p.prevPositions = curr
		p.havePrev = true
		return
	}

	changes := DiffPositions(p.cfg.Trader, p.prevPositions, curr, p.cfg.MinDelta, now)
	p.prevPositions = curr

	p.prune(now)
	for i := range changes {
		ch := &changes[i]
		if matched, at := p.takeMatch(&p.pendingActivity, ch.TokenID, ch.Side, ch.Delta); matched {
			logger.Debugf("通道对账命中(持仓后到): %s %s %.2f 延迟=%dms",
				ch.TokenID, ch.Side, ch.Delta, now.Sub(at).Milliseconds())
			continue
		}
		p.pendingChanges = appendBounded(p.pendingChanges, pendingEvent{
			tokenID: ch.TokenID, side: ch.Side, size: ch.Delta, seenAt: now,
		}, p.cfg.PendingMaxSize)
		p.emit(ch.ToDetectedTrade())
	}
}

// takeMatch 在队列中找第一个 tokenID、方向相同且数量差 <= 容差的事件，
// 命中即移除（先到先匹配）。
func (p *Poller) takeMatch(queue *[]pendingEvent, tokenID string, side domain.Side, size float64) (bool, time.Time) {
	for i, ev := range *queue {
		if ev.tokenID != tokenID || ev.side != side {
			continue
		}
		diff := ev.size - size
		if diff < 0 {
			diff = -diff
		}
		if diff <= p.cfg.SizeTolerance {
			at := ev.seenAt
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return true, at
		}
	}
	return false, time.Time{}
}

// prune 淘汰超龄的待匹配事件
func (p *Poller) prune(now time.Time) {
	p.pendingActivity = pruneAged(p.pendingActivity, now, p.cfg.PendingMaxAge)
	p.pendingChanges = pruneAged(p.pendingChanges, now, p.cfg.PendingMaxAge)
}

func pruneAged(queue []pendingEvent, now time.Time, maxAge time.Duration) []pendingEvent {
	kept := queue[:0]
	for _, ev := range queue {
		if now.Sub(ev.seenAt) <= maxAge {
			kept = append(kept, ev)
		}
	}
	return kept
}

func appendBounded(queue []pendingEvent, ev pendingEvent, max int) []pendingEvent {
	queue = append(queue, ev)
	if len(queue) > max {
		queue = queue[len(queue)-max:]
	}
	return queue
}

func (p *Poller) rememberTrade(id string) {
	p.seenTrades[id] = struct{}{}
	p.seenOrder = append(p.seenOrder, id)
	if len(p.seenOrder) > maxSeenTrades {
		delete(p.seenTrades, p.seenOrder[0])
		p.seenOrder = p.seenOrder[1:]
	}
}

func (p *Poller) emit(tr domain.DetectedTrade) {
	p.out <- tr
}
