// Package ratelimit 客户端侧限速：令牌桶 + 滑动窗口，按端点分组。
// 阈值对齐交易所公开的限流表，留在客户端是为了少吃 429。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// TokenBucket 令牌桶，适合允许突发的写端点
type TokenBucket struct {
	capacity   int
	refillRate int // 每秒补充
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶，初始满桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill(now time.Time) {
	add := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate
	if add <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+add)
	tb.lastRefill = now
}

// Allow 取一个令牌，取不到返回 false
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到取到令牌或 ctx 取消
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		interval := time.Second
		if tb.refillRate > 0 {
			interval = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// SlidingWindow 滑动窗口，适合按固定窗口计数的读端点
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建滑动窗口限速器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, windowSize: windowSize}
}

// Allow 窗口内还有配额则记一次请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 阻塞直到窗口腾出配额或 ctx 取消
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		wait := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if until := sw.windowSize - time.Since(sw.requests[0]); until > wait {
				wait = until
			}
		}
		sw.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// prune 丢掉窗口之外的请求记录，调用方持锁
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	kept := sw.requests[:0]
	for _, at := range sw.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	sw.requests = kept
}

// 端点分组
const (
	EndpointOrderPost   = "clob:order:post"
	EndpointOrderCancel = "clob:order:delete"
	EndpointOrderGet    = "clob:order:get"
	EndpointBookGet     = "clob:book:get"
	EndpointBalanceGet  = "clob:balance:get"
	EndpointDataTrades  = "data:trades:get"
	EndpointDataGeneral = "data:general"
)

// Manager 按端点分组的限速器集合
type Manager struct {
	limiters map[string]Limiter
	fallback Limiter
	mu       sync.RWMutex
}

// NewManager 按交易所公开限流表初始化
func NewManager() *Manager {
	return &Manager{
		limiters: map[string]Limiter{
			EndpointOrderPost:   NewTokenBucket(2400, 240), // 2400/10s
			EndpointOrderCancel: NewTokenBucket(2400, 240),
			EndpointOrderGet:    NewSlidingWindow(150, 10*time.Second),
			EndpointBookGet:     NewSlidingWindow(200, 10*time.Second),
			EndpointBalanceGet:  NewSlidingWindow(150, 10*time.Second),
			EndpointDataTrades:  NewSlidingWindow(75, 10*time.Second),
			EndpointDataGeneral: NewSlidingWindow(200, 10*time.Second),
		},
		fallback: NewSlidingWindow(500, 10*time.Second),
	}
}

// Wait 等待指定端点的配额
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.limiter(endpoint).Wait(ctx)
}

// Allow 非阻塞检查指定端点的配额
func (m *Manager) Allow(endpoint string) bool {
	return m.limiter(endpoint).Allow()
}

func (m *Manager) limiter(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}
