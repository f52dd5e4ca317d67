package risk

import (
	"fmt"
	"sync"
	"time"
)

// ErrCircuitBreakerOpen 表示熔断器已打开，禁止继续下单。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// BreakerState 熔断器状态
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // 正常放行
	StateOpen     BreakerState = "open"      // 熔断中，冷却期内全部拒绝
	StateHalfOpen BreakerState = "half-open" // 冷却结束，放行探测请求
)

// CircuitBreaker 三态熔断器：连续失败达到阈值后打开，
// 冷却期结束进入半开放行探测；探测成功闭合，失败重新打开。
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	threshold int
	cooldown  time.Duration
}

// NewCircuitBreaker threshold <= 0 取 3，cooldown <= 0 取 30s。
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// AllowRequest 当前是否放行。open 状态冷却期已过则切到 half-open 并放行探测。
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess 成功：闭合并清零失败计数。
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// RecordFailure 失败：半开状态立即重新打开；闭合状态累计到阈值后打开。
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
	}
}

// State 当前状态
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures 当前连续失败计数
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
