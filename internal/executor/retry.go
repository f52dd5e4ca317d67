package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// RejectionError 交易所的结构化拒单（success=false 带原因）。
// 不重试，但计入熔断器失败。
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// HTTPStatusError 带状态码的 HTTP 错误，429/5xx 视为瞬态。
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// isTransient 瞬态错误判定：网络重置/超时、HTTP 429/5xx。
// 结构化拒单与本地校验错误都不是瞬态。
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var rej *RejectionError
	if errors.As(err, &rej) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// RetryPolicy 有界指数退避。每次重试延迟翻倍，封顶 MaxDelay。
type RetryPolicy struct {
	MaxRetries int           // 首次尝试之外的重试次数
	BaseDelay  time.Duration // 首次重试延迟
	MaxDelay   time.Duration // 延迟上限
}

// DefaultRetryPolicy 默认 3 次重试，1s 起步、8s 封顶。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second}
}

// Do 显式循环执行 op，仅对瞬态错误重试。
// 返回最后一次的错误；非瞬态错误立即终止。
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
