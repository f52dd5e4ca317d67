// Package syncgroup 包装 sync.WaitGroup：启动即登记，避免漏掉 Done。
package syncgroup

import "sync"

// Group goroutine 生命周期编组
type Group struct {
	wg sync.WaitGroup
}

// New 创建编组
func New() *Group {
	return &Group{}
}

// Go 在新 goroutine 中执行 fn 并登记到组里
func (g *Group) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait 阻塞直到组内所有 goroutine 退出
func (g *Group) Wait() {
	g.wg.Wait()
}
