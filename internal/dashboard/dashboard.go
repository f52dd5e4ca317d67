// Package dashboard 只读监控面板：交易状态、执行记录与聚合统计。
// 不提供任何改变交易行为的接口。
package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/copybot/internal/engine"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/history"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/persistence"
)

// Config 面板配置
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // 监听地址，默认 :8080
}

// DefaultConfig 默认面板配置
func DefaultConfig() Config {
	return Config{Listen: ":8080"}
}

// breakerHolder 实盘执行器暴露熔断器，模拟盘没有
type breakerHolder interface {
	Breaker() *risk.CircuitBreaker
}

// Server 只读面板
type Server struct {
	cfg     Config
	exec    executor.Executor
	checker *risk.Checker
	eng     *engine.Engine
	records *persistence.Store // 可为 nil
	hist    *history.Store     // 可为 nil

	srv *http.Server
}

// New 创建面板服务
func New(cfg Config, exec executor.Executor, checker *risk.Checker, eng *engine.Engine, records *persistence.Store, hist *history.Store) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return &Server{
		cfg:     cfg,
		exec:    exec,
		checker: checker,
		eng:     eng,
		records: records,
		hist:    hist,
	}
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/positions", s.handlePositions)
	api.GET("/results/recent", s.handleRecentResults)
	api.GET("/history/totals", s.handleTotals)

	return r
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("面板启动: %s", s.cfg.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleState(c *gin.Context) {
	state := s.exec.State()

	resp := gin.H{
		"mode":           s.exec.GetMode(),
		"ready":          s.exec.IsReady(),
		"balance":        state.Balance,
		"daily_pnl":      state.DailyPnL,
		"total_pnl":      state.TotalPnL,
		"total_shares":   state.TotalShares,
		"open_positions": len(state.Positions),
		"holdings_value": state.Spend.TotalHoldingsValue,
		"kill_switch":    s.checker.KillSwitchActive(),
		"stats":          s.eng.Stats(),
	}
	if holder, ok := s.exec.(breakerHolder); ok {
		breaker := holder.Breaker()
		resp["breaker_state"] = breaker.State()
		resp["breaker_failures"] = breaker.Failures()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.exec.GetAllPositions())
}

func (s *Server) handleRecentResults(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	if s.records == nil {
		c.JSON(http.StatusOK, []persistence.Record{})
		return
	}
	records, err := s.records.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleTotals(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusOK, history.Totals{})
		return
	}
	totals, err := s.hist.Totals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, totals)
}

func intQuery(c *gin.Context, key string, def int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
