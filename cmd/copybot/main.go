package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/copybot/internal/dashboard"
	"github.com/betbot/copybot/internal/detector"
	"github.com/betbot/copybot/internal/engine"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/history"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/config"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/persistence"
	"github.com/betbot/copybot/pkg/sdk/api"
	"github.com/betbot/copybot/pkg/shutdown"
	"github.com/betbot/copybot/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flag.Parse()

	// .env 可选，正式部署用真实环境变量
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("copybot 启动: mode=%s source=%s", cfg.Mode, cfg.Detector.Source)

	ctx, cancel := shutdown.SignalContext(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logger.Info("copybot 已退出")
}

func run(ctx context.Context, cfg *config.Config) error {
	mgr := shutdown.NewManager()

	// ---- 外部客户端 ----
	var auth *api.Auth
	if cfg.Mode == config.ModeLive {
		var err error
		auth, err = api.NewAuthFromKey(cfg.Wallet.PrivateKey)
		if err != nil {
			return fmt.Errorf("解析钱包私钥: %w", err)
		}
		logger.Infof("签名地址: %s", auth.GetAddress())
	}

	clob := api.NewClobClient(cfg.Endpoints.ClobURL, auth)
	if cfg.Wallet.FunderAddress != "" {
		clob.SetFunder(cfg.Wallet.FunderAddress)
	}
	if cfg.Wallet.SignatureType > 0 {
		clob.SetSignatureType(cfg.Wallet.SignatureType)
	}
	books := engine.NewClobBooks(clob)

	// ---- 执行器 ----
	exec, err := buildExecutor(ctx, cfg, clob, books)
	if err != nil {
		return err
	}

	// ---- 本地存储 ----
	var records *persistence.Store
	if cfg.Storage.ResultsPath != "" {
		records, err = persistence.Open(cfg.Storage.ResultsPath)
		if err != nil {
			return fmt.Errorf("打开执行记录库: %w", err)
		}
		mgr.OnShutdown(func(context.Context) {
			if err := records.Close(); err != nil {
				logger.Errorf("关闭执行记录库: %v", err)
			}
		})
	}
	var hist *history.Store
	if cfg.Storage.HistoryPath != "" {
		hist, err = history.Open(cfg.Storage.HistoryPath)
		if err != nil {
			return fmt.Errorf("打开历史库: %w", err)
		}
		mgr.OnShutdown(func(context.Context) {
			if err := hist.Close(); err != nil {
				logger.Errorf("关闭历史库: %v", err)
			}
		})
	}

	// ---- 引擎 ----
	checker := risk.NewChecker(cfg.Risk)
	eng := engine.New(cfg.Engine, books, checker, exec, records, hist)

	sg := syncgroup.New()
	sg.Go(func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("引擎退出: %v", err)
		}
	})

	// ---- 检测器 ----
	if cfg.Detector.Source != config.SourceOnchain {
		feed := engine.NewDataFeed(api.NewDataClient(cfg.Endpoints.DataAPIURL))
		poller := detector.NewPoller(cfg.Detector.Poller, feed, eng.TradesIn())
		sg.Go(func() {
			supervise(ctx, "轮询检测", poller.Run)
		})
	}
	if cfg.Detector.Source != config.SourcePoll {
		onchain := detector.NewOnchainDetector(cfg.Detector.Onchain, eng.TradesIn())
		socket := api.NewFillSocket(cfg.Endpoints.PolygonWS...)
		sg.Go(func() {
			supervise(ctx, "链上检测", func(ctx context.Context) error {
				return onchain.Run(ctx, socket)
			})
		})
	}

	// ---- 监控面板 ----
	if cfg.Dashboard.Enabled {
		srv := dashboard.New(dashboard.Config{
			Enabled: true,
			Listen:  cfg.Dashboard.Listen,
		}, exec, checker, eng, records, hist)
		sg.Go(func() {
			if err := srv.Run(ctx); err != nil {
				logger.Errorf("面板退出: %v", err)
			}
		})
	}

	<-ctx.Done()
	sg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	return nil
}

// buildExecutor 按模式构建执行器。ClobBooks 同时充当清仓报价来源。
func buildExecutor(ctx context.Context, cfg *config.Config, clob *api.ClobClient, books *engine.ClobBooks) (executor.Executor, error) {
	if cfg.Mode == config.ModePaper {
		logger.Infof("模拟盘: 初始余额 %.2f USDC", cfg.Paper.InitialBalance)
		return executor.NewPaperExecutor(cfg.Paper, books.SellQuote), nil
	}

	// 多结果市场解析需要额外的市场元数据接口，当前统一按经典交易所签名
	gw := executor.NewSDKGateway(clob, nil)
	exec, err := executor.NewLiveExecutor(ctx, cfg.Live, gw, books.SellQuote)
	if err != nil {
		return nil, fmt.Errorf("初始化实盘执行器: %w", err)
	}
	return exec, nil
}

// supervise 拉起检测循环并在断开后指数退避重启，直到 ctx 取消。
func supervise(ctx context.Context, name string, run func(context.Context) error) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("%s中断: %v，%s 后重启", name, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
