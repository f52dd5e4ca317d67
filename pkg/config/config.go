// Package config 聚合全部组件配置：YAML/JSON 文件 + 环境变量覆盖。
// 钱包私钥只从环境变量读取，不落配置文件。
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/betbot/copybot/internal/detector"
	"github.com/betbot/copybot/internal/engine"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/secretstore"
)

// 执行模式
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// 检测通道
const (
	SourcePoll    = "poll"
	SourceOnchain = "onchain"
	SourceBoth    = "both"
)

// WalletConfig 钱包配置。私钥不进配置文件，
// 从 POLYMARKET_PRIVATE_KEY（或 WALLET_PRIVATE_KEY）读取。
type WalletConfig struct {
	PrivateKey    string `yaml:"-" json:"-"`
	FunderAddress string `yaml:"funder_address" json:"funder_address"`
	SignatureType int    `yaml:"signature_type" json:"signature_type"` // 0=EOA 1=邮箱代理 2=浏览器代理
}

// EndpointsConfig 外部服务端点。留空用默认值。
type EndpointsConfig struct {
	ClobURL    string   `yaml:"clob_url" json:"clob_url"`
	DataAPIURL string   `yaml:"data_api_url" json:"data_api_url"`
	PolygonWS  []string `yaml:"polygon_ws" json:"polygon_ws"`
}

// DetectorConfig 检测层配置
type DetectorConfig struct {
	Source  string                 `yaml:"source" json:"source"` // poll / onchain / both
	Poller  detector.PollerConfig  `yaml:"poller" json:"poller"`
	Onchain detector.OnchainConfig `yaml:"onchain" json:"onchain"`
}

// StorageConfig 本地落盘路径。留空关闭对应存储。
type StorageConfig struct {
	ResultsPath string `yaml:"results_path" json:"results_path"` // badger 执行记录
	HistoryPath string `yaml:"history_path" json:"history_path"` // sqlite 历史库
	SecretsPath string `yaml:"secrets_path" json:"secrets_path"` // badger 密钥库（私钥备用来源）
}

// DashboardConfig 监控面板
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// Config 应用配置
type Config struct {
	Mode      string               `yaml:"mode" json:"mode"` // paper / live
	Log       logger.Config        `yaml:"log" json:"log"`
	Wallet    WalletConfig         `yaml:"wallet" json:"wallet"`
	Endpoints EndpointsConfig      `yaml:"endpoints" json:"endpoints"`
	Detector  DetectorConfig       `yaml:"detector" json:"detector"`
	Engine    engine.Config        `yaml:"engine" json:"engine"`
	Risk      risk.Config          `yaml:"risk" json:"risk"`
	Paper     executor.PaperConfig `yaml:"paper" json:"paper"`
	Live      executor.LiveConfig  `yaml:"live" json:"live"`
	Dashboard DashboardConfig      `yaml:"dashboard" json:"dashboard"`
	Storage   StorageConfig        `yaml:"storage" json:"storage"`
}

// Default 各组件默认值的组合
func Default() *Config {
	return &Config{
		Mode: ModePaper,
		Log:  logger.Config{Level: "info"},
		Detector: DetectorConfig{
			Source:  SourcePoll,
			Poller:  detector.DefaultPollerConfig(),
			Onchain: detector.DefaultOnchainConfig(),
		},
		Engine:    engine.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Paper:     executor.DefaultPaperConfig(),
		Live:      executor.DefaultLiveConfig(),
		Dashboard: DashboardConfig{Listen: ":8080"},
		Storage: StorageConfig{
			ResultsPath: "data/results",
			HistoryPath: "data/history.db",
		},
	}
}

// Load 加载配置：默认值 ← 配置文件 ← 环境变量，然后验证。
// path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	// 环境变量里没有私钥时，退回密钥库
	if cfg.Mode == ModeLive && cfg.Wallet.PrivateKey == "" && cfg.Storage.SecretsPath != "" {
		if err := cfg.loadPrivateKeyFromStore(); err != nil {
			return nil, fmt.Errorf("从密钥库读取私钥失败: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadFile 按扩展名解析 YAML 或 JSON，直接覆盖到 cfg 上
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
}

// applyEnv 环境变量覆盖。私钥只有这一个来源。
func (c *Config) applyEnv() {
	c.Wallet.PrivateKey = getEnv("POLYMARKET_PRIVATE_KEY", getEnv("WALLET_PRIVATE_KEY", ""))

	if v := os.Getenv("COPYBOT_MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("WALLET_FUNDER_ADDRESS"); v != "" {
		c.Wallet.FunderAddress = v
	}
	if v := os.Getenv("COPY_TRADER"); v != "" {
		c.Detector.Poller.Trader = strings.ToLower(v)
	}
	if v := os.Getenv("WATCHED_ADDRESSES"); v != "" {
		c.Detector.Onchain.WatchedAddresses = splitList(v)
	}
	if v := os.Getenv("POLYGON_WS_ENDPOINTS"); v != "" {
		c.Endpoints.PolygonWS = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.OutputFile = v
	}
	if v := os.Getenv("DASHBOARD_LISTEN"); v != "" {
		c.Dashboard.Listen = v
		c.Dashboard.Enabled = true
	}
	c.Paper.InitialBalance = parseFloatEnv("PAPER_INITIAL_BALANCE", c.Paper.InitialBalance)
	c.Engine.Calculator.TraderFraction = parseFloatEnv("TRADER_FRACTION", c.Engine.Calculator.TraderFraction)
	c.Engine.Calculator.PortfolioPercentage = parseFloatEnv("PORTFOLIO_PERCENTAGE", c.Engine.Calculator.PortfolioPercentage)
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaper, ModeLive:
	default:
		return fmt.Errorf("mode 必须是 paper 或 live: %q", c.Mode)
	}

	if c.Mode == ModeLive {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("live 模式需要 POLYMARKET_PRIVATE_KEY")
		}
		if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
			return fmt.Errorf("signature_type 必须在 0 到 2 之间: %d", c.Wallet.SignatureType)
		}
	}

	switch c.Detector.Source {
	case SourcePoll, SourceOnchain, SourceBoth:
	default:
		return fmt.Errorf("detector.source 必须是 poll、onchain 或 both: %q", c.Detector.Source)
	}
	if c.Detector.Source != SourceOnchain && c.Detector.Poller.Trader == "" {
		return fmt.Errorf("轮询检测需要目标交易者地址（detector.poller.trader 或 COPY_TRADER）")
	}
	if c.Detector.Source != SourcePoll && len(c.Detector.Onchain.WatchedAddresses) == 0 {
		return fmt.Errorf("链上检测需要至少一个跟踪地址（detector.onchain.watched_addresses）")
	}

	if f := c.Engine.Calculator.TraderFraction; f < 0 || f > 1 {
		return fmt.Errorf("calculator.trader_fraction 必须在 0 到 1 之间: %v", f)
	}
	if c.Mode == ModePaper && c.Paper.InitialBalance <= 0 {
		return fmt.Errorf("paper.initial_balance 必须大于 0")
	}
	return nil
}

// loadPrivateKeyFromStore 从 badger 密钥库读取钱包私钥。
// 加密密钥从 SECRETSTORE_KEY 环境变量解析。
func (c *Config) loadPrivateKeyFromStore() error {
	encKey, err := secretstore.ParseKey(os.Getenv("SECRETSTORE_KEY"))
	if err != nil {
		return err
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          c.Storage.SecretsPath,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	key, found, err := store.Get(secretstore.KeyPrivateKey)
	if err != nil {
		return err
	}
	if found {
		c.Wallet.PrivateKey = key
	}
	return nil
}

// getEnv 获取环境变量，不存在时返回默认值
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseFloatEnv 解析浮点数环境变量，解析失败返回默认值
func parseFloatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

// splitList 解析逗号分隔列表
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
