package detector

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
)

// OrderFilled(bytes32 orderHash, address maker, address taker,
//             uint256 makerAssetId, uint256 takerAssetId,
//             uint256 makerAmountFilled, uint256 takerAmountFilled, uint256 fee)
var orderFilledTopic = crypto.Keccak256Hash(
	[]byte("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"))

// Polymarket 结算合约（Polygon 主网）
const (
	DefaultLegacyExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	DefaultNegRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
)

// maxSeenFills 链上事件去重集合的容量上限
const maxSeenFills = 4096

// FillStream 日志订阅抽象，实盘由 WS 客户端实现，测试注入桩。
type FillStream interface {
	SubscribeFills(ctx context.Context, contracts []common.Address, topics []common.Hash, sink chan<- types.Log) (ethereum.Subscription, error)
}

// OnchainConfig 链上检测配置
type OnchainConfig struct {
	WatchedAddresses []string `yaml:"watched_addresses"` // 跟踪的交易者地址
	CopyMakerFills   bool     `yaml:"copy_maker_fills"`  // 是否跟被动（maker）成交
	TokenScale       int32    `yaml:"token_scale"`       // 定点小数位，默认 6
	LegacyExchange   string   `yaml:"legacy_exchange"`
	NegRiskExchange  string   `yaml:"neg_risk_exchange"`
}

// DefaultOnchainConfig 默认链上检测配置。
// maker 成交默认不跟：被动成交往往是逆向选择而非信号。
func DefaultOnchainConfig() OnchainConfig {
	return OnchainConfig{
		TokenScale:      6,
		LegacyExchange:  DefaultLegacyExchange,
		NegRiskExchange: DefaultNegRiskExchange,
	}
}

// OnchainDetector 解码两个结算合约（经典与多结果变体）的 OrderFilled 事件。
// 订阅错误只累计计数并上报，不在本组件内自动重试（监督在外层）。
type OnchainDetector struct {
	cfg     OnchainConfig
	watched map[common.Address]struct{}
	out     chan<- domain.DetectedTrade

	seen      map[string]struct{}
	seenOrder []string

	consecutiveErrors atomic.Int64
}

// NewOnchainDetector out 由调用方持有，检测器只写不关。
func NewOnchainDetector(cfg OnchainConfig, out chan<- domain.DetectedTrade) *OnchainDetector {
	if cfg.TokenScale <= 0 {
		cfg.TokenScale = 6
	}
	if cfg.LegacyExchange == "" {
		cfg.LegacyExchange = DefaultLegacyExchange
	}
	if cfg.NegRiskExchange == "" {
		cfg.NegRiskExchange = DefaultNegRiskExchange
	}
	watched := make(map[common.Address]struct{}, len(cfg.WatchedAddresses))
	for _, addr := range cfg.WatchedAddresses {
		watched[common.HexToAddress(addr)] = struct{}{}
	}
	return &OnchainDetector{
		cfg:     cfg,
		watched: watched,
		out:     out,
		seen:    make(map[string]struct{}),
	}
}

// ConsecutiveErrors 连续订阅/解码错误数（成功处理一条后清零）。
func (d *OnchainDetector) ConsecutiveErrors() int64 {
	return d.consecutiveErrors.Load()
}

// Run 订阅两个结算合约的 OrderFilled 日志并阻塞处理，直到 ctx 取消或订阅断开。
func (d *OnchainDetector) Run(ctx context.Context, stream FillStream) error {
	contracts := []common.Address{
		common.HexToAddress(d.cfg.LegacyExchange),
		common.HexToAddress(d.cfg.NegRiskExchange),
	}
	sink := make(chan types.Log, 256)
	sub, err := stream.SubscribeFills(ctx, contracts, []common.Hash{orderFilledTopic}, sink)
	if err != nil {
		d.consecutiveErrors.Add(1)
		return fmt.Errorf("subscribe fills: %w", err)
	}
	defer sub.Unsubscribe()

	logger.Infof("链上检测启动: %d 个地址, 合约 %s / %s",
		len(d.watched), d.cfg.LegacyExchange, d.cfg.NegRiskExchange)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			d.consecutiveErrors.Add(1)
			return fmt.Errorf("fill subscription: %w", err)
		case lg := <-sink:
			if trade := d.HandleLog(lg, time.Now()); trade != nil {
				d.consecutiveErrors.Store(0)
				d.out <- *trade
			}
		}
	}
}

// HandleLog 解码一条 OrderFilled 日志。
// 不关注的地址、重复事件、非法价格都返回 nil。
func (d *OnchainDetector) HandleLog(lg types.Log, now time.Time) *domain.DetectedTrade {
	if len(lg.Topics) != 4 || lg.Topics[0] != orderFilledTopic || len(lg.Data) < 160 {
		return nil
	}

	maker := common.BytesToAddress(lg.Topics[2].Bytes())
	taker := common.BytesToAddress(lg.Topics[3].Bytes())

	var watchedAddr common.Address
	var isMaker bool
	if _, ok := d.watched[maker]; ok {
		watchedAddr, isMaker = maker, true
	} else if _, ok := d.watched[taker]; ok {
		watchedAddr, isMaker = taker, false
	} else {
		return nil
	}

	if isMaker && !d.cfg.CopyMakerFills {
		logger.Debugf("跳过 maker 成交: %s tx=%s", watchedAddr.Hex(), lg.TxHash.Hex())
		return nil
	}

	dedupKey := fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
	if _, dup := d.seen[dedupKey]; dup {
		return nil
	}
	d.rememberFill(dedupKey)

	makerAssetID := new(big.Int).SetBytes(lg.Data[0:32])
	takerAssetID := new(big.Int).SetBytes(lg.Data[32:64])
	makerAmount := new(big.Int).SetBytes(lg.Data[64:96])
	takerAmount := new(big.Int).SetBytes(lg.Data[96:128])

	// 被关注方付出的资产决定方向：付出零标识资产（抵押 USDC）= 买入对手资产，
	// 否则是卖出自己付出的代币。
	gaveAssetID, gaveAmount := makerAssetID, makerAmount
	gotAssetID, gotAmount := takerAssetID, takerAmount
	if !isMaker {
		gaveAssetID, gaveAmount = takerAssetID, takerAmount
		gotAssetID, gotAmount = makerAssetID, makerAmount
	}

	var side domain.Side
	var tokenID *big.Int
	var usdcRaw, tokenRaw *big.Int
	if gaveAssetID.Sign() == 0 {
		side = domain.SideBuy
		tokenID = gotAssetID
		usdcRaw, tokenRaw = gaveAmount, gotAmount
	} else {
		side = domain.SideSell
		tokenID = gaveAssetID
		usdcRaw, tokenRaw = gotAmount, gaveAmount
	}

	if tokenRaw.Sign() == 0 {
		return nil
	}

	// 定点转浮点只走 decimal，不走 float 除法
	usdc := decimal.NewFromBigInt(usdcRaw, -d.cfg.TokenScale)
	tokens := decimal.NewFromBigInt(tokenRaw, -d.cfg.TokenScale)
	price := usdc.Div(tokens)

	priceF := price.InexactFloat64()
	if priceF <= 0 || priceF >= 1 {
		// 价格出界多半意味着代币小数位与假定的定点位数不符
		logger.Warnf("丢弃价格出界的链上成交: price=%s tx=%s (检查 token_scale=%d)",
			price.StringFixed(6), lg.TxHash.Hex(), d.cfg.TokenScale)
		return nil
	}

	return &domain.DetectedTrade{
		ID:              dedupKey,
		Trader:          strings.ToLower(watchedAddr.Hex()),
		TokenID:         tokenID.String(), // big.Int 十进制字符串
		Side:            side,
		Size:            tokens.InexactFloat64(),
		Price:           priceF,
		UsdcSize:        usdc.InexactFloat64(),
		IsMakerFill:     isMaker,
		Source:          domain.SourceOnchain,
		SourceTimestamp: now,
		DetectedAt:      now,
	}
}

func (d *OnchainDetector) rememberFill(key string) {
	d.seen[key] = struct{}{}
	d.seenOrder = append(d.seenOrder, key)
	if len(d.seenOrder) > maxSeenFills {
		delete(d.seen, d.seenOrder[0])
		d.seenOrder = d.seenOrder[1:]
	}
}
