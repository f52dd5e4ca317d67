package detector

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/betbot/copybot/internal/domain"
)

var (
	watchedAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenAsset  = big.NewInt(123456789)
)

func usdc6(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000)) }

func fillLog(maker, taker common.Address, makerAssetID, takerAssetID, makerAmt, takerAmt *big.Int, logIndex uint) types.Log {
	data := make([]byte, 0, 160)
	for _, w := range []*big.Int{makerAssetID, takerAssetID, makerAmt, takerAmt, big.NewInt(0)} {
		data = append(data, common.LeftPadBytes(w.Bytes(), 32)...)
	}
	return types.Log{
		Topics: []common.Hash{
			orderFilledTopic,
			common.HexToHash("0xdead"),
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data:    data,
		TxHash:  common.HexToHash("0xbeef"),
		Index:   logIndex,
	}
}

func newOnchain(copyMaker bool) (*OnchainDetector, chan domain.DetectedTrade) {
	out := make(chan domain.DetectedTrade, 16)
	cfg := DefaultOnchainConfig()
	cfg.WatchedAddresses = []string{watchedAddr.Hex()}
	cfg.CopyMakerFills = copyMaker
	return NewOnchainDetector(cfg, out), out
}

func TestHandleLog_TakerBuy(t *testing.T) {
	d, _ := newOnchain(false)

	// 被关注方是 taker，付出 USDC 65，获得 100 份代币 → BUY @ 0.65
	lg := fillLog(otherAddr, watchedAddr, tokenAsset, big.NewInt(0), usdc6(100), usdc6(65), 1)
	tr := d.HandleLog(lg, time.Now())
	if tr == nil {
		t.Fatal("expected trade")
	}
	if tr.Side != domain.SideBuy {
		t.Fatalf("Side got=%s want=BUY", tr.Side)
	}
	if !approx(tr.Size, 100) || !approx(tr.Price, 0.65) || !approx(tr.UsdcSize, 65) {
		t.Fatalf("got size=%v price=%v usdc=%v", tr.Size, tr.Price, tr.UsdcSize)
	}
	if tr.TokenID != tokenAsset.String() {
		t.Fatalf("TokenID got=%s want=%s (decimal)", tr.TokenID, tokenAsset.String())
	}
	if tr.IsMakerFill {
		t.Fatal("taker fill must not be flagged as maker")
	}
}

func TestHandleLog_TakerSell(t *testing.T) {
	d, _ := newOnchain(false)

	// 被关注方是 taker，付出 100 份代币，获得 USDC 65 → SELL @ 0.65
	lg := fillLog(otherAddr, watchedAddr, big.NewInt(0), tokenAsset, usdc6(65), usdc6(100), 2)
	tr := d.HandleLog(lg, time.Now())
	if tr == nil {
		t.Fatal("expected trade")
	}
	if tr.Side != domain.SideSell || !approx(tr.Size, 100) || !approx(tr.Price, 0.65) {
		t.Fatalf("got side=%s size=%v price=%v", tr.Side, tr.Size, tr.Price)
	}
}

func TestHandleLog_MakerFillFlag(t *testing.T) {
	// 默认不跟 maker 成交
	d, _ := newOnchain(false)
	lg := fillLog(watchedAddr, otherAddr, big.NewInt(0), tokenAsset, usdc6(65), usdc6(100), 3)
	if tr := d.HandleLog(lg, time.Now()); tr != nil {
		t.Fatalf("maker fill must be skipped, got %+v", tr)
	}

	// 开启后跟单并打标
	d, _ = newOnchain(true)
	tr := d.HandleLog(lg, time.Now())
	if tr == nil {
		t.Fatal("expected trade with CopyMakerFills=true")
	}
	if !tr.IsMakerFill || tr.Side != domain.SideBuy {
		t.Fatalf("got isMaker=%v side=%s", tr.IsMakerFill, tr.Side)
	}
}

func TestHandleLog_Dedup(t *testing.T) {
	d, _ := newOnchain(false)
	lg := fillLog(otherAddr, watchedAddr, tokenAsset, big.NewInt(0), usdc6(100), usdc6(65), 7)

	if tr := d.HandleLog(lg, time.Now()); tr == nil {
		t.Fatal("first delivery must emit")
	}
	if tr := d.HandleLog(lg, time.Now()); tr != nil {
		t.Fatalf("duplicate txHash:logIndex must be dropped, got %+v", tr)
	}
}

func TestHandleLog_PriceOutOfRangeDropped(t *testing.T) {
	d, _ := newOnchain(false)

	// USDC 150 换 100 份 → price 1.5，按小数位错配处理并丢弃
	lg := fillLog(otherAddr, watchedAddr, tokenAsset, big.NewInt(0), usdc6(100), usdc6(150), 8)
	if tr := d.HandleLog(lg, time.Now()); tr != nil {
		t.Fatalf("out-of-range price must be dropped, got price=%v", tr.Price)
	}
}

func TestHandleLog_UnwatchedIgnored(t *testing.T) {
	d, _ := newOnchain(false)
	lg := fillLog(otherAddr, otherAddr, tokenAsset, big.NewInt(0), usdc6(100), usdc6(65), 9)
	if tr := d.HandleLog(lg, time.Now()); tr != nil {
		t.Fatalf("unwatched addresses must be ignored, got %+v", tr)
	}
}
