package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/copybot/internal/detector"
	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/cache"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
)

// DataFeed 把数据 API 适配成轮询检测器的数据源
type DataFeed struct {
	client *api.DataClient
}

// NewDataFeed 创建数据源适配器
func NewDataFeed(client *api.DataClient) *DataFeed {
	return &DataFeed{client: client}
}

// RecentTrades 拉取目标交易者的最近成交
func (f *DataFeed) RecentTrades(ctx context.Context, trader string, limit int) ([]detector.ActivityTrade, error) {
	trades, err := f.client.GetTrades(ctx, trader, limit)
	if err != nil {
		return nil, err
	}

	out := make([]detector.ActivityTrade, 0, len(trades))
	for _, tr := range trades {
		out = append(out, detector.ActivityTrade{
			// 同一笔链上交易可能拆成多条成交，ID 里带上资产与时间戳
			ID:          fmt.Sprintf("%s:%s:%d", tr.TransactionHash, tr.Asset, tr.Timestamp),
			Trader:      strings.ToLower(tr.ProxyWallet),
			TokenID:     tr.Asset,
			MarketID:    tr.ConditionID,
			MarketTitle: tr.Title,
			Side:        domain.Side(strings.ToUpper(tr.Side)),
			Size:        tr.Size.Float64(),
			Price:       tr.Price.Float64(),
			Timestamp:   time.Unix(tr.Timestamp, 0),
		})
	}
	return out, nil
}

// Positions 拉取目标交易者的当前持仓
func (f *DataFeed) Positions(ctx context.Context, trader string) ([]detector.PositionRecord, error) {
	positions, err := f.client.GetPositions(ctx, trader)
	if err != nil {
		return nil, err
	}

	out := make([]detector.PositionRecord, 0, len(positions))
	for _, pos := range positions {
		out = append(out, detector.PositionRecord{
			TokenID:     pos.Asset,
			MarketID:    pos.ConditionID,
			MarketTitle: pos.Title,
			Quantity:    pos.Size.Float64(),
			AvgPrice:    pos.AvgPrice.Float64(),
		})
	}
	return out, nil
}

// ClobBooks 把 CLOB 客户端适配成引擎的盘口来源，
// 同时给清仓定价提供带缓存的可卖报价。
type ClobBooks struct {
	client *api.ClobClient
	quotes *cache.QuoteCache
}

// NewClobBooks 创建盘口适配器
func NewClobBooks(client *api.ClobClient) *ClobBooks {
	return &ClobBooks{client: client, quotes: cache.NewQuoteCache()}
}

// FetchBook 拉取盘口并转成数值档位（买卖两侧都按最优价在前）
func (b *ClobBooks) FetchBook(ctx context.Context, tokenID string) (bids, asks []domain.BookLevel, err error) {
	book, err := b.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, nil, err
	}
	return parseLevels(book.Bids), parseLevels(book.Asks), nil
}

// SellQuote 返回代币的最优可卖价（最优买价），带短缓存。
// 取不到盘口时返回 0，调用方回退持仓均价。
func (b *ClobBooks) SellQuote(tokenID string) float64 {
	if price, ok := b.quotes.Get(tokenID); ok {
		return price
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bids, _, err := b.FetchBook(ctx, tokenID)
	if err != nil || len(bids) == 0 {
		logger.Warnf("取可卖报价失败 %s: %v", tokenID, err)
		return 0
	}
	b.quotes.Set(tokenID, bids[0].Price)
	return bids[0].Price
}

func parseLevels(levels []api.OrderBookLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(levels))
	for _, lvl := range levels {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil || size <= 0 {
			continue
		}
		out = append(out, domain.BookLevel{Price: price, Size: size})
	}
	return out
}
