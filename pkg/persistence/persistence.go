// Package persistence 基于 Badger 的执行记录存储。
// 引擎把每笔 OrderResult（连同触发上下文与延迟指标）写入这里；
// 核心决策不回读该存储。
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Record 一条跟单执行记录
type Record struct {
	OrderID            string    `json:"order_id"`
	Trader             string    `json:"trader"`
	TokenID            string    `json:"token_id"`
	MarketID           string    `json:"market_id,omitempty"`
	MarketTitle        string    `json:"market_title,omitempty"`
	Side               string    `json:"side"`
	RequestedSize      float64   `json:"requested_size"`
	RequestedPrice     float64   `json:"requested_price"`
	FilledSize         float64   `json:"filled_size"`
	AvgFillPrice       float64   `json:"avg_fill_price"`
	Status             string    `json:"status"`
	Mode               string    `json:"mode"`
	Error              string    `json:"error,omitempty"`
	Source             string    `json:"source"`
	Condition          string    `json:"condition,omitempty"`
	SlippageBps        float64   `json:"slippage_bps"`
	DetectionLatencyMs int64     `json:"detection_latency_ms"`
	PlacedAt           time.Time `json:"placed_at"`
	ExecutedAt         time.Time `json:"executed_at"`
}

const resultPrefix = "result:"

// Store Badger 存储句柄
type Store struct {
	db *badger.DB
}

// Open 打开（或创建）记录库
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveResult 追加一条执行记录。
// key 按执行时间排序，方便反向遍历取最近记录。
func (s *Store) SaveResult(rec *Record) error {
	at := rec.ExecutedAt
	if at.IsZero() {
		at = time.Now()
	}
	key := fmt.Sprintf("%s%020d:%s", resultPrefix, at.UnixNano(), rec.OrderID)

	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// Recent 按时间倒序返回最近 limit 条记录
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records := make([]Record, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(resultPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// 反向迭代要从前缀的上界开始
		seek := append([]byte(resultPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(resultPrefix)) && len(records) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}
