// Package history 基于 SQLite 的执行历史，支撑面板的查询与统计。
// Badger 记录库负责快速追加，这里负责可查询的长期账目。
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/copybot/pkg/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	trader TEXT NOT NULL,
	token_id TEXT NOT NULL,
	market_id TEXT,
	market_title TEXT,
	side TEXT NOT NULL,
	requested_size REAL NOT NULL,
	requested_price REAL NOT NULL,
	filled_size REAL NOT NULL,
	avg_fill_price REAL NOT NULL,
	status TEXT NOT NULL,
	mode TEXT NOT NULL,
	error TEXT,
	source TEXT,
	condition TEXT,
	slippage_bps REAL NOT NULL DEFAULT 0,
	detection_latency_ms INTEGER NOT NULL DEFAULT 0,
	placed_at TIMESTAMP,
	executed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);
CREATE INDEX IF NOT EXISTS idx_executions_token ON executions(token_id);
`

// Store SQLite 历史库
type Store struct {
	db *sql.DB
}

// Totals 聚合统计
type Totals struct {
	Orders      int64   `json:"orders"`
	Filled      int64   `json:"filled"`
	Failed      int64   `json:"failed"`
	VolumeUSDC  float64 `json:"volume_usdc"`
	AvgSlippage float64 `json:"avg_slippage_bps"`
}

// Open 打开（或创建）历史库并建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert 写入一条执行记录
func (s *Store) Insert(ctx context.Context, rec *persistence.Record) error {
	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			order_id, trader, token_id, market_id, market_title, side,
			requested_size, requested_price, filled_size, avg_fill_price,
			status, mode, error, source, condition, slippage_bps,
			detection_latency_ms, placed_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.Trader, rec.TokenID, rec.MarketID, rec.MarketTitle, rec.Side,
		rec.RequestedSize, rec.RequestedPrice, rec.FilledSize, rec.AvgFillPrice,
		rec.Status, rec.Mode, rec.Error, rec.Source, rec.Condition, rec.SlippageBps,
		rec.DetectionLatencyMs, rec.PlacedAt, executedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Recent 按执行时间倒序返回最近 limit 条记录
func (s *Store) Recent(ctx context.Context, limit int) ([]persistence.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, trader, token_id, market_id, market_title, side,
			requested_size, requested_price, filled_size, avg_fill_price,
			status, mode, error, source, condition, slippage_bps,
			detection_latency_ms, placed_at, executed_at
		FROM executions ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	var records []persistence.Record
	for rows.Next() {
		var rec persistence.Record
		var marketID, marketTitle, errMsg, source, condition sql.NullString
		var placedAt sql.NullTime
		if err := rows.Scan(
			&rec.OrderID, &rec.Trader, &rec.TokenID, &marketID, &marketTitle, &rec.Side,
			&rec.RequestedSize, &rec.RequestedPrice, &rec.FilledSize, &rec.AvgFillPrice,
			&rec.Status, &rec.Mode, &errMsg, &source, &condition, &rec.SlippageBps,
			&rec.DetectionLatencyMs, &placedAt, &rec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.MarketID = marketID.String
		rec.MarketTitle = marketTitle.String
		rec.Error = errMsg.String
		rec.Source = source.String
		rec.Condition = condition.String
		rec.PlacedAt = placedAt.Time
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Totals 全量聚合：订单数、成交数、失败数、成交额与平均滑点。
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN filled_size > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(filled_size * avg_fill_price), 0),
			COALESCE(AVG(CASE WHEN filled_size > 0 THEN slippage_bps END), 0)
		FROM executions`).Scan(&t.Orders, &t.Filled, &t.Failed, &t.VolumeUSDC, &t.AvgSlippage)
	if err != nil {
		return Totals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}
