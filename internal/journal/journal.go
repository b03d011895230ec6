// Package journal 把执行事件持久化到 SQLite，供事后复盘。
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/twap"
	"market-maker-twap/order"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	direction     TEXT NOT NULL,
	total_size    REAL NOT NULL,
	target_price  REAL NOT NULL,
	parts         INTEGER NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	executed_size REAL NOT NULL DEFAULT 0,
	avg_price     REAL NOT NULL DEFAULT 0,
	fees          REAL NOT NULL DEFAULT 0,
	reason        TEXT NOT NULL DEFAULT '',
	started_at    INTEGER NOT NULL,
	completed_at  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS parts (
	order_id       TEXT NOT NULL,
	part_index     INTEGER NOT NULL,
	size           REAL NOT NULL,
	status         TEXT NOT NULL,
	executed_price REAL NOT NULL DEFAULT 0,
	executed_size  REAL NOT NULL DEFAULT 0,
	fees           REAL NOT NULL DEFAULT 0,
	reference      TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	ts             INTEGER NOT NULL,
	PRIMARY KEY (order_id, part_index)
);
CREATE TABLE IF NOT EXISTS rejections (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id  TEXT NOT NULL,
	direction TEXT NOT NULL,
	size      REAL NOT NULL,
	violation TEXT NOT NULL,
	reason    TEXT NOT NULL,
	ts        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS risk_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	type      TEXT NOT NULL,
	message   TEXT NOT NULL,
	state     TEXT NOT NULL,
	daily_pnl REAL NOT NULL,
	drawdown  REAL NOT NULL,
	ts        INTEGER NOT NULL
);
`

// OrderRecord orders 表的一行
type OrderRecord struct {
	ID           string
	Direction    order.Direction
	TotalSize    float64
	TargetPrice  float64
	Parts        int
	Source       string
	Status       order.Status
	ExecutedSize float64
	AvgPrice     float64
	Fees         float64
	Reason       string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// PartRecord parts 表的一行
type PartRecord struct {
	OrderID       string
	Index         int
	Size          float64
	Status        order.PartStatus
	ExecutedPrice float64
	ExecutedSize  float64
	Fees          float64
	Reference     string
	Error         string
	Time          time.Time
}

// Journal SQLite 交易日志
type Journal struct {
	db      *sql.DB
	log     *logger.Logger
	timeout time.Duration
}

// Open 打开（或创建）数据库并建表；path 可为 ":memory:"
func Open(path string, log *logger.Logger) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if log == nil {
		log = logger.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// 单连接：内存库每个连接是独立数据库，且写入串行
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Journal{db: db, log: log.Named("journal"), timeout: 5 * time.Second}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

// Handle 事件总线处理函数；写入失败只记日志
func (j *Journal) Handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.Record(ctx, e); err != nil {
		j.log.Error("journal write failed", zap.String("event", string(e.Type)), zap.String("order_id", e.OrderID), zap.Error(err))
	}
}

// Record 按事件类型写入对应的表
func (j *Journal) Record(ctx context.Context, e events.Event) error {
	ts := e.Time.UnixMilli()
	switch e.Type {
	case events.OrderStarted:
		plan, ok := e.Data.(twap.Plan)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		in := plan.Intent
		_, err := j.db.ExecContext(ctx, `INSERT INTO orders
			(id, direction, total_size, target_price, parts, source, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status=excluded.status`,
			in.ID, string(in.Direction), in.TotalSize, in.TargetPrice, len(plan.Parts), in.Source,
			string(order.StatusActive), ts)
		return err

	case events.PartExecuted, events.PartFailed:
		p, ok := e.Data.(twap.PartSpec)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		_, err := j.db.ExecContext(ctx, `INSERT INTO parts
			(order_id, part_index, size, status, executed_price, executed_size, fees, reference, error, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(order_id, part_index) DO UPDATE SET
				status=excluded.status, executed_price=excluded.executed_price,
				executed_size=excluded.executed_size, fees=excluded.fees,
				reference=excluded.reference, error=excluded.error, ts=excluded.ts`,
			e.OrderID, p.Index, p.Size, string(p.Status), p.ExecutedPrice, p.ExecutedSize, p.Fees,
			p.Reference, p.Error, ts)
		return err

	case events.OrderCompleted, events.OrderFailed, events.OrderCancelled:
		st, ok := e.Data.(twap.Stats)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		_, err := j.db.ExecContext(ctx, `UPDATE orders SET
			status=?, executed_size=?, avg_price=?, fees=?, reason=?, completed_at=?
			WHERE id=?`,
			string(st.Status), st.ExecutedSize, st.AvgPrice, st.TotalFees, e.Message, ts, st.OrderID)
		return err

	case events.OrderRejected:
		r, ok := e.Data.(order.Rejection)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		_, err := j.db.ExecContext(ctx, `INSERT INTO rejections
			(order_id, direction, size, violation, reason, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			r.Intent.ID, string(r.Intent.Direction), r.Intent.TotalSize, r.Violation, r.Reason, ts)
		return err

	case events.RiskAlert:
		a, ok := e.Data.(risk.Alert)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		_, err := j.db.ExecContext(ctx, `INSERT INTO risk_events
			(type, message, state, daily_pnl, drawdown, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			a.Type, a.Message, a.Snapshot.State.String(), a.Snapshot.DailyPnL, a.Snapshot.Drawdown, ts)
		return err
	}
	return nil
}

// Orders 最近的订单，按开始时间倒序
func (j *Journal) Orders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, direction, total_size, target_price, parts, source,
		status, executed_size, avg_price, fees, reason, started_at, completed_at
		FROM orders ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var dir, status string
		var started, completed int64
		if err := rows.Scan(&r.ID, &dir, &r.TotalSize, &r.TargetPrice, &r.Parts, &r.Source,
			&status, &r.ExecutedSize, &r.AvgPrice, &r.Fees, &r.Reason, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		r.Direction, r.Status = order.Direction(dir), order.Status(status)
		r.StartedAt = time.UnixMilli(started).UTC()
		if completed > 0 {
			r.CompletedAt = time.UnixMilli(completed).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Parts 某个订单的切片记录
func (j *Journal) Parts(ctx context.Context, orderID string) ([]PartRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT order_id, part_index, size, status, executed_price,
		executed_size, fees, reference, error, ts FROM parts WHERE order_id=? ORDER BY part_index`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parts: %w", err)
	}
	defer rows.Close()

	var out []PartRecord
	for rows.Next() {
		var r PartRecord
		var status string
		var ts int64
		if err := rows.Scan(&r.OrderID, &r.Index, &r.Size, &status, &r.ExecutedPrice,
			&r.ExecutedSize, &r.Fees, &r.Reference, &r.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		r.Status = order.PartStatus(status)
		r.Time = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RejectionCount 按违规类型统计拒单
func (j *Journal) RejectionCount(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT violation, COUNT(*) FROM rejections GROUP BY violation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, err
		}
		out[v] = n
	}
	return out, rows.Err()
}
