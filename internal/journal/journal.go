package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opsxjacky/Rebalance-live/pkg/types"
	_ "modernc.org/sqlite" // 纯Go SQLite驱动
)

// Journal 再平衡交易流水, 记录每个周期的意图与实际执行结果
//
// 用途: 审计、部分失败后的对账、排障。写入失败不应中断交易本身。
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id          TEXT PRIMARY KEY,
	operation   TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	notes       TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	cycle_id    TEXT NOT NULL REFERENCES cycles(id),
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	notional    REAL NOT NULL,
	status      TEXT NOT NULL,
	order_id    TEXT,
	error       TEXT,
	retries     INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders(cycle_id);
`

// Open 打开交易流水数据库
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin 开启一个新周期, 返回周期ID
func (j *Journal) Begin(operation string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.Exec(
		`INSERT INTO cycles (id, operation, started_at) VALUES (?, ?, ?)`,
		id, operation, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to begin journal cycle: %w", err)
	}
	return id, nil
}

// RecordOrder 记录一笔订单结果
func (j *Journal) RecordOrder(cycleID string, outcome types.OrderOutcome) error {
	_, err := j.db.Exec(
		`INSERT INTO orders (cycle_id, symbol, side, notional, status, order_id, error, retries, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, outcome.Symbol, string(outcome.Side), outcome.Notional,
		string(outcome.Status), outcome.OrderID, outcome.Error, outcome.Retries,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// Complete 以终态关闭周期
func (j *Journal) Complete(cycleID string, status types.CycleStatus, notes string) error {
	_, err := j.db.Exec(
		`UPDATE cycles SET finished_at = ?, status = ?, notes = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), string(status), notes, cycleID)
	if err != nil {
		return fmt.Errorf("failed to complete journal cycle: %w", err)
	}
	return nil
}

// CycleRecord 周期记录
type CycleRecord struct {
	ID         string
	Operation  string
	StartedAt  string
	FinishedAt string
	Status     string
	Notes      string
}

// Cycle 读取一个周期记录
func (j *Journal) Cycle(cycleID string) (CycleRecord, error) {
	var rec CycleRecord
	var finished, notes sql.NullString
	err := j.db.QueryRow(
		`SELECT id, operation, started_at, finished_at, status, notes FROM cycles WHERE id = ?`,
		cycleID).Scan(&rec.ID, &rec.Operation, &rec.StartedAt, &finished, &rec.Status, &notes)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("failed to load journal cycle: %w", err)
	}
	rec.FinishedAt = finished.String
	rec.Notes = notes.String
	return rec, nil
}

// Orders 读取一个周期的全部订单记录
func (j *Journal) Orders(cycleID string) ([]types.OrderOutcome, error) {
	rows, err := j.db.Query(
		`SELECT symbol, side, notional, status, order_id, error, retries
		 FROM orders WHERE cycle_id = ? ORDER BY recorded_at, symbol`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal orders: %w", err)
	}
	defer rows.Close()

	var outcomes []types.OrderOutcome
	for rows.Next() {
		var o types.OrderOutcome
		var side, status string
		var orderID, errMsg sql.NullString
		if err := rows.Scan(&o.Symbol, &side, &o.Notional, &status, &orderID, &errMsg, &o.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan journal order: %w", err)
		}
		o.Side = types.Side(side)
		o.Status = types.OrderStatus(status)
		o.OrderID = orderID.String
		o.Error = errMsg.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
