// Package journal persists completed hedge positions to SQLite for analysis
// and audit. One row per position, both legs inline, written once at close.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pinhedge/internal/hedge"
)

// Journal is the append-only trade log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens (or creates) the SQLite journal database.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		correlation_id TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		signal_type    TEXT NOT NULL,
		confidence     INTEGER NOT NULL,
		first_side     TEXT NOT NULL,
		first_entry    REAL NOT NULL,
		first_exit     REAL NOT NULL,
		first_pnl      REAL NOT NULL,
		hedged         INTEGER NOT NULL,
		second_side    TEXT,
		second_entry   REAL,
		second_exit    REAL,
		second_pnl     REAL,
		max_profit_pct REAL,
		close_reason   TEXT NOT NULL,
		total_pnl      REAL NOT NULL,
		opened_at      DATETIME NOT NULL,
		closed_at      DATETIME NOT NULL,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
	CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at);
	CREATE INDEX IF NOT EXISTS idx_positions_reason ON positions(close_reason);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordPosition persists a finished position. Wired to the hedge manager's
// OnClosed hook.
func (j *Journal) RecordPosition(pos hedge.Position) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO positions (
			correlation_id, symbol, signal_type, confidence,
			first_side, first_entry, first_exit, first_pnl,
			hedged, second_side, second_entry, second_exit, second_pnl, max_profit_pct,
			close_reason, total_pnl, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.CorrelationID(),
		pos.Symbol,
		string(pos.Signal.Type),
		pos.Signal.Confidence,
		string(pos.First.Side),
		pos.First.EntryPrice,
		pos.First.ExitPrice,
		pos.First.PnL,
		boolToInt(pos.Second.Filled),
		string(pos.Second.Side),
		pos.Second.EntryPrice,
		pos.Second.ExitPrice,
		pos.Second.PnL,
		pos.Second.MaxProfitPct,
		pos.CloseReason,
		pos.TotalPnL,
		pos.CreatedAt.Format(time.RFC3339),
		pos.ClosedAt.Format(time.RFC3339),
	)
	return err
}

// PositionRecord represents a row from the positions table.
type PositionRecord struct {
	ID            int64   `json:"id"`
	CorrelationID string  `json:"correlation_id"`
	Symbol        string  `json:"symbol"`
	SignalType    string  `json:"signal_type"`
	Confidence    int     `json:"confidence"`
	FirstSide     string  `json:"first_side"`
	FirstEntry    float64 `json:"first_entry"`
	FirstExit     float64 `json:"first_exit"`
	FirstPnL      float64 `json:"first_pnl"`
	Hedged        bool    `json:"hedged"`
	SecondSide    string  `json:"second_side"`
	SecondEntry   float64 `json:"second_entry"`
	SecondExit    float64 `json:"second_exit"`
	SecondPnL     float64 `json:"second_pnl"`
	MaxProfitPct  float64 `json:"max_profit_pct"`
	CloseReason   string  `json:"close_reason"`
	TotalPnL      float64 `json:"total_pnl"`
	OpenedAt      string  `json:"opened_at"`
	ClosedAt      string  `json:"closed_at"`
}

// GetPositions returns the last N positions, newest first.
func (j *Journal) GetPositions(limit int) ([]PositionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, correlation_id, symbol, signal_type, confidence,
		        first_side, first_entry, first_exit, first_pnl,
		        hedged, second_side, second_entry, second_exit, second_pnl, max_profit_pct,
		        close_reason, total_pnl, opened_at, closed_at
		 FROM positions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var r PositionRecord
		var hedged int
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.Symbol, &r.SignalType, &r.Confidence,
			&r.FirstSide, &r.FirstEntry, &r.FirstExit, &r.FirstPnL,
			&hedged, &r.SecondSide, &r.SecondEntry, &r.SecondExit, &r.SecondPnL, &r.MaxProfitPct,
			&r.CloseReason, &r.TotalPnL, &r.OpenedAt, &r.ClosedAt); err != nil {
			continue
		}
		r.Hedged = hedged != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates the journal for the stats endpoint.
type Summary struct {
	Positions int     `json:"positions"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Hedged    int     `json:"hedged"`
	TotalPnL  float64 `json:"total_pnl"`
}

// GetSummary computes lifetime counters across all recorded positions.
func (j *Journal) GetSummary() (Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var s Summary
	row := j.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN total_pnl > 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN total_pnl < 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(hedged), 0),
		        COALESCE(SUM(total_pnl), 0)
		 FROM positions`)
	err := row.Scan(&s.Positions, &s.Wins, &s.Losses, &s.Hedged, &s.TotalPnL)
	return s, err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
