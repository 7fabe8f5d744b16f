// Package sqlite keeps the audit journal of everything the core did to the
// account: stop placements and modifications, exits, square-offs, breaches
// and strategy switches.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"optguard/internal/model"
)

// Event kinds.
const (
	KindEntry      = "entry"
	KindStopPlace  = "stop_place"
	KindStopModify = "stop_modify"
	KindStopCancel = "stop_cancel"
	KindStopFilled = "stop_filled"
	KindExit       = "exit"
	KindSquareOff  = "square_off"
	KindBreach     = "breach"
	KindSwitch     = "switch"
	KindMode       = "mode"
)

// Event is one journal row.
type Event struct {
	ID      int64       `json:"id"`
	RunID   string      `json:"run_id"`
	Kind    string      `json:"kind"`
	OrderID string      `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Side    string      `json:"side"`
	Qty     int64       `json:"qty"`
	Price   model.Paise `json:"price"`
	Trigger model.Paise `json:"trigger"`
	OK      bool        `json:"ok"`
	Detail  string      `json:"detail"`
	At      time.Time   `json:"at"`
}

// Journal persists events to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database. ":memory:" works for tests.
func Open(dbPath string) (*Journal, error) {
	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT,
		kind        TEXT NOT NULL,
		order_id    TEXT,
		symbol      TEXT,
		side        TEXT,
		qty         INTEGER DEFAULT 0,
		price       INTEGER DEFAULT 0,
		trigger     INTEGER DEFAULT 0,
		ok          INTEGER NOT NULL,
		detail      TEXT,
		at          DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[journal] opened event journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Record persists e. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (run_id, kind, order_id, symbol, side, qty, price, trigger, ok, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Kind, e.OrderID, e.Symbol, e.Side, e.Qty,
		int64(e.Price), int64(e.Trigger), e.OK, e.Detail,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Recent returns the last limit events, newest first. An empty kind
// matches all.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, kind, order_id, symbol, side, qty, price, trigger, ok, detail, at
		 FROM events WHERE (? = '' OR kind = ?) ORDER BY id DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e              Event
			price, trigger int64
			at             string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.OrderID, &e.Symbol, &e.Side,
			&e.Qty, &price, &trigger, &e.OK, &e.Detail, &at); err != nil {
			continue
		}
		e.Price, e.Trigger = model.Paise(price), model.Paise(trigger)
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
