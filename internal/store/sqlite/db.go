// Package sqlite implements the ledger's store interfaces on an embedded
// SQLite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	exchange       TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	avg_cost_basis TEXT NOT NULL,
	total_cost     TEXT NOT NULL,
	buy_order_ids  TEXT NOT NULL DEFAULT '[]',
	first_buy_at   TEXT NOT NULL,
	last_buy_at    TEXT NOT NULL,
	realized_pnl   TEXT NOT NULL DEFAULT '0',
	status         TEXT NOT NULL,
	closed_at      TEXT,
	updated_at     TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS positions_open_key ON positions (exchange, symbol) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS trades (
	order_id     TEXT PRIMARY KEY,
	position_id  TEXT NOT NULL REFERENCES positions (id),
	symbol       TEXT NOT NULL,
	exchange     TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	fee          TEXT NOT NULL,
	fee_currency TEXT NOT NULL DEFAULT '',
	net_amount   TEXT NOT NULL,
	is_maker     INTEGER NOT NULL DEFAULT 0,
	slippage_bps TEXT NOT NULL DEFAULT '0',
	executed_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_executed_at_idx ON trades (executed_at);

CREATE TABLE IF NOT EXISTS inventory_discrepancies (
	id               TEXT PRIMARY KEY,
	exchange         TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	system_balance   TEXT NOT NULL,
	exchange_balance TEXT NOT NULL,
	difference       TEXT NOT NULL,
	severity         TEXT NOT NULL,
	note             TEXT NOT NULL DEFAULT '',
	reconciled       INTEGER NOT NULL DEFAULT 0,
	detected_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS inventory_discrepancies_detected_idx ON inventory_discrepancies (exchange, detected_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at TEXT NOT NULL
);
`

// DB wraps the SQLite handle shared by the stores in this package.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The handle is limited to one connection so writers never contend
// for the file lock.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping verifies the database file is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	committed = true
	return nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// timeLayout is fixed width so text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
