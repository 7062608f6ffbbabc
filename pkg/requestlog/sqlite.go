package requestlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores entries in a SQLite table. The full entry is kept as
// JSON next to indexed columns.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS request_log (
		request_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		day TEXT NOT NULL,
		router_name TEXT,
		selected_model TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms REAL,
		cost REAL,
		entry JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_request_log_day ON request_log(day);
	CREATE INDEX IF NOT EXISTS idx_request_log_router ON request_log(router_name);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Write(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}

	query := `
	INSERT INTO request_log (request_id, timestamp, day, router_name, selected_model, status, latency_ms, cost, entry)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(request_id) DO UPDATE SET
		status = excluded.status,
		latency_ms = excluded.latency_ms,
		cost = excluded.cost,
		entry = excluded.entry
	`
	ts := e.Timestamp.UTC()
	_, err = b.db.ExecContext(ctx, query,
		e.ID,
		ts.Format(time.RFC3339Nano),
		ts.Format(dateLayout),
		e.RouterName,
		e.SelectedModel,
		e.Status,
		e.LatencyMS,
		e.Cost,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.ID, err)
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context, date time.Time) ([]*Entry, error) {
	return b.query(ctx, `SELECT entry FROM request_log WHERE day = ? ORDER BY timestamp ASC`, date.UTC().Format(dateLayout))
}

// Recent returns the newest entries, newest first.
func (b *SQLiteBackend) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	return b.query(ctx, `SELECT entry FROM request_log ORDER BY timestamp DESC LIMIT ?`, limit)
}

// ByRouter returns the entries routed by name, newest first.
func (b *SQLiteBackend) ByRouter(ctx context.Context, name string, limit int) ([]*Entry, error) {
	return b.query(ctx, `SELECT entry FROM request_log WHERE router_name = ? ORDER BY timestamp DESC LIMIT ?`, name, limit)
}

func (b *SQLiteBackend) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
