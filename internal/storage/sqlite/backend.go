// Package sqlite provides a quota-limited key-value backend for the tab store
// on top of SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultQuota matches the browser extension storage.local limit.
const DefaultQuota int64 = 10 * 1024 * 1024

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("sqlite backend is closed")

// Backend implements tabs.Backend using SQLite.
type Backend struct {
	mu     sync.RWMutex
	db     *sql.DB
	quota  int64
	closed bool
}

// New opens (creating if needed) the database at dbPath.
func New(dbPath string, quota int64) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open tab database: %w", err)
	}

	b := &Backend{db: db, quota: quotaOrDefault(quota)}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tab database: %w", err)
	}

	return b, nil
}

// NewInMemory creates a new in-memory backend (useful for testing).
func NewInMemory(quota int64) (*Backend, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// each connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, quota: quotaOrDefault(quota)}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return b, nil
}

func quotaOrDefault(q int64) int64 {
	if q <= 0 {
		return DefaultQuota
	}
	return q
}

func (b *Backend) initialize() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
	`

	_, err := b.db.Exec(schema)
	return err
}

// Quota returns the byte limit.
func (b *Backend) Quota() int64 {
	return b.quota
}

// Snapshot returns every stored item.
func (b *Backend) Snapshot(ctx context.Context) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// BytesInUse returns the summed key and value lengths of all items.
func (b *Backend) BytesInUse(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}

	var total int64
	err := b.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(value)), 0) FROM kv
	`).Scan(&total)
	return total, err
}

// Commit writes set and deletes remove in a single transaction.
func (b *Backend) Commit(ctx context.Context, set map[string][]byte, remove []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range remove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	for key, value := range set {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}
