// Package sqlite stores values in a single-file embedded database, a
// self-contained alternative to the plain directory store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/isopod/data"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps modernc's file locking happy.
	db.SetMaxOpenConns(1)

	ss := &SQLiteStore{db: db}
	if err := ss.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return ss, nil
}

func (ss *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := ss.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS isopod_store (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)

	return err
}

func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func (ss *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := ss.db.QueryRowContext(ctx, `
		SELECT value FROM isopod_store WHERE key = ?
	`, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

func (ss *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO isopod_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())

	return err
}

func (ss *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := ss.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM isopod_store WHERE key = ?)
	`, key).Scan(&exists)

	if err != nil {
		return false, err
	}

	return exists, nil
}
