// Package postgres stores values in a PostgreSQL bytea table, for fleets
// that share captured snapshot images through an existing database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwantia/isopod/data"
	"github.com/tidwall/btree"
)

type PostgresStore struct {
	mu   sync.RWMutex
	pool *pgxpool.Pool

	// In-memory B-tree of known keys so Exists and cache probes skip a
	// round trip for keys this process has already seen.
	keys *btree.Map[string, struct{}]
}

// New creates a PostgreSQL-backed store. The connString is a standard
// PostgreSQL connection string or URL.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	// Simple protocol avoids prepared statement collisions when stores
	// are created and destroyed frequently in tests.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	ps := &PostgresStore{
		pool: pool,
		keys: btree.NewMap[string, struct{}](0),
	}

	if err := ps.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) initSchema(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS isopod_store (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)

	return err
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := ps.pool.QueryRow(ctx, `
		SELECT value FROM isopod_store WHERE key = $1
	`, key).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	ps.keys.Set(key, struct{}{})
	ps.mu.Unlock()

	return value, nil
}

func (ps *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO isopod_store (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()
	`, key, value)

	if err != nil {
		return err
	}

	ps.mu.Lock()
	ps.keys.Set(key, struct{}{})
	ps.mu.Unlock()

	return nil
}

func (ps *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	ps.mu.RLock()
	_, cached := ps.keys.Get(key)
	ps.mu.RUnlock()

	if cached {
		return true, nil
	}

	var exists bool
	err := ps.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM isopod_store WHERE key = $1)
	`, key).Scan(&exists)

	if err != nil {
		return false, err
	}

	return exists, nil
}
