package db

import (
	"context"
	"fmt"

	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/leaselock"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/store/memory"
	pgxstore "github.com/except-pass/telltale/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend is the configured graph store with its run locker.
type Backend struct {
	Store  store.GraphStorage
	Locker leaselock.Locker

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// Persistent reports whether graphs outlive the process.
func (b *Backend) Persistent() bool {
	return b.pool != nil
}

// Open connects to DATABASE_URL, applying the migrations in
// MIGRATIONS_DIR first when set. Without DATABASE_URL graphs are kept in
// memory and leases are process-local.
func Open(ctx context.Context) (*Backend, error) {
	databaseURL := util.GetEnv("DATABASE_URL")
	if databaseURL == "" {
		logger.Warn("[DB] DATABASE_URL not set, keeping graphs in memory")
		return &Backend{
			Store:  memory.NewMemoryStorage(),
			Locker: leaselock.NewLocal(),
		}, nil
	}

	if dir := util.GetEnv("MIGRATIONS_DIR"); dir != "" {
		if err := pgxstore.Migrate(databaseURL, dir); err != nil {
			return nil, err
		}
	}

	pool, err := util.RetryWithContext(ctx, 5, util.DefaultBackoff, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Backend{
		Store:  pgxstore.NewGraphDBStorageWithConnection(pool),
		Locker: leaselock.New(pool),
		pool:   pool,
	}, nil
}
