package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// History writes are small and bursty, one per alert batch
	config.MaxConns = 8
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the alert history tables
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS snipe_alerts (
			id BIGSERIAL PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL,
			kind VARCHAR(8) NOT NULL,
			region VARCHAR(16) NOT NULL,
			source_id BIGINT NOT NULL,
			item_id BIGINT NOT NULL,
			name TEXT,
			price_gold NUMERIC(14, 2) NOT NULL,
			ilvl INT,
			realm_names TEXT[],
			sent_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS token_prices (
			time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			region VARCHAR(16) NOT NULL,
			price_gold BIGINT NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS idx_snipe_alerts_item_time ON snipe_alerts (item_id, sent_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_snipe_alerts_fingerprint ON snipe_alerts (fingerprint);`,
		`CREATE INDEX IF NOT EXISTS idx_token_prices_region_time ON token_prices (region, time DESC);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
