package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/root4loot/portshot/pkg/storage"
)

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool. Call EnsureSchema before using it.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the captures table if it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
CREATE TABLE IF NOT EXISTS captures (
  address TEXT NOT NULL,
  port TEXT NOT NULL,
  url TEXT NOT NULL,
  run_id TEXT NOT NULL,
  captured_at TIMESTAMPTZ NOT NULL,
  image_file TEXT NOT NULL DEFAULT '',
  status_code INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (address, port)
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create captures table: %w", err)
	}
	return nil
}

// UpsertLatest persists the newest capture for an (address, port) pair.
// Older captures are ignored so re-importing an old run cannot clobber a
// newer one.
func (r *Repository) UpsertLatest(ctx context.Context, record storage.CaptureRecord) error {
	const query = `
INSERT INTO captures (address, port, url, run_id, captured_at, image_file, status_code, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (address, port)
DO UPDATE SET
  url = EXCLUDED.url,
  run_id = EXCLUDED.run_id,
  captured_at = EXCLUDED.captured_at,
  image_file = EXCLUDED.image_file,
  status_code = EXCLUDED.status_code,
  error = EXCLUDED.error
WHERE EXCLUDED.captured_at >= captures.captured_at;
`
	_, err := r.pool.Exec(ctx, query,
		record.Address,
		record.Port,
		record.URL,
		record.RunID,
		record.CapturedAt.UTC(),
		record.ImageFile,
		record.StatusCode,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert capture: %w", err)
	}
	return nil
}

// Close helps when wiring Repository to a lifecycle manager.
func (r *Repository) Close() {
	r.pool.Close()
}

// NewDB opens a pgx pool sized for a single CLI run.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
