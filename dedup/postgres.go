package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS radar_seen (
    kind TEXT NOT NULL,
    key TEXT NOT NULL,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL,
    sightings BIGINT NOT NULL DEFAULT 1,
    meta JSONB NOT NULL DEFAULT '{}'::jsonb,
    PRIMARY KEY (kind, key)
)`

// Postgres is a Store for deployments that share one database between
// several radar instances.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Has(ctx context.Context, id Identity) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx,
		`SELECT 1 FROM radar_seen WHERE kind = $1 AND key = $2`, string(id.Kind), id.Key,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", id, err)
	}
	return true, nil
}

func (p *Postgres) Record(ctx context.Context, id Identity, meta Metadata) error {
	if meta.ObservedAt.IsZero() {
		meta.ObservedAt = time.Now()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO radar_seen (kind, key, first_seen, last_seen, sightings, meta)
		VALUES ($1, $2, $3, $3, 1, $4)
		ON CONFLICT (kind, key) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			sightings = radar_seen.sightings + 1
	`, string(id.Kind), id.Key, meta.ObservedAt.UTC(), metaJSON)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) AllSeen(ctx context.Context) (map[Identity]struct{}, error) {
	rows, err := p.pool.Query(ctx, `SELECT kind, key FROM radar_seen`)
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer rows.Close()

	seen := make(map[Identity]struct{})
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, fmt.Errorf("scan seen: %w", err)
		}
		seen[Identity{Kind: Kind(kind), Key: key}] = struct{}{}
	}
	return seen, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
