package dedup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen (
    kind TEXT NOT NULL,
    key TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    sightings INTEGER NOT NULL DEFAULT 1,
    meta TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (kind, key)
);

CREATE INDEX IF NOT EXISTS idx_seen_last_seen ON seen(last_seen);
`

// SQLite is a Store backed by a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers, which makes the upsert
	// linearizable without relying on busy retries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Has(ctx context.Context, id Identity) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen WHERE kind = ? AND key = ?`, string(id.Kind), id.Key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLite) Record(ctx context.Context, id Identity, meta Metadata) error {
	if meta.ObservedAt.IsZero() {
		meta.ObservedAt = time.Now()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ts := meta.ObservedAt.UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seen (kind, key, first_seen, last_seen, sightings, meta)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (kind, key) DO UPDATE SET
			last_seen = excluded.last_seen,
			sightings = seen.sightings + 1
	`, string(id.Kind), id.Key, ts, ts, string(metaJSON))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) AllSeen(ctx context.Context) (map[Identity]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, key FROM seen`)
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

// Sightings returns how many times id was recorded, zero if never.
func (s *SQLite) Sightings(ctx context.Context, id Identity) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT sightings FROM seen WHERE kind = ? AND key = ?`, string(id.Kind), id.Key,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
