package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// bqSighting is one row of the sightings table. The table is append-only:
// every Record call streams a row and the first sighting of an identity is
// the row with the smallest observed_at.
type bqSighting struct {
	Kind       string    `bigquery:"kind"`
	Key        string    `bigquery:"key"`
	RunID      string    `bigquery:"run_id"`
	Source     string    `bigquery:"source"`
	Meta       string    `bigquery:"meta"`
	ObservedAt time.Time `bigquery:"observed_at"`
}

// BigQuery is a Store for runs that already export to a BigQuery warehouse.
//
// Streaming inserts are not immediately queryable, so the set of seen
// identities is loaded once at open and mirrored in memory afterwards.
type BigQuery struct {
	client *bigquery.Client
	table  *bigquery.Table

	mu   sync.Mutex
	seen map[Identity]struct{}
}

func OpenBigQuery(ctx context.Context, project, dataset, table string) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	b := &BigQuery{
		client: client,
		table:  client.Dataset(dataset).Table(table),
	}
	if err := b.ensureTable(ctx); err != nil {
		client.Close()
		return nil, err
	}
	b.seen, err = b.loadSeen(ctx, project, dataset, table)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("load seen: %w", err)
	}
	return b, nil
}

func (b *BigQuery) ensureTable(ctx context.Context) error {
	if _, err := b.table.Metadata(ctx); err == nil {
		return nil
	}
	schema, err := bigquery.InferSchema(bqSighting{})
	if err != nil {
		return fmt.Errorf("infer schema: %w", err)
	}
	if err := b.table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (b *BigQuery) loadSeen(ctx context.Context, project, dataset, table string) (map[Identity]struct{}, error) {
	q := b.client.Query(fmt.Sprintf(
		"SELECT DISTINCT kind, key FROM `%s.%s.%s`", project, dataset, table,
	))
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}

	seen := make(map[Identity]struct{})
	for {
		var row bqSighting
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[Identity{Kind: Kind(row.Kind), Key: row.Key}] = struct{}{}
	}
	return seen, nil
}

func (b *BigQuery) Has(_ context.Context, id Identity) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[id]
	return ok, nil
}

func (b *BigQuery) Record(ctx context.Context, id Identity, meta Metadata) error {
	if meta.ObservedAt.IsZero() {
		meta.ObservedAt = time.Now()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = b.table.Inserter().Put(ctx, bqSighting{
		Kind:       string(id.Kind),
		Key:        id.Key,
		RunID:      meta.RunID,
		Source:     meta.Source,
		Meta:       string(metaJSON),
		ObservedAt: meta.ObservedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	b.mu.Lock()
	b.seen[id] = struct{}{}
	b.mu.Unlock()
	return nil
}

func (b *BigQuery) AllSeen(context.Context) (map[Identity]struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[Identity]struct{}, len(b.seen))
	for id := range b.seen {
		seen[id] = struct{}{}
	}
	return seen, nil
}

func (b *BigQuery) Close() error {
	return b.client.Close()
}
