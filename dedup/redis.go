package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "radar:seen:"

// Redis is a Store that keeps one hash per identity.
type Redis struct {
	client *redis.Client
}

func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func redisKey(id Identity) string {
	return redisPrefix + string(id.Kind) + ":" + id.Key
}

func (r *Redis) Has(ctx context.Context, id Identity) (bool, error) {
	n, err := r.client.Exists(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *Redis) Record(ctx context.Context, id Identity, meta Metadata) error {
	if meta.ObservedAt.IsZero() {
		meta.ObservedAt = time.Now()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ts := meta.ObservedAt.UTC().Format(time.RFC3339Nano)
	key := redisKey(id)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "first_seen", ts)
		pipe.HSetNX(ctx, key, "meta", string(metaJSON))
		pipe.HSet(ctx, key, "last_seen", ts)
		pipe.HIncrBy(ctx, key, "sightings", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}
	return nil
}

func (r *Redis) AllSeen(ctx context.Context) (map[Identity]struct{}, error) {
	seen := make(map[Identity]struct{})
	iter := r.client.Scan(ctx, 0, redisPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), redisPrefix)
		kind, key, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		seen[Identity{Kind: Kind(kind), Key: key}] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return seen, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
