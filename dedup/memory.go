package dedup

import (
	"context"
	"sync"
	"time"
)

type record struct {
	firstSeen time.Time
	lastSeen  time.Time
	sightings int
	meta      Metadata
}

// Memory is a process-local Store. It does not survive restarts and is meant
// for tests, dry runs and as the fallback of a degraded Guard.
type Memory struct {
	mu   sync.Mutex
	recs map[Identity]*record
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[Identity]*record)}
}

func (m *Memory) Has(_ context.Context, id Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[id]
	return ok, nil
}

func (m *Memory) Record(_ context.Context, id Identity, meta Metadata) error {
	if meta.ObservedAt.IsZero() {
		meta.ObservedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		m.recs[id] = &record{
			firstSeen: meta.ObservedAt,
			lastSeen:  meta.ObservedAt,
			sightings: 1,
			meta:      meta,
		}
		return nil
	}
	r.lastSeen = meta.ObservedAt
	r.sightings++
	return nil
}

func (m *Memory) AllSeen(context.Context) (map[Identity]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[Identity]struct{}, len(m.recs))
	for id := range m.recs {
		seen[id] = struct{}{}
	}
	return seen, nil
}

// Sightings returns how many times id was recorded.
func (m *Memory) Sightings(id Identity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[id]; ok {
		return r.sightings
	}
	return 0
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func (m *Memory) Close() error { return nil }
