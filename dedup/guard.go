package dedup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Guard wraps a Store so that an unreachable backend never aborts a run.
//
// After the first backend error the guard is degraded for the rest of its
// life: Has only reports identities recorded through the guard itself and
// Record writes to memory. Duplicates across runs are the accepted cost.
type Guard struct {
	Log *slog.Logger

	backend  Store
	fallback *Memory
	degraded atomic.Bool
	once     sync.Once
}

// NewGuard wraps backend. A nil backend, or a non-nil openErr, produces a guard
// that is degraded from the start.
func NewGuard(log *slog.Logger, backend Store, openErr error) *Guard {
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{
		Log:      log,
		backend:  backend,
		fallback: NewMemory(),
	}
	if backend == nil || openErr != nil {
		g.degrade("open", openErr)
	}
	return g
}

// Degraded reports whether the backend has been abandoned.
func (g *Guard) Degraded() bool {
	return g.degraded.Load()
}

func (g *Guard) degrade(op string, err error) {
	g.degraded.Store(true)
	g.once.Do(func() {
		g.Log.Warn("dedup store unavailable, treating everything as unseen for this run",
			"op", op, "error", err,
		)
	})
}

func (g *Guard) Has(ctx context.Context, id Identity) (bool, error) {
	if !g.Degraded() {
		ok, err := g.backend.Has(ctx, id)
		if err == nil {
			return ok, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		g.degrade("has", err)
	}
	return g.fallback.Has(ctx, id)
}

func (g *Guard) Record(ctx context.Context, id Identity, meta Metadata) error {
	// The fallback always sees the record so a later degrade still
	// deduplicates within the run.
	_ = g.fallback.Record(ctx, id, meta)
	if g.Degraded() {
		return nil
	}
	if err := g.backend.Record(ctx, id, meta); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.degrade("record", err)
	}
	return nil
}

func (g *Guard) AllSeen(ctx context.Context) (map[Identity]struct{}, error) {
	if !g.Degraded() {
		seen, err := g.backend.AllSeen(ctx)
		if err == nil {
			return seen, nil
		}
		g.degrade("all_seen", err)
	}
	return g.fallback.AllSeen(ctx)
}

func (g *Guard) Close() error {
	if g.backend == nil {
		return nil
	}
	return g.backend.Close()
}
