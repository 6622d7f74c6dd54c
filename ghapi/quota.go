package ghapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-github/v59/github"
)

// Bucket is a snapshot of one quota category.
type Bucket struct {
	Name      string    `json:"name"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	LowWater  int       `json:"low_water"`
}

// QuotaStatus is the state of both buckets.
type QuotaStatus struct {
	Core   Bucket `json:"core"`
	Search Bucket `json:"search"`
}

// bucket tracks a quota category shared by all workers. Until the first
// response arrives its state is unknown and calls pass freely.
type bucket struct {
	log      *slog.Logger
	name     string
	lowWater int

	mu        sync.Mutex
	known     bool
	limit     int
	remaining int
	reset     time.Time
}

func newBucket(log *slog.Logger, name string, lowWater int) *bucket {
	return &bucket{log: log, name: name, lowWater: lowWater}
}

// threshold is the effective low-water mark. A mark above half the limit,
// such as the default core mark against the 60 calls of anonymous access,
// would never let a call through, so it shrinks to a tenth of the limit.
// Callers hold b.mu.
func (b *bucket) threshold() int {
	if b.limit > 0 && b.lowWater*2 > b.limit {
		return b.limit / 10
	}
	return b.lowWater
}

// acquire reserves one call. When the bucket is at or below its low-water
// mark it blocks until the reset time instead of spending the last requests.
func (b *bucket) acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		if !b.known || b.remaining > b.threshold() {
			b.remaining--
			b.mu.Unlock()
			return nil
		}
		wait := time.Until(b.reset)
		if wait <= 0 {
			// The window rolled over; assume a full bucket until the next
			// response says otherwise.
			b.remaining = b.limit - 1
			if b.limit == 0 {
				b.known = false
			}
			b.mu.Unlock()
			return nil
		}
		remaining := b.remaining
		b.mu.Unlock()

		b.log.Info("quota low, waiting for reset",
			"bucket", b.name,
			"remaining", remaining,
			"wait", wait.Truncate(time.Millisecond).String(),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// update folds the rate reported by a response into the bucket. Responses
// can arrive out of order, so within one window the lowest count wins.
func (b *bucket) update(r github.Rate) {
	if r.Limit == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	reset := r.Reset.Time
	switch {
	case !b.known || reset.After(b.reset):
		b.remaining = r.Remaining
	case reset.Equal(b.reset) && r.Remaining < b.remaining:
		b.remaining = r.Remaining
	case reset.Before(b.reset):
		return
	}
	b.known = true
	b.limit = r.Limit
	b.reset = reset
}

// suspend empties the bucket until resetAt.
func (b *bucket) suspend(resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.known = true
	b.remaining = 0
	if resetAt.After(b.reset) {
		b.reset = resetAt
	}
}

func (b *bucket) snapshot() Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Bucket{
		Name:      b.name,
		Limit:     b.limit,
		Remaining: b.remaining,
		Reset:     b.reset,
		LowWater:  b.threshold(),
	}
}
