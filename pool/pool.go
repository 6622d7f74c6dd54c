// Package pool runs independent units of work with bounded concurrency and
// reports one tagged result per unit.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNotDispatched is the error of units that never started because the
// context was canceled first.
var ErrNotDispatched = errors.New("not dispatched")

// Unit is a keyed piece of work.
type Unit[T any] struct {
	Key string
	Do  func(ctx context.Context) (T, error)
}

type Result[T any] struct {
	// Index is the position of the unit in the submitted slice.
	Index   int
	Key     string
	Value   T
	Err     error
	Elapsed time.Duration
}

// Dispatched reports whether the unit was started.
func (r Result[T]) Dispatched() bool {
	return !errors.Is(r.Err, ErrNotDispatched)
}

type options struct {
	timeout time.Duration
}

type Option func(*options)

// WithTimeout bounds every unit. A unit that exceeds it fails with
// context.DeadlineExceeded without affecting its siblings.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Stream dispatches units with at most n in flight and emits results as they
// complete. The channel is closed after every unit has produced exactly one
// result.
func Stream[T any](ctx context.Context, n int, units []Unit[T], opts ...Option) <-chan Result[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if n < 1 {
		n = 1
	}

	out := make(chan Result[T], len(units))
	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(n))
		var wg sync.WaitGroup
		for i, u := range units {
			// Acquire may succeed on a done context when a slot is free.
			if ctx.Err() != nil || sem.Acquire(ctx, 1) != nil {
				for j := i; j < len(units); j++ {
					out <- Result[T]{Index: j, Key: units[j].Key, Err: ErrNotDispatched}
				}
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				out <- runUnit(ctx, i, u, o)
			}()
		}
		wg.Wait()
	}()
	return out
}

func runUnit[T any](ctx context.Context, i int, u Unit[T], o options) (r Result[T]) {
	r = Result[T]{Index: i, Key: u.Key}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		r.Elapsed = time.Since(start)
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("unit %s panicked: %v", u.Key, p)
		}
	}()
	r.Value, r.Err = u.Do(ctx)
	return r
}

// Run is Stream collected back into submission order.
func Run[T any](ctx context.Context, n int, units []Unit[T], opts ...Option) []Result[T] {
	results := make([]Result[T], len(units))
	for r := range Stream(ctx, n, units, opts...) {
		results[r.Index] = r
	}
	return results
}

type Summary struct {
	Dispatched    int `json:"dispatched"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	NotDispatched int `json:"not_dispatched"`
}

func Summarize[T any](results []Result[T]) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case !r.Dispatched():
			s.NotDispatched++
		case r.Err != nil:
			s.Dispatched++
			s.Failed++
		default:
			s.Dispatched++
			s.Succeeded++
		}
	}
	return s
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Dispatched += o.Dispatched
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.NotDispatched += o.NotDispatched
}
