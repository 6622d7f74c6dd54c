package radar

import (
	"context"
	"errors"
	"time"
)

// Schedule runs discovery immediately and then once per interval, and
// blocks until ctx is done. A tick that lands while a run is still going is
// skipped.
func (s *Server) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("schedule interval must be positive")
	}
	ticker := time.NewTicker(interval)
	s.Log.Info("scheduler started", "interval", interval)
	defer ticker.Stop()
	for {
		// Run errors are logged by Trigger.
		if _, err := s.Trigger(ctx, s.Config); errors.Is(err, ErrRunInProgress) {
			s.Log.Info("skipping scheduled run", "reason", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			continue
		}
	}
}
