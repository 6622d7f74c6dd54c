package radar

import (
	"context"
	"testing"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifier := &recordingNotifier{}
	notifier.onCall = func() {
		if notifier.count() >= 2 {
			cancel()
		}
	}
	srv := &Server{
		Log: discardLogger(),
		Runner: &Runner{
			Log:       discardLogger(),
			Catalog:   runCatalog(),
			Store:     dedup.NewMemory(),
			Notifiers: []Notifier{notifier},
			Now:       func() time.Time { return testNow },
		},
		Config: listConfig("acme/a"),
	}
	srv.Init()

	require.NoError(t, srv.Schedule(ctx, 10*time.Millisecond))
	assert.GreaterOrEqual(t, notifier.count(), 2)

	report, err := srv.Latest()
	require.NoError(t, err)
	require.NotNil(t, report)
	// The first run saw everything; later runs find nothing new.
	assert.Empty(t, report.Ranked)

	assert.Error(t, srv.Schedule(context.Background(), 0))
}
