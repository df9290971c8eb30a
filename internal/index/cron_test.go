package index_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

func TestGCSchedulerSweepsOnTick(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	stale := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	orphan := fakeID(id.KindBlob, 70)
	require.NoError(t, x.RecordObject(ctx, orphan, 1, nil, stale))

	sched, err := index.StartGCScheduler(x, "@every 20ms", 24*time.Hour, 0, slog.Default())
	require.NoError(t, err)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		ok, err := x.Exists(ctx, orphan)
		return err == nil && !ok
	}, time.Second, 10*time.Millisecond)
}
