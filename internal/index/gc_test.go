package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/id"
)

// TestCleanSkipsReachableObjects is spec S5: an object pinned by a root
// survives Clean even though its touched_at predates the cutoff, while an
// untouched, unreachable object is deleted.
func TestCleanSkipsReachableObjects(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	stale := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	pinned := fakeID(id.KindBlob, 10)
	orphan := fakeID(id.KindBlob, 11)

	require.NoError(t, x.RecordObject(ctx, pinned, 1, nil, stale))
	require.NoError(t, x.RecordObject(ctx, orphan, 1, nil, stale))
	require.NoError(t, x.PutRoot(ctx, "keep", pinned))

	deleted, err := x.Clean(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	ok, err := x.Exists(ctx, pinned)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = x.Exists(ctx, orphan)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestCleanFollowsObjectEdges confirms a child reachable only through a
// pinned parent's edges also survives.
func TestCleanFollowsObjectEdges(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	stale := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	parent := fakeID(id.KindDirectory, 20)
	child := fakeID(id.KindFile, 21)

	require.NoError(t, x.RecordObject(ctx, child, 1, nil, stale))
	require.NoError(t, x.RecordObject(ctx, parent, 1, []id.ID{child}, stale))
	require.NoError(t, x.PutRoot(ctx, "keep", parent))

	deleted, err := x.Clean(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	ok, err := x.Exists(ctx, child)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestCleanRespectsRecentTouch ensures an object touched after the cutoff
// survives even without a root.
func TestCleanRespectsRecentTouch(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	recent := time.Now().UTC()

	obj := fakeID(id.KindBlob, 30)
	require.NoError(t, x.RecordObject(ctx, obj, 1, nil, recent))

	deleted, err := x.Clean(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	ok, err := x.Exists(ctx, obj)
	require.NoError(t, err)
	require.True(t, ok)
}
