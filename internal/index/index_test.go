package index_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/config"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

// newTestIndex opens a private named in-memory database per test. Each
// test needs its own cache=shared URI name; otherwise every test in this
// binary would share one sqlite memory database and trip over each
// other's rows and migration state.
func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := index.Open(config.Database{Kind: config.DatabaseSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return index.New(db, config.DatabaseSQLite)
}

func fakeID(kind id.Kind, seed byte) id.ID {
	b := make([]byte, seed+1)
	for i := range b {
		b[i] = seed
	}
	return id.NewContent(kind, b)
}

func TestRecordObjectAndMetadata(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	parent := fakeID(id.KindDirectory, 1)
	child := fakeID(id.KindFile, 2)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, x.RecordObject(ctx, child, 10, nil, now))
	require.NoError(t, x.RecordObject(ctx, parent, 20, []id.ID{child}, now))

	meta, err := x.Metadata(ctx, parent)
	require.NoError(t, err)
	require.Equal(t, uint64(20), meta.Size)
	require.Equal(t, id.KindDirectory, meta.Kind)
}

func TestTouchIsMonotonic(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	obj := fakeID(id.KindBlob, 3)
	early := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	late := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, x.RecordObject(ctx, obj, 1, nil, late))
	require.NoError(t, x.Touch(ctx, obj, early))

	meta, err := x.Metadata(ctx, obj)
	require.NoError(t, err)
	require.True(t, meta.TouchedAt.Equal(late) || meta.TouchedAt.After(early))
}

func TestRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	require.NoError(t, x.PutRemote(ctx, "origin", "https://example.com"))
	url, err := x.GetRemote(ctx, "origin")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", url)

	require.NoError(t, x.PutRemote(ctx, "origin", "https://example.org"))
	url, err = x.GetRemote(ctx, "origin")
	require.NoError(t, err)
	require.Equal(t, "https://example.org", url)

	list, err := x.ListRemotes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, x.DeleteRemote(ctx, "origin"))
	_, err = x.GetRemote(ctx, "origin")
	require.Error(t, err)
}

func TestRemoteTagCacheExpiry(t *testing.T) {
	c := index.NewRemoteTagCache(10 * time.Millisecond)
	c.Put("origin", "foo/*", "foo/1.0.0")

	v, ok := c.Get("origin", "foo/*")
	require.True(t, ok)
	require.Equal(t, "foo/1.0.0", v)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("origin", "foo/*")
	require.False(t, ok)

	v, ok = c.GetStale("origin", "foo/*")
	require.True(t, ok)
	require.Equal(t, "foo/1.0.0", v)
}
