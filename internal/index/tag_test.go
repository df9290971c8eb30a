package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/id"
)

// TestListTagsVersionAwareOrdering is spec S4: foo/1.0.0, foo/1.2.0,
// foo/1.10.0 in version-aware (not lexicographic) order.
func TestListTagsVersionAwareOrdering(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	o1 := fakeID(id.KindDirectory, 50)
	o2 := fakeID(id.KindDirectory, 51)
	o3 := fakeID(id.KindDirectory, 52)

	require.NoError(t, x.PutTag(ctx, "foo/1.0.0", o1, false))
	require.NoError(t, x.PutTag(ctx, "foo/1.2.0", o2, false))
	require.NoError(t, x.PutTag(ctx, "foo/1.10.0", o3, false))

	latest, err := x.ListTags(ctx, "foo/*", false, true, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, "foo/1.10.0", latest[0].String())
	require.Equal(t, o3, latest[0].Item)

	all, err := x.ListTags(ctx, "foo/*", false, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "foo/1.0.0", all[0].String())
	require.Equal(t, "foo/1.2.0", all[1].String())
	require.Equal(t, "foo/1.10.0", all[2].String())
}

func TestPutTagForceFalseNoOpWhenSameItem(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	item := fakeID(id.KindDirectory, 60)

	require.NoError(t, x.PutTag(ctx, "bar/1.0.0", item, false))
	require.NoError(t, x.PutTag(ctx, "bar/1.0.0", item, false))

	got, err := x.GetTag(ctx, "bar/1.0.0")
	require.NoError(t, err)
	require.Equal(t, item, got.Item)
}

func TestPutTagForceFalseConflictWhenDifferentItem(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	a := fakeID(id.KindDirectory, 61)
	b := fakeID(id.KindDirectory, 62)

	require.NoError(t, x.PutTag(ctx, "bar/1.0.0", a, false))
	err := x.PutTag(ctx, "bar/1.0.0", b, false)
	require.Error(t, err)

	got, err := x.GetTag(ctx, "bar/1.0.0")
	require.NoError(t, err)
	require.Equal(t, a, got.Item)
}

func TestPutTagForceTrueOverwrites(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	a := fakeID(id.KindDirectory, 63)
	b := fakeID(id.KindDirectory, 64)

	require.NoError(t, x.PutTag(ctx, "bar/1.0.0", a, false))
	require.NoError(t, x.PutTag(ctx, "bar/1.0.0", b, true))

	got, err := x.GetTag(ctx, "bar/1.0.0")
	require.NoError(t, err)
	require.Equal(t, b, got.Item)
}

func TestDeleteTag(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	item := fakeID(id.KindDirectory, 65)

	require.NoError(t, x.PutTag(ctx, "baz/1.0.0", item, false))
	require.NoError(t, x.DeleteTag(ctx, "baz/*", false))

	_, err := x.GetTag(ctx, "baz/1.0.0")
	require.Error(t, err)
}

func TestGetTagNotFound(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	_, err := x.GetTag(ctx, "nope/1.0.0")
	require.Error(t, err)
}
