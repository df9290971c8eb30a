package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramdotdev/tangram/internal/id"
)

func TestRootCRUD(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	item := fakeID(id.KindDirectory, 40)
	require.NoError(t, x.PutRoot(ctx, "default", item))

	got, err := x.GetRoot(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, item, got)

	other := fakeID(id.KindDirectory, 41)
	require.NoError(t, x.PutRoot(ctx, "default", other))
	got, err = x.GetRoot(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, other, got)

	list, err := x.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "default", list[0].Name)

	require.NoError(t, x.DeleteRoot(ctx, "default"))
	_, err = x.GetRoot(ctx, "default")
	require.Error(t, err)
}

func TestGetRootNotFound(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	_, err := x.GetRoot(ctx, "missing")
	require.Error(t, err)
}
