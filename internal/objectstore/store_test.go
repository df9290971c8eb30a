package objectstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFS(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fs,
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			leaf := object.NewLeaf([]byte("hello, world!\n"))
			now := time.Now().Truncate(time.Second)

			require.NoError(t, s.Put(ctx, leaf.ID(), leaf.Encode(), now))

			gotBytes, md, err := s.Get(ctx, leaf.ID())
			require.NoError(t, err)
			require.Equal(t, leaf.Encode(), gotBytes)
			require.Equal(t, uint64(len(leaf.Encode())), md.Size)
			require.WithinDuration(t, now, md.TouchedAt, time.Second)
		})
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			leaf := object.NewLeaf([]byte("nope"))
			_, _, err := s.Get(context.Background(), leaf.ID())
			require.Error(t, err)
			require.Equal(t, tgerr.NotFound, tgerr.KindOf(err))
		})
	}
}

func TestStorePutRejectsHashMismatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := object.NewLeaf([]byte("a"))
			b := object.NewLeaf([]byte("b"))
			err := s.Put(context.Background(), a.ID(), b.Encode(), time.Now())
			require.Error(t, err)
			require.Equal(t, tgerr.InvalidArgument, tgerr.KindOf(err))
		})
	}
}

func TestStorePutIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			leaf := object.NewLeaf([]byte("repeat me"))
			require.NoError(t, s.Put(ctx, leaf.ID(), leaf.Encode(), time.Now()))
			require.NoError(t, s.Put(ctx, leaf.ID(), leaf.Encode(), time.Now()))

			gotBytes, _, err := s.Get(ctx, leaf.ID())
			require.NoError(t, err)
			require.Equal(t, leaf.Encode(), gotBytes)
		})
	}
}

func TestStoreTouchIsMonotonic(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			leaf := object.NewLeaf([]byte("touch me"))
			early := time.Now().Add(-time.Hour)
			late := time.Now()

			require.NoError(t, s.Put(ctx, leaf.ID(), leaf.Encode(), late))
			require.NoError(t, s.Touch(ctx, leaf.ID(), early))

			md, err := s.Metadata(ctx, leaf.ID())
			require.NoError(t, err)
			require.WithinDuration(t, late, md.TouchedAt, time.Second, "touch must not move touched_at backwards")
		})
	}
}

func TestStoreChildEdgesIndexedAtPutTime(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			blobID := object.NewLeaf([]byte("contents")).ID()
			file := object.NewFile(blobID, true, nil)

			require.NoError(t, s.Put(ctx, file.ID(), file.Encode(), time.Now()))

			md, err := s.Metadata(ctx, file.ID())
			require.NoError(t, err)
			require.Contains(t, md.ChildEdges, blobID)
		})
	}
}

func TestStorePutBatchAtomic(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := object.NewLeaf([]byte("batch-a"))
			b := object.NewLeaf([]byte("batch-b"))
			now := time.Now()

			err := s.PutBatch(ctx, []PutRequest{
				{ID: a.ID(), Bytes: a.Encode(), TouchedAt: now},
				{ID: b.ID(), Bytes: b.Encode(), TouchedAt: now},
			})
			require.NoError(t, err)

			for _, obj := range []*object.Blob{a, b} {
				got, _, err := s.Get(ctx, obj.ID())
				require.NoError(t, err)
				require.Equal(t, obj.Encode(), got)
			}
		})
	}
}

func TestStoreExportImportRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			leaf := object.NewLeaf([]byte("export me"))
			require.NoError(t, s.Put(ctx, leaf.ID(), leaf.Encode(), time.Now()))

			exported, err := s.Export(ctx, leaf.ID())
			require.NoError(t, err)
			require.Equal(t, leaf.Encode(), exported)

			gotID, err := s.Import(ctx, leaf.Kind(), exported)
			require.NoError(t, err)
			require.Equal(t, leaf.ID(), gotID)
		})
	}
}
