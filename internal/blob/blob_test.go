package blob

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/internal/chunker"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

func TestCreateAndReadSmallBlob(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemory()

	rootID, err := Create(ctx, s, bytes.NewReader([]byte("hello, world!\n")), 0)
	require.NoError(t, err)

	r, err := NewReader(ctx, s, rootID)
	require.NoError(t, err)
	require.Equal(t, uint64(14), r.Size())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello, world!\n", string(got))
}

func TestCreateAndReadLargeBlob(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemory()

	data := make([]byte, 5*chunker.AvgSize)
	rng := rand.New(rand.NewSource(7))
	_, _ = rng.Read(data)

	rootID, err := Create(ctx, s, bytes.NewReader(data), 4)
	require.NoError(t, err)

	size, err := Size(ctx, s, rootID)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), size)

	r, err := NewReader(ctx, s, rootID)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestReaderSeekMidBlob(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemory()

	data := make([]byte, 5*chunker.AvgSize)
	rng := rand.New(rand.NewSource(11))
	_, _ = rng.Read(data)

	rootID, err := Create(ctx, s, bytes.NewReader(data), 4)
	require.NoError(t, err)

	r, err := NewReader(ctx, s, rootID)
	require.NoError(t, err)

	mid := int64(len(data) / 2)
	pos, err := r.Seek(mid, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, mid, pos)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data[mid:], got)
}

func TestReaderSeekToEndYieldsEOF(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemory()

	rootID, err := Create(ctx, s, bytes.NewReader([]byte("abc")), 0)
	require.NoError(t, err)

	r, err := NewReader(ctx, s, rootID)
	require.NoError(t, err)

	_, err = r.Seek(3, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestCreateEmptyInputYieldsEmptyBlob(t *testing.T) {
	ctx := context.Background()
	s := objectstore.NewMemory()

	rootID, err := Create(ctx, s, bytes.NewReader(nil), 0)
	require.NoError(t, err)

	r, err := NewReader(ctx, s, rootID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), r.Size())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Empty(t, got)
}
