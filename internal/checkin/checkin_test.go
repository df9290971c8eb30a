package checkin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// TestCheckinCheckoutRoundTrip is spec §8 scenario S1: a directory with a
// plain file and an executable script round-trips byte-for-byte, and the
// executable bit survives.
func TestCheckinCheckoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("Hello, World!\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "run"), []byte("#!/bin/sh\necho hi\n"), 0o755))

	store := objectstore.NewMemory()
	art, err := Checkin(ctx, store, src, Config{})
	require.NoError(t, err)
	require.False(t, art.Artifact.IsZero())

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Checkout(ctx, store, art, out))

	readme, err := os.ReadFile(filepath.Join(out, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "Hello, World!\n", string(readme))

	info, err := os.Stat(filepath.Join(out, "bin", "run"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111)
}

func TestCheckinDeterministic(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0o644))

	store := objectstore.NewMemory()
	a1, err := Checkin(ctx, store, src, Config{})
	require.NoError(t, err)
	a2, err := Checkin(ctx, store, src, Config{})
	require.NoError(t, err)
	require.Equal(t, a1.Artifact, a2.Artifact)
}

func TestCheckinRespectsIgnore(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "keep.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "skip.log"), []byte("skip"), 0o644))

	store := objectstore.NewMemory()
	ignore := NewIgnore(src, IgnoreConfig{Global: []string{"*.log"}})
	art, err := Checkin(ctx, store, src, Config{Ignore: ignore})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Checkout(ctx, store, art, out))

	_, err = os.Stat(filepath.Join(out, "keep.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "skip.log"))
	require.True(t, os.IsNotExist(err))
}

func TestCheckinSymlinkCycleRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "file.txt"), []byte("x"), 0o644))
	// a/loop -> .. (points back at the root, which contains "a": the cycle
	// case spec §3/§9 represents via a Graph rather than an unbounded
	// expansion).
	require.NoError(t, os.Symlink("..", filepath.Join(src, "a", "loop")))

	store := objectstore.NewMemory()
	art, err := Checkin(ctx, store, src, Config{})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Checkout(ctx, store, art, out))

	target, err := os.Readlink(filepath.Join(out, "a", "loop"))
	require.NoError(t, err)
	require.Equal(t, "..", target)

	contents, err := os.ReadFile(filepath.Join(out, "a", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "x", string(contents))
}

func TestCheckoutUnresolvedSymlinkCreatedVerbatim(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.Symlink("/does/not/exist", filepath.Join(src, "dangling")))

	store := objectstore.NewMemory()
	art, err := Checkin(ctx, store, src, Config{})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Checkout(ctx, store, art, out))

	target, err := os.Readlink(filepath.Join(out, "dangling"))
	require.NoError(t, err)
	require.Equal(t, "/does/not/exist", target)
}
