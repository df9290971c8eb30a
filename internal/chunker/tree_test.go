package chunker

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/internal/object"
)

func TestBuildBlobSmallInputIsLeaf(t *testing.T) {
	root, all, err := BuildBlob(bytes.NewReader([]byte("hello")), 0)
	require.NoError(t, err)
	require.True(t, root.IsLeaf)
	require.Equal(t, []byte("hello"), root.Data)
	require.Len(t, all, 1)
}

func TestBuildBlobEmptyInputIsEmptyLeaf(t *testing.T) {
	root, _, err := BuildBlob(bytes.NewReader(nil), 0)
	require.NoError(t, err)
	require.Equal(t, object.EmptyBlobID, root.ID())
}

func TestBuildBlobLargeInputIsBranchWithCorrectSize(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	data := make([]byte, 20*AvgSize)
	_, _ = r.Read(data)

	root, all, err := BuildBlob(bytes.NewReader(data), 4)
	require.NoError(t, err)
	require.False(t, root.IsLeaf)
	require.Equal(t, uint64(len(data)), root.Size())
	require.Greater(t, len(all), 1)

	// With a fanout of 4 and enough leaves, expect at least one
	// intermediate branch level above the leaves.
	var leafCount int
	for _, b := range all {
		if b.IsLeaf {
			leafCount++
		}
	}
	require.Greater(t, leafCount, 4)
}

func TestFindStartWalksCumulativeSizes(t *testing.T) {
	branch := object.NewBranch([]object.BlobChild{
		{Child: object.NewLeaf([]byte("aaaa")).ID(), Size: 4},
		{Child: object.NewLeaf([]byte("bbbb")).ID(), Size: 4},
		{Child: object.NewLeaf([]byte("cccc")).ID(), Size: 4},
	})
	idx, inner, err := FindStart(branch, 5)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, uint64(1), inner)
}
