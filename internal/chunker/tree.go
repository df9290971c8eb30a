package chunker

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/object"
)

// DefaultFanout bounds how many children a single branch blob may have
// before leaves are grouped into a deeper level (spec §4.3).
const DefaultFanout = 1024

// BuildBlob chunks r and assembles a balanced Merkle tree of object.Blob
// values, returning the root. Every leaf and intermediate branch the tree
// references is also returned (in no particular order) so the caller can
// store them all.
func BuildBlob(r io.Reader, fanout int) (root *object.Blob, all []*object.Blob, err error) {
	if fanout <= 1 {
		fanout = DefaultFanout
	}
	c := New(r)
	var level []*object.Blob
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("chunker: build blob: %w", err)
		}
		leaf := object.NewLeaf(bytesClone(chunk))
		level = append(level, leaf)
		all = append(all, leaf)
	}
	if len(level) == 0 {
		leaf := object.NewLeaf(nil)
		return leaf, []*object.Blob{leaf}, nil
	}
	for len(level) > 1 {
		var next []*object.Blob
		for i := 0; i < len(level); i += fanout {
			end := i + fanout
			if end > len(level) {
				end = len(level)
			}
			children := make([]object.BlobChild, 0, end-i)
			for _, b := range level[i:end] {
				children = append(children, object.BlobChild{Child: b.ID(), Size: b.Size()})
			}
			branch := object.NewBranch(children)
			next = append(next, branch)
			all = append(all, branch)
		}
		level = next
	}
	return level[0], all, nil
}

func bytesClone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// NewLeafReader returns an io.Reader over a leaf blob's bytes directly.
func NewLeafReader(b *object.Blob) io.Reader {
	if !b.IsLeaf {
		panic("chunker: NewLeafReader requires a leaf blob")
	}
	return bytes.NewReader(b.Data)
}

// FindStart walks a branch blob's cumulative child sizes and returns the
// index of the child containing offset, plus the offset's position within
// that child (spec §4.3 seekable read).
func FindStart(b *object.Blob, offset uint64) (childIndex int, innerOffset uint64, err error) {
	if b.IsLeaf {
		if offset > uint64(len(b.Data)) {
			return 0, 0, fmt.Errorf("chunker: offset %d beyond leaf size %d", offset, len(b.Data))
		}
		return -1, offset, nil
	}
	var cumulative uint64
	for i, c := range b.Children {
		if offset < cumulative+c.Size {
			return i, offset - cumulative, nil
		}
		cumulative += c.Size
	}
	if offset == cumulative {
		return len(b.Children), 0, nil
	}
	return 0, 0, fmt.Errorf("chunker: offset %d beyond blob size %d", offset, cumulative)
}
