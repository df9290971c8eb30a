// Package blob wires the content-defined chunker (internal/chunker) to the
// object store (internal/objectstore), implementing the blob engine's
// write path (spec §4.3): chunk a stream, store every leaf and branch, and
// return the root blob's ID.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tangramdotdev/tangram/internal/chunker"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// Create chunks r and stores the resulting Merkle tree in s, returning the
// root blob's ID. fanout <= 1 uses chunker.DefaultFanout.
func Create(ctx context.Context, s objectstore.Store, r io.Reader, fanout int) (id.ID, error) {
	root, all, err := chunker.BuildBlob(r, fanout)
	if err != nil {
		return id.ID{}, fmt.Errorf("blob: chunk input: %w", err)
	}
	now := time.Now()
	reqs := make([]objectstore.PutRequest, len(all))
	for i, b := range all {
		reqs[i] = objectstore.PutRequest{ID: b.ID(), Bytes: b.Encode(), TouchedAt: now}
	}
	if err := s.PutBatch(ctx, reqs); err != nil {
		return id.ID{}, fmt.Errorf("blob: store chunks: %w", err)
	}
	return root.ID(), nil
}

// Size returns a stored blob's logical byte length. A branch blob's
// logical length is the sum of its children's recorded sizes, so only the
// root object itself needs to be fetched.
func Size(ctx context.Context, s objectstore.Store, blobID id.ID) (uint64, error) {
	root, err := resolve(ctx, s, blobID)
	if err != nil {
		return 0, err
	}
	return root.Size(), nil
}
