// Package objectstore implements the object store collaborator from spec
// §4.2: content-addressed get/put/put_batch/metadata/touch/export/import
// over the object kinds in internal/object. Two backends are provided,
// matching the store.kind options in spec §6 that this retrieval pack can
// actually ground a real implementation for: an in-memory map (store.kind =
// memory) and a local content-addressed directory tree (store.kind = fs,
// standing in for the on-disk lmdb/fdb backends spec.md names — see
// DESIGN.md for why no grounded third-party driver exists for those in this
// pack).
package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// Metadata is the per-object bookkeeping a store tracks alongside the raw
// bytes, per spec §4.2's metadata(id) operation.
type Metadata struct {
	Size       uint64
	ChildEdges []id.ID
	TouchedAt  time.Time
}

// PutRequest is one entry of a put_batch call.
type PutRequest struct {
	ID        id.ID
	Bytes     []byte
	TouchedAt time.Time
}

// Store is the semantic interface every backend implements.
type Store interface {
	// Get returns the stored bytes and metadata for id, or a NotFound tgerr.
	Get(ctx context.Context, objID id.ID) ([]byte, Metadata, error)
	// Put stores bytes under objID, rejecting a mismatched content hash.
	// Put is idempotent: re-putting identical bytes under the same ID
	// succeeds without error and only advances touchedAt.
	Put(ctx context.Context, objID id.ID, bytes []byte, touchedAt time.Time) error
	// PutBatch stores every request. The memory backend verifies every
	// entry before storing any; the fs backend stores entries one at a
	// time and returns at the first failure, so earlier entries of a
	// failed batch stay stored.
	PutBatch(ctx context.Context, reqs []PutRequest) error
	// Metadata returns bookkeeping for objID without fetching its bytes.
	Metadata(ctx context.Context, objID id.ID) (Metadata, error)
	// Touch advances touchedAt monotonically: stored = max(current, at).
	Touch(ctx context.Context, objID id.ID, at time.Time) error
	// Export streams the canonical wire bytes for objID.
	Export(ctx context.Context, objID id.ID) ([]byte, error)
	// Import verifies and stores an object previously produced by Export.
	Import(ctx context.Context, k id.Kind, bytes []byte) (id.ID, error)
}

// verifyContentID checks the spec §4.2 Put guarantee: hash(bytes) == id for
// content-addressed kinds. Temporal kinds (Process/Pipe/Pty) don't have
// content identity and are accepted as-is.
func verifyContentID(objID id.ID, bytes []byte) error {
	if !id.IsContentKind(objID.Kind()) {
		return nil
	}
	want := id.NewContent(objID.Kind(), bytes)
	if want != objID {
		return tgerr.New(tgerr.InvalidArgument, "objectstore: content hash mismatch for %s", objID)
	}
	return nil
}

func childEdgesOf(k id.Kind, bytes []byte) ([]id.ID, error) {
	obj, err := object.Decode(k, bytes)
	if err != nil {
		return nil, fmt.Errorf("objectstore: decode %s for child-edge index: %w", k, err)
	}
	return obj.ChildEdges(), nil
}

func notFound(objID id.ID) error {
	return tgerr.New(tgerr.NotFound, "objectstore: %s not found", objID)
}
