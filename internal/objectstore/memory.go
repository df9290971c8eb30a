package objectstore

import (
	"context"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

type memoryEntry struct {
	bytes     []byte
	childEdge []id.ID
	touchedAt time.Time
}

// Memory is the store.kind = "memory" backend: a mutex-protected map, used
// for tests and ephemeral invocations where nothing needs to survive the
// process.
type Memory struct {
	mu      sync.RWMutex
	entries map[id.ID]memoryEntry
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[id.ID]memoryEntry)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, objID id.ID) ([]byte, Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[objID]
	if !ok {
		return nil, Metadata{}, notFound(objID)
	}
	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, Metadata{Size: uint64(len(e.bytes)), ChildEdges: e.childEdge, TouchedAt: e.touchedAt}, nil
}

func (m *Memory) Put(_ context.Context, objID id.ID, bytes []byte, touchedAt time.Time) error {
	if err := verifyContentID(objID, bytes); err != nil {
		return err
	}
	children, err := childEdgesOf(objID.Kind(), bytes)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(objID, bytes, children, touchedAt)
	return nil
}

func (m *Memory) putLocked(objID id.ID, bytes []byte, children []id.ID, touchedAt time.Time) {
	existing, ok := m.entries[objID]
	at := touchedAt
	if ok && existing.touchedAt.After(at) {
		at = existing.touchedAt
	}
	stored := make([]byte, len(bytes))
	copy(stored, bytes)
	m.entries[objID] = memoryEntry{bytes: stored, childEdge: children, touchedAt: at}
}

func (m *Memory) PutBatch(_ context.Context, reqs []PutRequest) error {
	type prepared struct {
		req      PutRequest
		children []id.ID
	}
	out := make([]prepared, 0, len(reqs))
	for _, r := range reqs {
		if err := verifyContentID(r.ID, r.Bytes); err != nil {
			return err
		}
		children, err := childEdgesOf(r.ID.Kind(), r.Bytes)
		if err != nil {
			return err
		}
		out = append(out, prepared{req: r, children: children})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range out {
		m.putLocked(p.req.ID, p.req.Bytes, p.children, p.req.TouchedAt)
	}
	return nil
}

func (m *Memory) Metadata(_ context.Context, objID id.ID) (Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[objID]
	if !ok {
		return Metadata{}, notFound(objID)
	}
	return Metadata{Size: uint64(len(e.bytes)), ChildEdges: e.childEdge, TouchedAt: e.touchedAt}, nil
}

func (m *Memory) Touch(_ context.Context, objID id.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[objID]
	if !ok {
		return notFound(objID)
	}
	if at.After(e.touchedAt) {
		e.touchedAt = at
		m.entries[objID] = e
	}
	return nil
}

func (m *Memory) Export(ctx context.Context, objID id.ID) ([]byte, error) {
	bytes, _, err := m.Get(ctx, objID)
	return bytes, err
}

func (m *Memory) Import(ctx context.Context, k id.Kind, bytes []byte) (id.ID, error) {
	objID := id.NewContent(k, bytes)
	if err := m.Put(ctx, objID, bytes, time.Now()); err != nil {
		return id.ID{}, err
	}
	return objID, nil
}
