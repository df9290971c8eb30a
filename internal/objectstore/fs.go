package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

// FS is the store.kind = "fs" backend: a sharded, content-addressed
// directory tree with atomic temp-file-then-rename writes, so a crash
// mid-write never leaves a corrupt entry at its canonical path.
type FS struct {
	root string

	// locks serializes concurrent puts of the same ID so a racing pair of
	// identical writes resolves to one stored object rather than two
	// interleaved renames (spec §4.2 "concurrent puts... resolve to a
	// single stored object").
	mu    sync.Mutex
	locks map[id.ID]*sync.Mutex
}

// NewFS opens (creating if necessary) a directory tree rooted at root.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create store root %s: %w", root, err)
	}
	return &FS{root: root, locks: make(map[id.ID]*sync.Mutex)}, nil
}

var _ Store = (*FS)(nil)

type sidecar struct {
	Size      uint64    `json:"size"`
	Children  []string  `json:"children"`
	TouchedAt time.Time `json:"touched_at"`
}

// entryPaths returns the sharded bytes and sidecar metadata paths for objID,
// using the first two hex-equivalent characters of its textual form as a
// shard prefix so no directory accumulates every object in the store.
func (f *FS) entryPaths(objID id.ID) (bytesPath, metaPath string) {
	name := objID.String()
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	dir := filepath.Join(f.root, shard)
	return filepath.Join(dir, name+".bin"), filepath.Join(dir, name+".json")
}

func (f *FS) lockFor(objID id.ID) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[objID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[objID] = l
	}
	return l
}

func (f *FS) Get(_ context.Context, objID id.ID) ([]byte, Metadata, error) {
	bytesPath, metaPath := f.entryPaths(objID)
	bytes, err := os.ReadFile(bytesPath)
	if os.IsNotExist(err) {
		return nil, Metadata{}, notFound(objID)
	}
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("objectstore: read %s: %w", objID, err)
	}
	md, err := readSidecar(metaPath)
	if err != nil {
		return nil, Metadata{}, err
	}
	return bytes, md, nil
}

func readSidecar(metaPath string) (Metadata, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, err
		}
		return Metadata{}, fmt.Errorf("objectstore: read metadata %s: %w", metaPath, err)
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return Metadata{}, fmt.Errorf("objectstore: parse metadata %s: %w", metaPath, err)
	}
	children := make([]id.ID, 0, len(sc.Children))
	for _, c := range sc.Children {
		parsed, err := id.Parse(c)
		if err != nil {
			return Metadata{}, fmt.Errorf("objectstore: parse child edge %q: %w", c, err)
		}
		children = append(children, parsed)
	}
	return Metadata{Size: sc.Size, ChildEdges: children, TouchedAt: sc.TouchedAt}, nil
}

func (f *FS) Put(_ context.Context, objID id.ID, bytes []byte, touchedAt time.Time) error {
	if err := verifyContentID(objID, bytes); err != nil {
		return err
	}
	children, err := childEdgesOf(objID.Kind(), bytes)
	if err != nil {
		return err
	}
	lock := f.lockFor(objID)
	lock.Lock()
	defer lock.Unlock()
	return f.putLocked(objID, bytes, children, touchedAt)
}

func (f *FS) putLocked(objID id.ID, bytes []byte, children []id.ID, touchedAt time.Time) error {
	bytesPath, metaPath := f.entryPaths(objID)
	dir := filepath.Dir(bytesPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("objectstore: create shard dir %s: %w", dir, err)
	}

	at := touchedAt
	if existing, err := readSidecar(metaPath); err == nil && existing.TouchedAt.After(at) {
		at = existing.TouchedAt
	}

	// Bytes are content-addressed and therefore identical across puts of
	// the same ID; only write them if absent. Metadata (touched_at) is
	// always rewritten so touch() semantics stay correct.
	if _, err := os.Stat(bytesPath); os.IsNotExist(err) {
		if err := writeFileAtomic(bytesPath, bytes); err != nil {
			return fmt.Errorf("objectstore: write %s: %w", objID, err)
		}
	}

	childNames := make([]string, len(children))
	for i, c := range children {
		childNames[i] = c.String()
	}
	raw, err := json.Marshal(sidecar{Size: uint64(len(bytes)), Children: childNames, TouchedAt: at})
	if err != nil {
		return fmt.Errorf("objectstore: marshal metadata for %s: %w", objID, err)
	}
	if err := writeFileAtomic(metaPath, raw); err != nil {
		return fmt.Errorf("objectstore: write metadata for %s: %w", objID, err)
	}
	return nil
}

func (f *FS) PutBatch(ctx context.Context, reqs []PutRequest) error {
	// Each entry's own ID lock still serializes against a concurrent
	// single Put of the same object; batch membership itself needs no
	// cross-entry lock since every entry is independently content-addressed.
	for _, r := range reqs {
		if err := f.Put(ctx, r.ID, r.Bytes, r.TouchedAt); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) Metadata(_ context.Context, objID id.ID) (Metadata, error) {
	_, metaPath := f.entryPaths(objID)
	md, err := readSidecar(metaPath)
	if os.IsNotExist(err) {
		return Metadata{}, notFound(objID)
	}
	return md, err
}

func (f *FS) Touch(_ context.Context, objID id.ID, at time.Time) error {
	lock := f.lockFor(objID)
	lock.Lock()
	defer lock.Unlock()

	_, metaPath := f.entryPaths(objID)
	md, err := readSidecar(metaPath)
	if os.IsNotExist(err) {
		return notFound(objID)
	}
	if err != nil {
		return err
	}
	if !at.After(md.TouchedAt) {
		return nil
	}
	childNames := make([]string, len(md.ChildEdges))
	for i, c := range md.ChildEdges {
		childNames[i] = c.String()
	}
	raw, err := json.Marshal(sidecar{Size: md.Size, Children: childNames, TouchedAt: at})
	if err != nil {
		return fmt.Errorf("objectstore: marshal metadata for %s: %w", objID, err)
	}
	return writeFileAtomic(metaPath, raw)
}

func (f *FS) Export(ctx context.Context, objID id.ID) ([]byte, error) {
	bytes, _, err := f.Get(ctx, objID)
	return bytes, err
}

func (f *FS) Import(ctx context.Context, k id.Kind, bytes []byte) (id.ID, error) {
	objID := id.NewContent(k, bytes)
	if err := f.Put(ctx, objID, bytes, time.Now()); err != nil {
		return id.ID{}, err
	}
	return objID, nil
}

// writeFileAtomic writes data to a temp file alongside path and renames it
// into place, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
