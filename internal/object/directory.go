package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

const (
	entryVariantArtifact = 0
	entryVariantGraph    = 1
)

// GraphReference points at one node inside a Graph object, the mechanism
// used to represent cycles and self-references (spec §3, §9).
type GraphReference struct {
	Graph id.ID
	Node  int
}

// DirectoryEntry is either a direct artifact ID or a GraphReference.
type DirectoryEntry struct {
	Artifact id.ID // zero if Graph is set
	Graph    *GraphReference
}

// Directory maps names to child artifacts. Names are unique; the mapping is
// order-insensitive for hashing (spec §3) — Encode always sorts by name.
type Directory struct {
	Entries map[string]DirectoryEntry
}

// NewDirectory constructs a Directory over the given name->entry mapping.
func NewDirectory(entries map[string]DirectoryEntry) *Directory {
	if entries == nil {
		entries = map[string]DirectoryEntry{}
	}
	return &Directory{Entries: entries}
}

func (d *Directory) Kind() id.Kind { return id.KindDirectory }

func (dir *Directory) Encode() []byte {
	names := make([]string, 0, len(dir.Entries))
	for n := range dir.Entries {
		names = append(names, n)
	}
	sort.Strings(names)

	e := wire.NewEncoder()
	e.StructHeader(1)
	e.MapHeader(len(names))
	for _, name := range names {
		entry := dir.Entries[name]
		e.String(name)
		if entry.Graph != nil {
			e.StructHeader(2)
			e.Uvarint(entryVariantGraph)
			e.StructHeader(2)
			encodeID(e, entry.Graph.Graph)
			e.Uvarint(uint64(entry.Graph.Node))
		} else {
			e.StructHeader(2)
			e.Uvarint(entryVariantArtifact)
			encodeID(e, entry.Artifact)
		}
	}
	return e.Bytes()
}

func (dir *Directory) ID() id.ID { return id.NewContent(id.KindDirectory, dir.Encode()) }

func (dir *Directory) ChildEdges() []id.ID {
	edges := make([]id.ID, 0, len(dir.Entries))
	for _, entry := range dir.Entries {
		if entry.Graph != nil {
			edges = append(edges, entry.Graph.Graph)
		} else {
			edges = append(edges, entry.Artifact)
		}
	}
	return dedupeSorted(edges)
}

// DecodeDirectory reconstructs a Directory from its canonical encoding. A
// zero-entry map (an explicit empty directory) decodes distinctly from a
// missing object (spec §8 boundary behavior: the map is non-nil but empty).
func DecodeDirectory(b []byte) (*Directory, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 1 {
		return nil, fmt.Errorf("object: decode directory: bad struct header (n=%d, err=%v)", n, err)
	}
	count, err := d.MapHeader()
	if err != nil {
		return nil, fmt.Errorf("object: decode directory entries: %w", err)
	}
	entries := make(map[string]DirectoryEntry, count)
	for i := 0; i < count; i++ {
		name, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("object: decode directory entry %d name: %w", i, err)
		}
		if n, err := d.StructHeader(); err != nil || n != 2 {
			return nil, fmt.Errorf("object: decode directory entry %d: bad struct header", i)
		}
		variant, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("object: decode directory entry %d variant: %w", i, err)
		}
		switch variant {
		case entryVariantArtifact:
			artifact, err := decodeID(d)
			if err != nil {
				return nil, fmt.Errorf("object: decode directory entry %d artifact: %w", i, err)
			}
			entries[name] = DirectoryEntry{Artifact: artifact}
		case entryVariantGraph:
			if n, err := d.StructHeader(); err != nil || n != 2 {
				return nil, fmt.Errorf("object: decode directory entry %d graph ref: bad struct header", i)
			}
			graphID, err := decodeID(d)
			if err != nil {
				return nil, fmt.Errorf("object: decode directory entry %d graph id: %w", i, err)
			}
			node, err := d.Uvarint()
			if err != nil {
				return nil, fmt.Errorf("object: decode directory entry %d node index: %w", i, err)
			}
			entries[name] = DirectoryEntry{Graph: &GraphReference{Graph: graphID, Node: int(node)}}
		default:
			return nil, fmt.Errorf("object: decode directory entry %d: unknown variant %d", i, variant)
		}
	}
	return &Directory{Entries: entries}, nil
}

// EmptyDirectoryID is the fixed ID of a Directory with zero entries.
var EmptyDirectoryID = NewDirectory(nil).ID()
