// Package object defines Tangram's content-addressed object graph: Blob,
// Directory, File, Symlink, Graph, Command, and Error (spec §3). Every kind
// has one canonical wire encoding (internal/wire) from which its ID is
// derived via blake3 (internal/id), and every kind exposes its outgoing
// child edges so the index and GC can walk reachability.
package object

import "github.com/tangramdotdev/tangram/internal/id"

// Object is implemented by every content-addressed object kind.
type Object interface {
	// Kind returns the object's id.Kind tag.
	Kind() id.Kind
	// Encode returns the canonical wire bytes; ID() == id.NewContent(Kind(), Encode()).
	Encode() []byte
	// ID derives this object's content ID from its canonical encoding.
	ID() id.ID
	// ChildEdges lists every object this one directly references.
	ChildEdges() []id.ID
}

// Decode dispatches to the right kind's decoder based on k.
func Decode(k id.Kind, b []byte) (Object, error) {
	switch k {
	case id.KindBlob:
		return DecodeBlob(b)
	case id.KindDirectory:
		return DecodeDirectory(b)
	case id.KindFile:
		return DecodeFile(b)
	case id.KindSymlink:
		return DecodeSymlink(b)
	case id.KindGraph:
		return DecodeGraph(b)
	case id.KindCommand:
		return DecodeCommand(b)
	case id.KindError:
		return DecodeError(b)
	default:
		return nil, unsupportedKindError(k)
	}
}

type unsupportedKindError id.Kind

func (k unsupportedKindError) Error() string {
	return "object: unsupported kind " + string(k)
}

// dedupeSorted returns edges with duplicates removed, preserving first
// occurrence order (child-edge order is not significant, but determinism
// in tests is nice to have).
func dedupeSorted(edges []id.ID) []id.ID {
	seen := make(map[id.ID]bool, len(edges))
	out := edges[:0:0]
	for _, e := range edges {
		if e.IsZero() || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
