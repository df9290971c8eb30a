package object

import (
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

const (
	symlinkVariantArtifact = 0
	symlinkVariantGraph    = 1
)

// Symlink is either (artifact?, subpath?) — a verbatim target, possibly
// pointing inside another artifact — or (graph, node-index) for a symlink
// that participates in a cyclic Graph (spec §3).
type Symlink struct {
	// Artifact form.
	Artifact id.ID  // zero if none
	Subpath  string // "" if none

	// Graph form; non-nil selects this variant.
	Graph *GraphReference
}

func (s *Symlink) Kind() id.Kind { return id.KindSymlink }

func (s *Symlink) Encode() []byte {
	e := wire.NewEncoder()
	e.StructHeader(2)
	if s.Graph != nil {
		e.Uvarint(symlinkVariantGraph)
		e.StructHeader(2)
		encodeID(e, s.Graph.Graph)
		e.Uvarint(uint64(s.Graph.Node))
		return e.Bytes()
	}
	e.Uvarint(symlinkVariantArtifact)
	if s.Artifact.IsZero() {
		e.OptionNone()
	} else {
		e.OptionSome()
		encodeID(e, s.Artifact)
	}
	if s.Subpath == "" {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(s.Subpath)
	}
	return e.Bytes()
}

func (s *Symlink) ID() id.ID { return id.NewContent(id.KindSymlink, s.Encode()) }

func (s *Symlink) ChildEdges() []id.ID {
	if s.Graph != nil {
		return []id.ID{s.Graph.Graph}
	}
	if s.Artifact.IsZero() {
		return nil
	}
	return []id.ID{s.Artifact}
}

// DecodeSymlink reconstructs a Symlink from its canonical encoding.
func DecodeSymlink(b []byte) (*Symlink, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 2 {
		return nil, fmt.Errorf("object: decode symlink: bad struct header")
	}
	variant, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("object: decode symlink variant: %w", err)
	}
	switch variant {
	case symlinkVariantGraph:
		if n, err := d.StructHeader(); err != nil || n != 2 {
			return nil, fmt.Errorf("object: decode symlink graph ref: bad struct header")
		}
		graphID, err := decodeID(d)
		if err != nil {
			return nil, fmt.Errorf("object: decode symlink graph id: %w", err)
		}
		node, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("object: decode symlink node index: %w", err)
		}
		return &Symlink{Graph: &GraphReference{Graph: graphID, Node: int(node)}}, nil
	case symlinkVariantArtifact:
		s := &Symlink{}
		hasArtifact, err := d.Option()
		if err != nil {
			return nil, err
		}
		if hasArtifact {
			s.Artifact, err = decodeID(d)
			if err != nil {
				return nil, fmt.Errorf("object: decode symlink artifact: %w", err)
			}
		}
		hasSubpath, err := d.Option()
		if err != nil {
			return nil, err
		}
		if hasSubpath {
			s.Subpath, err = d.String()
			if err != nil {
				return nil, fmt.Errorf("object: decode symlink subpath: %w", err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("object: decode symlink: unknown variant %d", variant)
	}
}
