package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

// Edge is a reference from inside a Graph node to either an object outside
// the graph (Object set) or another node inside the same graph, addressed
// by bare index (IsLocal true). Local edges are what let a Graph represent
// cycles: a node can refer to a sibling (or itself) by index without ever
// needing to know the Graph's own content ID, which does not exist yet
// while the graph's bytes are being assembled.
type Edge struct {
	IsLocal bool
	Node    int   // meaningful iff IsLocal
	Object  id.ID // meaningful iff !IsLocal
}

func encodeEdge(e *wire.Encoder, ed Edge) {
	e.StructHeader(2)
	e.Bool(ed.IsLocal)
	if ed.IsLocal {
		e.Uvarint(uint64(ed.Node))
	} else {
		encodeID(e, ed.Object)
	}
}

func decodeEdge(d *wire.Decoder) (Edge, error) {
	if n, err := d.StructHeader(); err != nil || n != 2 {
		return Edge{}, fmt.Errorf("object: decode edge: bad struct header")
	}
	isLocal, err := d.Bool()
	if err != nil {
		return Edge{}, err
	}
	if isLocal {
		n, err := d.Uvarint()
		if err != nil {
			return Edge{}, err
		}
		return Edge{IsLocal: true, Node: int(n)}, nil
	}
	obj, err := decodeID(d)
	if err != nil {
		return Edge{}, err
	}
	return Edge{Object: obj}, nil
}

const (
	nodeVariantDirectory = 0
	nodeVariantFile      = 1
	nodeVariantSymlink   = 2
)

// GraphDirectoryNode mirrors Directory but entries may be local edges.
type GraphDirectoryNode struct {
	Entries map[string]Edge
}

// GraphFileNode mirrors File but contents/dependencies may be local edges.
type GraphFileNode struct {
	Contents     Edge
	Executable   bool
	Dependencies map[string]Edge
}

// GraphSymlinkNode mirrors Symlink's artifact form with an edge target.
type GraphSymlinkNode struct {
	Artifact *Edge // nil if none
	Subpath  string
}

// GraphNode is a tagged union of the three node shapes; exactly one of
// Directory/File/Symlink is non-nil.
type GraphNode struct {
	Directory *GraphDirectoryNode
	File      *GraphFileNode
	Symlink   *GraphSymlinkNode
}

// Graph is a finite, indexable set of Directory/File/Symlink nodes that may
// reference each other (and external objects) to represent cyclic
// sub-trees (spec §3, §9). Outside a Graph, the ID DAG remains acyclic.
type Graph struct {
	Nodes []GraphNode
}

func (g *Graph) Kind() id.Kind { return id.KindGraph }

func (g *Graph) Encode() []byte {
	e := wire.NewEncoder()
	e.StructHeader(1)
	e.ArrayHeader(len(g.Nodes))
	for _, n := range g.Nodes {
		switch {
		case n.Directory != nil:
			e.StructHeader(2)
			e.Uvarint(nodeVariantDirectory)
			names := make([]string, 0, len(n.Directory.Entries))
			for name := range n.Directory.Entries {
				names = append(names, name)
			}
			sort.Strings(names)
			e.MapHeader(len(names))
			for _, name := range names {
				e.String(name)
				encodeEdge(e, n.Directory.Entries[name])
			}
		case n.File != nil:
			e.StructHeader(2)
			e.Uvarint(nodeVariantFile)
			encodeEdge(e, n.File.Contents)
			e.Bool(n.File.Executable)
			names := make([]string, 0, len(n.File.Dependencies))
			for name := range n.File.Dependencies {
				names = append(names, name)
			}
			sort.Strings(names)
			e.MapHeader(len(names))
			for _, name := range names {
				e.String(name)
				encodeEdge(e, n.File.Dependencies[name])
			}
		case n.Symlink != nil:
			e.StructHeader(2)
			e.Uvarint(nodeVariantSymlink)
			if n.Symlink.Artifact == nil {
				e.OptionNone()
			} else {
				e.OptionSome()
				encodeEdge(e, *n.Symlink.Artifact)
			}
			if n.Symlink.Subpath == "" {
				e.OptionNone()
			} else {
				e.OptionSome()
				e.String(n.Symlink.Subpath)
			}
		default:
			panic("object: graph node has no variant set")
		}
	}
	return e.Bytes()
}

func (g *Graph) ID() id.ID { return id.NewContent(id.KindGraph, g.Encode()) }

func (g *Graph) ChildEdges() []id.ID {
	var edges []id.ID
	collect := func(e Edge) {
		if !e.IsLocal {
			edges = append(edges, e.Object)
		}
	}
	for _, n := range g.Nodes {
		switch {
		case n.Directory != nil:
			for _, e := range n.Directory.Entries {
				collect(e)
			}
		case n.File != nil:
			collect(n.File.Contents)
			for _, e := range n.File.Dependencies {
				collect(e)
			}
		case n.Symlink != nil:
			if n.Symlink.Artifact != nil {
				collect(*n.Symlink.Artifact)
			}
		}
	}
	return dedupeSorted(edges)
}

// DecodeGraph reconstructs a Graph from its canonical encoding.
func DecodeGraph(b []byte) (*Graph, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 1 {
		return nil, fmt.Errorf("object: decode graph: bad struct header")
	}
	count, err := d.ArrayHeader()
	if err != nil {
		return nil, fmt.Errorf("object: decode graph nodes: %w", err)
	}
	nodes := make([]GraphNode, 0, count)
	for i := 0; i < count; i++ {
		if n, err := d.StructHeader(); err != nil || n != 2 {
			return nil, fmt.Errorf("object: decode graph node %d: bad struct header", i)
		}
		variant, err := d.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("object: decode graph node %d variant: %w", i, err)
		}
		switch variant {
		case nodeVariantDirectory:
			count, err := d.MapHeader()
			if err != nil {
				return nil, err
			}
			entries := make(map[string]Edge, count)
			for j := 0; j < count; j++ {
				name, err := d.String()
				if err != nil {
					return nil, err
				}
				edge, err := decodeEdge(d)
				if err != nil {
					return nil, err
				}
				entries[name] = edge
			}
			nodes = append(nodes, GraphNode{Directory: &GraphDirectoryNode{Entries: entries}})
		case nodeVariantFile:
			contents, err := decodeEdge(d)
			if err != nil {
				return nil, err
			}
			executable, err := d.Bool()
			if err != nil {
				return nil, err
			}
			count, err := d.MapHeader()
			if err != nil {
				return nil, err
			}
			deps := make(map[string]Edge, count)
			for j := 0; j < count; j++ {
				name, err := d.String()
				if err != nil {
					return nil, err
				}
				edge, err := decodeEdge(d)
				if err != nil {
					return nil, err
				}
				deps[name] = edge
			}
			nodes = append(nodes, GraphNode{File: &GraphFileNode{Contents: contents, Executable: executable, Dependencies: deps}})
		case nodeVariantSymlink:
			s := &GraphSymlinkNode{}
			hasArtifact, err := d.Option()
			if err != nil {
				return nil, err
			}
			if hasArtifact {
				edge, err := decodeEdge(d)
				if err != nil {
					return nil, err
				}
				s.Artifact = &edge
			}
			hasSubpath, err := d.Option()
			if err != nil {
				return nil, err
			}
			if hasSubpath {
				s.Subpath, err = d.String()
				if err != nil {
					return nil, err
				}
			}
			nodes = append(nodes, GraphNode{Symlink: s})
		default:
			return nil, fmt.Errorf("object: decode graph node %d: unknown variant %d", i, variant)
		}
	}
	return &Graph{Nodes: nodes}, nil
}
