package checkin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// Checkout materializes art at dest (spec §4.4). Writes happen under a
// staging directory beside dest and are renamed into place only once every
// node has been written successfully; on any error dest is left unchanged
// and the staging directory is removed.
func Checkout(ctx context.Context, s objectstore.Store, art Artifact, dest string) (err error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("checkout: prepare %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, ".tangram-checkout-*")
	if err != nil {
		return fmt.Errorf("checkout: create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	c := &checkoutState{ctx: ctx, store: s, graphs: map[id.ID]*object.Graph{}}
	stagedRoot := filepath.Join(staging, "root")
	if err := c.writeEntry(art, stagedRoot); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("checkout: clear destination %s: %w", dest, err)
	}
	if err := os.Rename(stagedRoot, dest); err != nil {
		return fmt.Errorf("checkout: commit to %s: %w", dest, err)
	}
	committed = true
	return nil
}

type checkoutState struct {
	ctx    context.Context
	store  objectstore.Store
	graphs map[id.ID]*object.Graph // cache: graph ID -> decoded Graph
}

// writeEntry materializes one DirectoryEntry (a plain artifact ID or a
// Graph reference) at path.
func (c *checkoutState) writeEntry(e Artifact, path string) error {
	if e.Graph != nil {
		g, err := c.graph(e.Graph.Graph)
		if err != nil {
			return err
		}
		if e.Graph.Node < 0 || e.Graph.Node >= len(g.Nodes) {
			return fmt.Errorf("node index %d out of range for graph %s", e.Graph.Node, e.Graph.Graph)
		}
		return c.writeGraphNode(g, e.Graph.Node, path)
	}
	return c.writeArtifact(e.Artifact, path)
}

func (c *checkoutState) graph(graphID id.ID) (*object.Graph, error) {
	if g, ok := c.graphs[graphID]; ok {
		return g, nil
	}
	bytes, _, err := c.store.Get(c.ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("fetch graph %s: %w", graphID, err)
	}
	g, err := object.DecodeGraph(bytes)
	if err != nil {
		return nil, fmt.Errorf("decode graph %s: %w", graphID, err)
	}
	c.graphs[graphID] = g
	return g, nil
}

// writeArtifact materializes a plain (non-graph) artifact ID at path by
// kind: Directory, File, or Symlink.
func (c *checkoutState) writeArtifact(artID id.ID, path string) error {
	bytes, _, err := c.store.Get(c.ctx, artID)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", artID, err)
	}
	obj, err := object.Decode(artID.Kind(), bytes)
	if err != nil {
		return fmt.Errorf("decode %s: %w", artID, err)
	}
	switch o := obj.(type) {
	case *object.Directory:
		return c.writeDirectory(o.Entries, path)
	case *object.File:
		return c.writeFile(o.Contents, o.Executable, path)
	case *object.Symlink:
		return c.writeSymlink(o.Subpath, path)
	default:
		return fmt.Errorf("checkout: %s is not an artifact kind", artID.Kind())
	}
}

func (c *checkoutState) writeDirectory(entries map[string]object.DirectoryEntry, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	for name, entry := range entries {
		if err := c.writeEntry(entry, filepath.Join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkoutState) writeFile(contents id.ID, executable bool, path string) error {
	r, err := blob.NewReader(c.ctx, c.store, contents)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", contents, err)
	}
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writeSymlink creates the link verbatim, whether or not target resolves
// to anything (spec §4.4, §8 boundary behavior: an out-of-tree target
// resolves as unresolved and is still created as-is).
func (c *checkoutState) writeSymlink(target, path string) error {
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", path, target, err)
	}
	return nil
}

// writeGraphNode materializes node idx of g at path.
func (c *checkoutState) writeGraphNode(g *object.Graph, idx int, path string) error {
	n := g.Nodes[idx]
	switch {
	case n.Directory != nil:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", path, err)
		}
		for name, edge := range n.Directory.Entries {
			if err := c.writeEdge(g, edge, filepath.Join(path, name)); err != nil {
				return err
			}
		}
		return nil
	case n.File != nil:
		contents, err := c.resolveEdgeToID(g, n.File.Contents)
		if err != nil {
			return err
		}
		return c.writeFile(contents, n.File.Executable, path)
	case n.Symlink != nil:
		return c.writeSymlink(n.Symlink.Subpath, path)
	default:
		return fmt.Errorf("checkout: empty graph node %d", idx)
	}
}

// writeEdge materializes whatever edge points at: another node in the same
// graph (local) or a plain object elsewhere (external).
func (c *checkoutState) writeEdge(g *object.Graph, e object.Edge, path string) error {
	if e.IsLocal {
		return c.writeGraphNode(g, e.Node, path)
	}
	return c.writeArtifact(e.Object, path)
}

// resolveEdgeToID resolves a File node's Contents edge to a blob ID. A
// file's contents are never themselves a graph node in this model (only
// Directory/File/Symlink artifacts participate in a Graph, and a File's
// Contents edge always names a Blob, which has no reason to be part of a
// cyclic Graph), so Contents is always an external edge in practice; the
// local case is handled defensively rather than assumed impossible.
func (c *checkoutState) resolveEdgeToID(g *object.Graph, e object.Edge) (id.ID, error) {
	if !e.IsLocal {
		return e.Object, nil
	}
	return id.ID{}, fmt.Errorf("checkout: file contents edge unexpectedly local (node %d)", e.Node)
}
