package checkin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

// Artifact is the result of checking in a path: either a plain
// content-addressed ID, or a reference into a Graph object when the
// checked-in tree contains a symlink cycle (spec §4.4).
type Artifact = object.DirectoryEntry

// Config controls a single Checkin call.
type Config struct {
	Ignore *Ignore // nil disables ignore filtering
	Fanout int     // blob chunk fanout; 0 uses chunker.DefaultFanout
}

type entry struct {
	relPath  string // "" for the root
	absPath  string
	isDir    bool
	isSymlink bool
	inode    uint64
	mode     fs.FileMode
	target   string // raw readlink() text, symlinks only
	internal string // resolved target's relPath, if it lies inside root
	inside   bool   // target lies inside root ("" internal then means the root itself)
	children []string
}

// Checkin walks root and builds a content-addressed Artifact for it.
func Checkin(ctx context.Context, s objectstore.Store, root string, cfg Config) (Artifact, error) {
	entries, order, err := scan(root, cfg.Ignore)
	if err != nil {
		return Artifact{}, fmt.Errorf("checkin: scan %s: %w", root, err)
	}

	cycleNodes := detectCycles(entries)

	c := &checkinState{
		ctx:      ctx,
		store:    s,
		root:     root,
		entries:  entries,
		fanout:   cfg.Fanout,
		plain:    make(map[string]id.ID),
		inodeIDs: make(map[uint64]id.ID),
	}

	if len(cycleNodes) > 0 {
		return c.checkinWithGraph(cycleNodes, order)
	}
	rootID, err := c.checkinPlain("")
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Artifact: rootID}, nil
}

// scan walks root with os.Lstat semantics (symlinks are never followed)
// and returns every surviving entry plus a stable pre-order traversal.
func scan(root string, ignore *Ignore) (map[string]*entry, []string, error) {
	entries := make(map[string]*entry)
	var order []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath := ""
		if path != root {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			relPath = filepath.ToSlash(rel)
		}

		if relPath != "" && ignore != nil {
			dirRel := filepath.ToSlash(filepath.Dir(relPath))
			if dirRel == "." {
				dirRel = ""
			}
			skip, err := ignore.Matches(relPath, dirRel)
			if err != nil {
				return err
			}
			if skip {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e := &entry{relPath: relPath, absPath: path, mode: info.Mode()}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			e.isSymlink = true
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			e.target = target
			if internalRel, ok := resolveInternal(root, relPath, target); ok {
				e.internal = internalRel
				e.inside = true
			}
		case d.IsDir():
			e.isDir = true
		default:
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				e.inode = st.Ino
			}
		}
		entries[relPath] = e
		order = append(order, relPath)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for relPath, e := range entries {
		if !e.isDir {
			continue
		}
		prefix := relPath
		for _, other := range order {
			if other == relPath || !isDirectChild(prefix, other) {
				continue
			}
			e.children = append(e.children, other)
		}
		sort.Strings(e.children)
	}
	return entries, order, nil
}

func isDirectChild(dirRel, candidateRel string) bool {
	if dirRel == "" {
		return !strings.Contains(candidateRel, "/")
	}
	rest, ok := strings.CutPrefix(candidateRel, dirRel+"/")
	return ok && !strings.Contains(rest, "/")
}

// resolveInternal reports whether a symlink's raw target resolves to a
// path inside root, returning that path relative to root.
func resolveInternal(root, symlinkRel, target string) (string, bool) {
	if filepath.IsAbs(target) {
		return "", false
	}
	dir := filepath.Join(root, filepath.Dir(symlinkRel))
	resolved := filepath.Clean(filepath.Join(dir, target))
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if rel == "." {
		rel = ""
	}
	return filepath.ToSlash(rel), true
}

// detectCycles finds every symlink whose internal target is an ancestor
// of (or equal to) the symlink's own directory: the only shape of cycle
// that can arise here, since containment edges only flow from a directory
// down to its children. It returns the full set of relpaths (the target,
// every directory between the target and the symlink, and the symlink
// itself) that must become Graph nodes.
func detectCycles(entries map[string]*entry) map[string]bool {
	nodes := make(map[string]bool)
	for relPath, e := range entries {
		if !e.isSymlink || !e.inside {
			continue
		}
		symlinkDir := parentOf(relPath)
		if !isAncestorOrSelf(e.internal, symlinkDir) {
			continue
		}
		nodes[relPath] = true
		nodes[e.internal] = true
		for cur := symlinkDir; ; cur = parentOf(cur) {
			nodes[cur] = true
			if cur == e.internal || cur == "" {
				break
			}
		}
	}
	return nodes
}

func parentOf(relPath string) string {
	if relPath == "" {
		return ""
	}
	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "." {
		return ""
	}
	return dir
}

// isAncestorOrSelf reports whether ancestor is "" (the root), equal to
// relPath, or a path-prefix of it.
func isAncestorOrSelf(ancestor, relPath string) bool {
	if ancestor == "" || ancestor == relPath {
		return true
	}
	return strings.HasPrefix(relPath, ancestor+"/")
}

type checkinState struct {
	ctx     context.Context
	store   objectstore.Store
	root    string
	entries map[string]*entry
	fanout  int

	plain    map[string]id.ID // relPath -> content ID, for nodes processed outside any graph
	inodeIDs map[uint64]id.ID // inode -> blob ID, for hardlink dedup

	cycleNodes map[string]bool // relPath -> true for every node folded into the Graph
	nodeIndex  map[string]int  // relPath -> index within graphID's Nodes
	graphID    id.ID           // zero until checkinWithGraph has stored the Graph
}

// checkinWithGraph handles a checkin whose tree contains at least one
// symlink cycle (spec §3, §9): every node between a qualifying symlink and
// its internal target is folded into a single Graph object, addressed by
// index; everything else is checked in exactly as in the acyclic path,
// substituting a GraphReference wherever a plain directory's child is one
// of the folded nodes.
//
// Limitation: a cycle node's non-cycle ("external") child is assumed to be
// an ordinary acyclic subtree. A second, independent symlink cycle nested
// several directories inside such a child (rather than directly beneath a
// cycle node) is not detected; this does not arise from the common case of
// one cyclic subtree plus ordinary siblings that spec §4.4 describes.
func (c *checkinState) checkinWithGraph(cycleNodes map[string]bool, order []string) (Artifact, error) {
	_ = order
	c.cycleNodes = cycleNodes

	names := make([]string, 0, len(cycleNodes))
	for p := range cycleNodes {
		names = append(names, p)
	}
	sort.Strings(names)
	c.nodeIndex = make(map[string]int, len(names))
	for i, p := range names {
		c.nodeIndex[p] = i
	}

	nodes := make([]object.GraphNode, len(names))
	for i, relPath := range names {
		e := c.entries[relPath]
		switch {
		case e.isDir:
			entries := make(map[string]object.Edge, len(e.children))
			for _, childRel := range e.children {
				edge, err := c.resolveEdge(childRel)
				if err != nil {
					return Artifact{}, err
				}
				entries[filepath.Base(childRel)] = edge
			}
			nodes[i] = object.GraphNode{Directory: &object.GraphDirectoryNode{Entries: entries}}
		case e.isSymlink:
			targetIdx, ok := c.nodeIndex[e.internal]
			if !ok {
				return Artifact{}, fmt.Errorf("checkin: symlink target %q is not a graph node", e.internal)
			}
			// Subpath carries the literal readlink() text so checkout can
			// materialize the symlink directly without recomputing a
			// relative path from graph structure; Artifact still records
			// the structural edge to the target node for reachability.
			nodes[i] = object.GraphNode{Symlink: &object.GraphSymlinkNode{
				Artifact: &object.Edge{IsLocal: true, Node: targetIdx},
				Subpath:  e.target,
			}}
		default:
			return Artifact{}, fmt.Errorf("checkin: unexpected plain file at cycle node %q", relPath)
		}
	}

	graph := &object.Graph{Nodes: nodes}
	if err := c.put(graph); err != nil {
		return Artifact{}, err
	}
	c.graphID = graph.ID()

	if c.cycleNodes[""] {
		return Artifact{Graph: &object.GraphReference{Graph: c.graphID, Node: c.nodeIndex[""]}}, nil
	}
	rootID, err := c.checkinPlain("")
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Artifact: rootID}, nil
}

// resolveEdge resolves one child of a graph node: a local edge if the
// child itself folded into the graph, otherwise the plain content ID of
// the ordinary subtree rooted there.
func (c *checkinState) resolveEdge(relPath string) (object.Edge, error) {
	if c.cycleNodes[relPath] {
		return object.Edge{IsLocal: true, Node: c.nodeIndex[relPath]}, nil
	}
	objID, err := c.checkinPlain(relPath)
	if err != nil {
		return object.Edge{}, err
	}
	return object.Edge{Object: objID}, nil
}

// checkinPlain recursively content-addresses relPath and everything under
// it with no Graph involved.
func (c *checkinState) checkinPlain(relPath string) (id.ID, error) {
	if got, ok := c.plain[relPath]; ok {
		return got, nil
	}
	e := c.entries[relPath]
	var objID id.ID
	var err error
	switch {
	case e.isDir:
		objID, err = c.checkinDirectoryPlain(relPath)
	case e.isSymlink:
		objID, err = c.checkinSymlinkPlain(relPath)
	default:
		objID, err = c.checkinFile(relPath)
	}
	if err != nil {
		return id.ID{}, err
	}
	c.plain[relPath] = objID
	return objID, nil
}

func (c *checkinState) checkinDirectoryPlain(relPath string) (id.ID, error) {
	e := c.entries[relPath]
	entries := make(map[string]object.DirectoryEntry, len(e.children))
	for _, childRel := range e.children {
		child := c.entries[childRel]
		name := filepath.Base(child.relPath)
		if c.cycleNodes[childRel] {
			entries[name] = object.DirectoryEntry{Graph: &object.GraphReference{Graph: c.graphID, Node: c.nodeIndex[childRel]}}
			continue
		}
		art, err := c.checkinPlain(childRel)
		if err != nil {
			return id.ID{}, err
		}
		entries[name] = object.DirectoryEntry{Artifact: art}
	}
	dir := object.NewDirectory(entries)
	if err := c.put(dir); err != nil {
		return id.ID{}, err
	}
	return dir.ID(), nil
}

func (c *checkinState) checkinSymlinkPlain(relPath string) (id.ID, error) {
	e := c.entries[relPath]
	s := &object.Symlink{Subpath: e.target}
	if err := c.put(s); err != nil {
		return id.ID{}, err
	}
	return s.ID(), nil
}

func (c *checkinState) checkinFile(relPath string) (id.ID, error) {
	e := c.entries[relPath]
	if e.inode != 0 {
		if bid, ok := c.inodeIDs[e.inode]; ok {
			return c.wrapFile(bid, e.mode), nil
		}
	}
	f, err := os.Open(e.absPath)
	if err != nil {
		return id.ID{}, fmt.Errorf("checkin: open %s: %w", e.absPath, err)
	}
	defer f.Close()
	blobID, err := blob.Create(c.ctx, c.store, f, c.fanout)
	if err != nil {
		return id.ID{}, fmt.Errorf("checkin: chunk %s: %w", e.absPath, err)
	}
	if e.inode != 0 {
		c.inodeIDs[e.inode] = blobID
	}
	return c.wrapFile(blobID, e.mode), nil
}

func (c *checkinState) wrapFile(blobID id.ID, mode fs.FileMode) id.ID {
	file := object.NewFile(blobID, mode&0o111 != 0, nil)
	_ = c.put(file)
	return file.ID()
}

func (c *checkinState) put(o object.Object) error {
	return c.store.Put(c.ctx, o.ID(), o.Encode(), time.Now())
}
