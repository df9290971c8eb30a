package object

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramdotdev/tangram/internal/checksum"
	"github.com/tangramdotdev/tangram/internal/id"
)

func TestBlobRoundTrip(t *testing.T) {
	b := NewLeaf([]byte("hello, world!\n"))
	got, err := DecodeBlob(b.Encode())
	require.NoError(t, err)
	require.Equal(t, b, got)
	require.Equal(t, b.ID(), id.NewContent(id.KindBlob, b.Encode()))
}

func TestEmptyBlobIsFixed(t *testing.T) {
	a := NewLeaf(nil)
	b := NewLeaf([]byte{})
	require.Equal(t, a.ID(), b.ID())
	require.Equal(t, EmptyBlobID, a.ID())
}

func TestBlobBranchRoundTrip(t *testing.T) {
	leaf1 := NewLeaf([]byte("aaaa"))
	leaf2 := NewLeaf([]byte("bbbb"))
	branch := NewBranch([]BlobChild{
		{Child: leaf1.ID(), Size: 4},
		{Child: leaf2.ID(), Size: 4},
	})
	got, err := DecodeBlob(branch.Encode())
	require.NoError(t, err)
	require.Equal(t, branch, got)
	require.Equal(t, uint64(8), branch.Size())
	require.ElementsMatch(t, []id.ID{leaf1.ID(), leaf2.ID()}, branch.ChildEdges())
}

func TestDirectoryRoundTripAndOrderInsensitivity(t *testing.T) {
	fileID := NewFile(NewLeaf([]byte("x")).ID(), false, nil).ID()
	dirA := NewDirectory(map[string]DirectoryEntry{
		"b.txt": {Artifact: fileID},
		"a.txt": {Artifact: fileID},
	})
	dirB := NewDirectory(map[string]DirectoryEntry{
		"a.txt": {Artifact: fileID},
		"b.txt": {Artifact: fileID},
	})
	require.Equal(t, dirA.ID(), dirB.ID())

	got, err := DecodeDirectory(dirA.Encode())
	require.NoError(t, err)
	require.Equal(t, dirA.Entries, got.Entries)
}

func TestEmptyDirectoryDistinctFromMissing(t *testing.T) {
	empty := NewDirectory(nil)
	require.Equal(t, 0, len(empty.Entries))
	require.Equal(t, EmptyDirectoryID, empty.ID())
	require.NotEqual(t, EmptyDirectoryID, NewLeaf(nil).ID())
}

func TestFileRoundTripWithDependencies(t *testing.T) {
	blobID := NewLeaf([]byte("#!/bin/sh\necho hi\n")).ID()
	dep := Referent{Item: blobID, Subpath: "lib/a.txt", Tag: "foo/1.0.0"}
	f := NewFile(blobID, true, map[string]Referent{"./a": dep})

	got, err := DecodeFile(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f.Contents, got.Contents)
	require.Equal(t, f.Executable, got.Executable)
	require.Equal(t, f.Dependencies, got.Dependencies)
	require.Contains(t, f.ChildEdges(), blobID)
}

func TestSymlinkArtifactFormRoundTrip(t *testing.T) {
	target := NewLeaf([]byte("target")).ID()
	s := &Symlink{Artifact: target, Subpath: "a/b"}
	got, err := DecodeSymlink(s.Encode())
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestSymlinkGraphFormRoundTrip(t *testing.T) {
	g := &Graph{Nodes: []GraphNode{{Directory: &GraphDirectoryNode{Entries: map[string]Edge{}}}}}
	s := &Symlink{Graph: &GraphReference{Graph: g.ID(), Node: 0}}
	got, err := DecodeSymlink(s.Encode())
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestGraphWithCyclicSelfReference(t *testing.T) {
	// Node 0 is a directory containing a local edge back to itself ("."),
	// modeling a self-referential package directory.
	g := &Graph{Nodes: []GraphNode{
		{Directory: &GraphDirectoryNode{Entries: map[string]Edge{
			".": {IsLocal: true, Node: 0},
		}}},
	}}
	got, err := DecodeGraph(g.Encode())
	require.NoError(t, err)
	require.Equal(t, g, got)
	require.Empty(t, g.ChildEdges(), "a purely local edge contributes no external child edge")
}

func TestCommandRoundTripAndDeduplication(t *testing.T) {
	artifact := NewLeaf([]byte("bin")).ID()
	c1 := &Command{
		Host: "x86_64-linux",
		Executable: CommandExecutable{
			Artifact: &CommandExecutableArtifact{Artifact: artifact, Subpath: "bin/run"},
		},
		Args: []Value{String("--flag"), Number(3)},
		Env:  map[string]Value{"PATH": String("/usr/bin")},
		Mounts: []Mount{
			{Source: "/tmp", Target: "/tmp", Readonly: false},
		},
		Cwd:  "/home/tangram",
		User: "tangram",
	}
	c2 := &Command{
		Host: "x86_64-linux",
		Executable: CommandExecutable{
			Artifact: &CommandExecutableArtifact{Artifact: artifact, Subpath: "bin/run"},
		},
		Args: []Value{String("--flag"), Number(3)},
		Env:  map[string]Value{"PATH": String("/usr/bin")},
		Mounts: []Mount{
			{Source: "/tmp", Target: "/tmp", Readonly: false},
		},
		Cwd:  "/home/tangram",
		User: "tangram",
	}
	require.Equal(t, c1.ID(), c2.ID(), "identical commands must deduplicate to the same ID")

	got, err := DecodeCommand(c1.Encode())
	require.NoError(t, err)
	require.Equal(t, c1.Host, got.Host)
	require.Equal(t, c1.Executable.Artifact.Artifact, got.Executable.Artifact.Artifact)
	require.Equal(t, c1.Args, got.Args)
	require.Equal(t, c1.Env, got.Env)
	require.Equal(t, c1.Mounts, got.Mounts)
	require.Contains(t, c1.ChildEdges(), artifact)
}

func TestCommandWithChecksumRoundTrip(t *testing.T) {
	v, err := checksum.OfBytes(checksum.SHA256, []byte("x"))
	require.NoError(t, err)
	c := &Command{
		Host:       "js",
		Executable: CommandExecutable{Path: "/bin/true"},
		Checksum:   &v,
	}
	got, err := DecodeCommand(c.Encode())
	require.NoError(t, err)
	require.NotNil(t, got.Checksum)
	require.Equal(t, v.String(), got.Checksum.String())
}

func TestErrorObjectRoundTrip(t *testing.T) {
	cause := &Error{ErrKind: "internal", Message: "disk full"}
	e := &Error{
		ErrKind: "unavailable",
		Message: "store put failed",
		Values:  map[string]string{"path": "/var/tangram"},
		Location: &ErrorLocation{
			Symbol: "put", File: "store.go", Line: 42, Column: 2,
		},
		Source: cause.ID(),
	}
	got, err := DecodeError(e.Encode())
	require.NoError(t, err)
	require.Equal(t, e, got)
	require.Equal(t, []id.ID{cause.ID()}, e.ChildEdges())
}

func TestHashSerializeInvariantAcrossKinds(t *testing.T) {
	objs := []Object{
		NewLeaf([]byte("a")),
		NewDirectory(nil),
		NewFile(NewLeaf([]byte("b")).ID(), false, nil),
		&Symlink{Artifact: NewLeaf([]byte("c")).ID()},
		&Graph{Nodes: nil},
		&Command{Host: "h", Executable: CommandExecutable{Path: "/bin/true"}},
		&Error{ErrKind: "internal", Message: "m"},
	}
	for _, o := range objs {
		require.Equal(t, o.ID(), id.NewContent(o.Kind(), o.Encode()), "hash(serialize(x)) == id(x) for %T", o)

		decoded, err := Decode(o.Kind(), o.Encode())
		require.NoError(t, err)
		require.Equal(t, o.ID(), decoded.ID(), "deserialize(kind(x), serialize(x)) round-trips to the same ID for %T", o)
	}
}
