package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

// Referent is the target of a symbolic reference: another object, optionally
// narrowed to a subpath inside it, optionally recorded against a tag it was
// resolved from (spec §9 supplemented feature, from the Rust original's
// File dependency model).
type Referent struct {
	Item    id.ID
	Subpath string // "" means none
	Tag     string // "" means none
}

// File is (blob, executable-bit, dependencies): dependencies maps a
// symbolic reference name to the object it resolves to.
type File struct {
	Contents     id.ID
	Executable   bool
	Dependencies map[string]Referent
}

// NewFile constructs a File over a blob ID.
func NewFile(contents id.ID, executable bool, deps map[string]Referent) *File {
	if deps == nil {
		deps = map[string]Referent{}
	}
	return &File{Contents: contents, Executable: executable, Dependencies: deps}
}

func (f *File) Kind() id.Kind { return id.KindFile }

func encodeReferent(r Referent) []byte {
	e := wire.NewEncoder()
	e.StructHeader(3)
	encodeID(e, r.Item)
	if r.Subpath == "" {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(r.Subpath)
	}
	if r.Tag == "" {
		e.OptionNone()
	} else {
		e.OptionSome()
		e.String(r.Tag)
	}
	return e.Bytes()
}

func decodeReferent(b []byte) (Referent, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 3 {
		return Referent{}, fmt.Errorf("object: decode referent: bad struct header")
	}
	item, err := decodeID(d)
	if err != nil {
		return Referent{}, fmt.Errorf("object: decode referent item: %w", err)
	}
	var r Referent
	r.Item = item
	hasSubpath, err := d.Option()
	if err != nil {
		return Referent{}, err
	}
	if hasSubpath {
		r.Subpath, err = d.String()
		if err != nil {
			return Referent{}, err
		}
	}
	hasTag, err := d.Option()
	if err != nil {
		return Referent{}, err
	}
	if hasTag {
		r.Tag, err = d.String()
		if err != nil {
			return Referent{}, err
		}
	}
	return r, nil
}

func (f *File) Encode() []byte {
	e := wire.NewEncoder()
	e.StructHeader(3)
	encodeID(e, f.Contents)
	e.Bool(f.Executable)

	names := make([]string, 0, len(f.Dependencies))
	for n := range f.Dependencies {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make(map[string][]byte, len(names))
	for _, n := range names {
		entries[n] = encodeReferent(f.Dependencies[n])
	}
	e.StringKeyedMap(entries)
	return e.Bytes()
}

func (f *File) ID() id.ID { return id.NewContent(id.KindFile, f.Encode()) }

func (f *File) ChildEdges() []id.ID {
	edges := []id.ID{f.Contents}
	for _, r := range f.Dependencies {
		edges = append(edges, r.Item)
	}
	return dedupeSorted(edges)
}

// DecodeFile reconstructs a File from its canonical encoding.
func DecodeFile(b []byte) (*File, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 3 {
		return nil, fmt.Errorf("object: decode file: bad struct header")
	}
	contents, err := decodeID(d)
	if err != nil {
		return nil, fmt.Errorf("object: decode file contents: %w", err)
	}
	executable, err := d.Bool()
	if err != nil {
		return nil, fmt.Errorf("object: decode file executable bit: %w", err)
	}
	count, err := d.MapHeader()
	if err != nil {
		return nil, fmt.Errorf("object: decode file dependencies: %w", err)
	}
	deps := make(map[string]Referent, count)
	for i := 0; i < count; i++ {
		name, err := d.String()
		if err != nil {
			return nil, fmt.Errorf("object: decode file dependency %d name: %w", i, err)
		}
		raw, err := d.RawEntry()
		if err != nil {
			return nil, fmt.Errorf("object: decode file dependency %d: %w", i, err)
		}
		r, err := decodeReferent(raw)
		if err != nil {
			return nil, fmt.Errorf("object: decode file dependency %d referent: %w", i, err)
		}
		deps[name] = r
	}
	return &File{Contents: contents, Executable: executable, Dependencies: deps}, nil
}
