package object

import (
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

const (
	blobVariantLeaf   = 0
	blobVariantBranch = 1
)

// BlobChild is one (child-blob-id, size) tuple inside a branch blob.
type BlobChild struct {
	Child id.ID
	Size  uint64
}

// Blob is either a leaf (raw bytes) or a branch (an ordered sequence of
// child blobs). Exactly one of Data/Children is meaningful, selected by
// IsLeaf.
type Blob struct {
	IsLeaf   bool
	Data     []byte
	Children []BlobChild
}

// NewLeaf constructs a leaf blob from raw bytes.
func NewLeaf(data []byte) *Blob { return &Blob{IsLeaf: true, Data: data} }

// NewBranch constructs a branch blob from an ordered list of children.
// Invariant (spec §3): sum(child.Size) must equal the blob's logical length;
// this is enforced by the chunker, not re-validated here.
func NewBranch(children []BlobChild) *Blob { return &Blob{IsLeaf: false, Children: children} }

// Size returns the blob's total logical byte length.
func (b *Blob) Size() uint64 {
	if b.IsLeaf {
		return uint64(len(b.Data))
	}
	var total uint64
	for _, c := range b.Children {
		total += c.Size
	}
	return total
}

func (b *Blob) Kind() id.Kind { return id.KindBlob }

func (b *Blob) Encode() []byte {
	e := wire.NewEncoder()
	e.StructHeader(2)
	if b.IsLeaf {
		e.Uvarint(blobVariantLeaf)
		e.Bytes(b.Data)
	} else {
		e.Uvarint(blobVariantBranch)
		e.ArrayHeader(len(b.Children))
		for _, c := range b.Children {
			e.StructHeader(2)
			e.Bytes(c.Child.Bytes())
			e.Uvarint(c.Size)
		}
	}
	return e.Bytes()
}

func (b *Blob) ID() id.ID { return id.NewContent(id.KindBlob, b.Encode()) }

func (b *Blob) ChildEdges() []id.ID {
	if b.IsLeaf {
		return nil
	}
	edges := make([]id.ID, 0, len(b.Children))
	for _, c := range b.Children {
		edges = append(edges, c.Child)
	}
	return dedupeSorted(edges)
}

// DecodeBlob reconstructs a Blob from its canonical encoding.
func DecodeBlob(b []byte) (*Blob, error) {
	d := wire.NewDecoder(b)
	n, err := d.StructHeader()
	if err != nil {
		return nil, fmt.Errorf("object: decode blob: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("object: decode blob: expected 2 fields, got %d", n)
	}
	variant, err := d.Uvarint()
	if err != nil {
		return nil, fmt.Errorf("object: decode blob variant: %w", err)
	}
	switch variant {
	case blobVariantLeaf:
		data, err := d.Bytes()
		if err != nil {
			return nil, fmt.Errorf("object: decode blob leaf: %w", err)
		}
		return &Blob{IsLeaf: true, Data: data}, nil
	case blobVariantBranch:
		count, err := d.ArrayHeader()
		if err != nil {
			return nil, fmt.Errorf("object: decode blob branch: %w", err)
		}
		children := make([]BlobChild, 0, count)
		for i := 0; i < count; i++ {
			if _, err := d.StructHeader(); err != nil {
				return nil, fmt.Errorf("object: decode blob branch child %d: %w", i, err)
			}
			raw, err := d.Bytes()
			if err != nil {
				return nil, fmt.Errorf("object: decode blob branch child %d id: %w", i, err)
			}
			childID, err := id.FromSlice(id.KindBlob, raw)
			if err != nil {
				return nil, fmt.Errorf("object: decode blob branch child %d id: %w", i, err)
			}
			size, err := d.Uvarint()
			if err != nil {
				return nil, fmt.Errorf("object: decode blob branch child %d size: %w", i, err)
			}
			children = append(children, BlobChild{Child: childID, Size: size})
		}
		return &Blob{IsLeaf: false, Children: children}, nil
	default:
		return nil, fmt.Errorf("object: decode blob: unknown variant %d", variant)
	}
}

// EmptyBlobID is the fixed ID of the zero-length leaf blob (spec §8
// boundary behavior).
var EmptyBlobID = NewLeaf(nil).ID()
