package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/object"
	"github.com/tangramdotdev/tangram/internal/objectstore"
)

func resolve(ctx context.Context, s objectstore.Store, blobID id.ID) (*object.Blob, error) {
	bytes, _, err := s.Get(ctx, blobID)
	if err != nil {
		return nil, fmt.Errorf("blob: fetch %s: %w", blobID, err)
	}
	b, err := object.DecodeBlob(bytes)
	if err != nil {
		return nil, fmt.Errorf("blob: decode %s: %w", blobID, err)
	}
	return b, nil
}

// frame is one level of the reader's left-to-right descent through a
// branch blob: the branch itself and the index of the child currently
// being (or about to be) visited.
type frame struct {
	branch *object.Blob
	index  int
}

// Reader is a seekable, streaming reader over a blob tree stored in an
// object store (spec §4.3 "seekable read": walk branches by cumulative
// size to find the start leaf, then stream). Children are fetched lazily
// as the cursor reaches them, never materializing the whole tree.
type Reader struct {
	ctx   context.Context
	store objectstore.Store
	root  *object.Blob
	size  uint64

	frames []frame
	leaf   *object.Blob
	leafAt int // read offset within leaf.Data
	pos    uint64
	atEOF  bool
}

// NewReader opens blobID for reading. ctx is retained for the lifetime of
// the reader's subsequent fetches.
func NewReader(ctx context.Context, s objectstore.Store, blobID id.ID) (*Reader, error) {
	root, err := resolve(ctx, s, blobID)
	if err != nil {
		return nil, err
	}
	r := &Reader{ctx: ctx, store: s, root: root, size: root.Size()}
	if err := r.Seek0(); err != nil {
		return nil, err
	}
	return r, nil
}

// Seek0 resets the cursor to the start of the blob.
func (r *Reader) Seek0() error { return r.descendTo(0) }

// Size returns the blob's total logical length.
func (r *Reader) Size() uint64 { return r.size }

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(r.pos) + offset
	case io.SeekEnd:
		target = int64(r.size) + offset
	default:
		return 0, fmt.Errorf("blob: invalid whence %d", whence)
	}
	if target < 0 || uint64(target) > r.size {
		return 0, fmt.Errorf("blob: seek offset %d out of range [0, %d]", target, r.size)
	}
	if err := r.descendTo(uint64(target)); err != nil {
		return 0, err
	}
	return target, nil
}

// descendTo walks from the root to the leaf containing offset, pushing
// branch frames along the way so Read can continue sequentially afterward.
func (r *Reader) descendTo(offset uint64) error {
	r.frames = r.frames[:0]
	r.atEOF = offset >= r.size && r.size > 0 && offset == r.size
	r.pos = offset
	current := r.root
	remaining := offset
	for {
		if current.IsLeaf {
			if remaining > uint64(len(current.Data)) {
				return fmt.Errorf("blob: internal error descending to offset %d", offset)
			}
			r.leaf = current
			r.leafAt = int(remaining)
			return nil
		}
		idx, inner, err := findChildAt(current, remaining)
		if err != nil {
			return err
		}
		if idx >= len(current.Children) {
			// Offset equals the blob's total size: position at end, no
			// leaf selected, next Read reports io.EOF immediately.
			r.leaf = nil
			r.leafAt = 0
			return nil
		}
		r.frames = append(r.frames, frame{branch: current, index: idx})
		child, err := resolve(r.ctx, r.store, current.Children[idx].Child)
		if err != nil {
			return err
		}
		current = child
		remaining = inner
	}
}

// findChildAt returns the index of the child containing offset within
// branch's cumulative child sizes, and the offset's position inside that
// child.
func findChildAt(branch *object.Blob, offset uint64) (index int, inner uint64, err error) {
	var cumulative uint64
	for i, c := range branch.Children {
		if offset < cumulative+c.Size {
			return i, offset - cumulative, nil
		}
		cumulative += c.Size
	}
	if offset == cumulative {
		return len(branch.Children), 0, nil
	}
	return 0, 0, fmt.Errorf("blob: offset %d beyond branch size %d", offset, cumulative)
}

// advance moves the cursor to the next leaf in left-to-right order after
// the current one is exhausted.
func (r *Reader) advance() error {
	for len(r.frames) > 0 {
		top := &r.frames[len(r.frames)-1]
		top.index++
		if top.index >= len(top.branch.Children) {
			r.frames = r.frames[:len(r.frames)-1]
			continue
		}
		child, err := resolve(r.ctx, r.store, top.branch.Children[top.index].Child)
		if err != nil {
			return err
		}
		if child.IsLeaf {
			r.leaf = child
			r.leafAt = 0
			return nil
		}
		r.frames = append(r.frames, frame{branch: child, index: -1})
		// descend leftmost into the new branch by re-running advance,
		// which will immediately bump index from -1 to 0.
		return r.advance()
	}
	r.leaf = nil
	r.atEOF = true
	return nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.leaf == nil {
		return 0, io.EOF
	}
	n := copy(p, r.leaf.Data[r.leafAt:])
	r.leafAt += n
	r.pos += uint64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	if r.leafAt >= len(r.leaf.Data) {
		if err := r.advance(); err != nil {
			return n, err
		}
	}
	return n, nil
}
