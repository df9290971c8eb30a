// Package id implements Tangram's typed identifiers: a kind tag plus either
// a blake3 content hash (immutable objects) or a UUIDv7 (ephemeral
// entities), rendered as "<kind>_<base32>" text per spec §4.1/§6.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// Kind tags every ID and every stored object's canonical encoding.
type Kind string

const (
	KindBlob      Kind = "blb"
	KindDirectory Kind = "dir"
	KindFile      Kind = "fil"
	KindSymlink   Kind = "sym"
	KindGraph     Kind = "gph"
	KindCommand   Kind = "cmd"
	KindError     Kind = "err"
	KindProcess   Kind = "prc"
	KindPipe      Kind = "pip"
	KindPty       Kind = "pty"
)

// contentKinds are hashed from their canonical bytes; the rest are temporal.
var contentKinds = map[Kind]bool{
	KindBlob:      true,
	KindDirectory: true,
	KindFile:      true,
	KindSymlink:   true,
	KindGraph:     true,
	KindCommand:   true,
	KindError:     true,
}

// IsContentKind reports whether k is derived from a content hash rather
// than a UUIDv7.
func IsContentKind(k Kind) bool { return contentKinds[k] }

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ID is a typed, textual, self-describing identifier.
type ID struct {
	kind    Kind
	payload [32]byte // blake3 digest, or a 16-byte UUID left-padded with zeros
}

// NewContent derives a content ID from the canonical bytes of an object.
// It panics if k is not a content kind; callers control k statically.
func NewContent(k Kind, canonicalBytes []byte) ID {
	if !IsContentKind(k) {
		panic(fmt.Sprintf("id: %q is not a content kind", k))
	}
	sum := blake3.Sum256(canonicalBytes)
	return ID{kind: k, payload: sum}
}

// NewTemporal allocates a fresh UUIDv7-backed identifier for an ephemeral
// entity (Process, Pipe, Pty).
func NewTemporal(k Kind) ID {
	if IsContentKind(k) {
		panic(fmt.Sprintf("id: %q is a content kind, not temporal", k))
	}
	u := uuid.Must(uuid.NewV7())
	var payload [32]byte
	copy(payload[16:], u[:])
	return ID{kind: k, payload: payload}
}

// Kind projects the tag of an ID.
func (i ID) Kind() Kind { return i.kind }

// IsZero reports whether i is the zero value (no kind, no payload).
func (i ID) IsZero() bool { return i.kind == "" }

// Bytes returns the binary payload (32 bytes: a full digest for content
// IDs, or a zero-padded UUID for temporal IDs).
func (i ID) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, i.payload[:])
	return b
}

// UUID returns the UUIDv7 backing a temporal ID. It panics for content IDs.
func (i ID) UUID() uuid.UUID {
	if IsContentKind(i.kind) {
		panic("id: UUID() called on a content-addressed ID")
	}
	var u uuid.UUID
	copy(u[:], i.payload[16:])
	return u
}

// String renders "<kind>_<base32>" using the content digest (content IDs)
// or the bare 16-byte UUID (temporal IDs), so both round-trip bijectively
// through Parse.
func (i ID) String() string {
	if i.IsZero() {
		return ""
	}
	if IsContentKind(i.kind) {
		return string(i.kind) + "_" + strings.ToLower(b32.EncodeToString(i.payload[:]))
	}
	return string(i.kind) + "_" + strings.ToLower(b32.EncodeToString(i.payload[16:]))
}

// Parse validates the "<kind>_<base32>" textual form and reconstructs an ID.
func Parse(s string) (ID, error) {
	k, payload, err := splitPrefix(s)
	if err != nil {
		return ID{}, err
	}
	raw, err := b32.DecodeString(strings.ToUpper(payload))
	if err != nil {
		return ID{}, fmt.Errorf("id: invalid base32 payload in %q: %w", s, err)
	}
	var out [32]byte
	switch {
	case IsContentKind(k) && len(raw) == 32:
		copy(out[:], raw)
	case !IsContentKind(k) && len(raw) == 16:
		copy(out[16:], raw)
	default:
		return ID{}, fmt.Errorf("id: wrong payload length %d for kind %q", len(raw), k)
	}
	return ID{kind: k, payload: out}, nil
}

func splitPrefix(s string) (Kind, string, error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return "", "", fmt.Errorf("id: missing kind prefix in %q", s)
	}
	k := Kind(s[:idx])
	if _, ok := knownKinds[k]; !ok {
		return "", "", fmt.Errorf("id: unknown kind %q", k)
	}
	return k, s[idx+1:], nil
}

var knownKinds = map[Kind]struct{}{
	KindBlob: {}, KindDirectory: {}, KindFile: {}, KindSymlink: {}, KindGraph: {},
	KindCommand: {}, KindError: {}, KindProcess: {}, KindPipe: {}, KindPty: {},
}

// FromSlice accepts the binary form of an ID (32-byte payload) for a known
// kind, mirroring Parse for callers working with raw bytes.
func FromSlice(k Kind, b []byte) (ID, error) {
	if len(b) != 32 {
		return ID{}, fmt.Errorf("id: FromSlice expects 32 bytes, got %d", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return ID{kind: k, payload: out}, nil
}
