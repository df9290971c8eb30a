// Package wire implements the canonical, deterministic tagged binary
// encoding used for every content-addressed object (spec §4.1). The tag set
// mirrors the original Rust implementation's serialize::Kind enum: each
// value is preceded by a one-byte Kind tag, integers are unsigned/signed
// LEB128 varints, and maps are always written in sorted key order so that
// two semantically equal values always produce identical bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Kind tags one encoded value. The numeric values are part of the wire
// format and must never be renumbered.
type Kind byte

const (
	KindUnit Kind = iota
	KindBool
	KindUvarint
	KindIvarint
	KindF64
	KindString
	KindBytes
	KindOption
	KindArray
	KindMap
	KindStruct
)

// Encoder builds canonical bytes. The zero value is ready to use.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns a ready-to-use Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated canonical encoding.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) tag(k Kind) { e.buf.WriteByte(byte(k)) }

// Unit writes the zero-size Unit value.
func (e *Encoder) Unit() { e.tag(KindUnit) }

// Bool writes a boolean.
func (e *Encoder) Bool(v bool) {
	e.tag(KindBool)
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// Uvarint writes an unsigned integer as a Kind-tagged LEB128 varint.
func (e *Encoder) Uvarint(v uint64) {
	e.tag(KindUvarint)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// Ivarint writes a signed integer using zigzag + LEB128.
func (e *Encoder) Ivarint(v int64) {
	e.tag(KindIvarint)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// Float64 writes an IEEE-754 double in fixed big-endian byte order.
func (e *Encoder) Float64(v float64) {
	e.tag(KindF64)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	e.buf.Write(tmp[:])
}

// String writes a UTF-8 string as a length-prefixed byte sequence.
func (e *Encoder) String(v string) {
	e.tag(KindString)
	e.lenPrefixedBytes([]byte(v))
}

// Bytes writes an arbitrary byte sequence.
func (e *Encoder) Bytes(v []byte) {
	e.tag(KindBytes)
	e.lenPrefixedBytes(v)
}

func (e *Encoder) lenPrefixedBytes(v []byte) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(v)))
	e.buf.Write(tmp[:n])
	e.buf.Write(v)
}

// OptionNone writes an absent optional value.
func (e *Encoder) OptionNone() {
	e.tag(KindOption)
	e.buf.WriteByte(0)
}

// OptionSome writes the presence marker for an optional value; the caller
// encodes the inner value immediately afterward.
func (e *Encoder) OptionSome() {
	e.tag(KindOption)
	e.buf.WriteByte(1)
}

// ArrayHeader writes an array's length; the caller encodes n elements
// immediately afterward, in order (array element order is significant).
func (e *Encoder) ArrayHeader(n int) {
	e.tag(KindArray)
	var tmp [binary.MaxVarintLen64]byte
	c := binary.PutUvarint(tmp[:], uint64(n))
	e.buf.Write(tmp[:c])
}

// MapHeader writes a map's length; the caller must then write n (key,
// value) encodings in ascending lexicographic key order — this is what
// makes two semantically-equal maps hash identically regardless of
// insertion order.
func (e *Encoder) MapHeader(n int) {
	e.tag(KindMap)
	var tmp [binary.MaxVarintLen64]byte
	c := binary.PutUvarint(tmp[:], uint64(n))
	e.buf.Write(tmp[:c])
}

// StringKeyedMap writes a map[string][]byte (pre-encoded, self-contained
// values) in canonical sorted-key order, each value length-prefixed so a
// generic reader can skip or extract it without knowing its inner grammar.
// This is the common case (File dependencies, Command env).
func (e *Encoder) StringKeyedMap(entries map[string][]byte) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.MapHeader(len(keys))
	for _, k := range keys {
		e.String(k)
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(tmp[:], uint64(len(entries[k])))
		e.buf.Write(tmp[:n])
		e.buf.Write(entries[k])
	}
}

// StructHeader writes a struct's field count; the caller encodes each
// field's pre-agreed encoding in the struct's fixed field order (struct
// field order is part of the kind's format, not sorted).
func (e *Encoder) StructHeader(n int) {
	e.tag(KindStruct)
	var tmp [binary.MaxVarintLen64]byte
	c := binary.PutUvarint(tmp[:], uint64(n))
	e.buf.Write(tmp[:c])
}

// Decoder reads canonical bytes produced by Encoder.
type Decoder struct {
	b   []byte
	pos int
}

// NewDecoder wraps b for sequential decoding.
func NewDecoder(b []byte) *Decoder { return &Decoder{b: b} }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.b) - d.pos }

func (d *Decoder) expect(k Kind) error {
	if d.pos >= len(d.b) {
		return fmt.Errorf("wire: unexpected end of input, wanted kind %d", k)
	}
	got := Kind(d.b[d.pos])
	if got != k {
		return fmt.Errorf("wire: expected kind %d, got %d at offset %d", k, got, d.pos)
	}
	d.pos++
	return nil
}

// Bool decodes a boolean.
func (d *Decoder) Bool() (bool, error) {
	if err := d.expect(KindBool); err != nil {
		return false, err
	}
	if d.pos >= len(d.b) {
		return false, fmt.Errorf("wire: truncated bool")
	}
	v := d.b[d.pos] != 0
	d.pos++
	return v, nil
}

// Uvarint decodes an unsigned integer.
func (d *Decoder) Uvarint() (uint64, error) {
	if err := d.expect(KindUvarint); err != nil {
		return 0, err
	}
	v, n := binary.Uvarint(d.b[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("wire: invalid uvarint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

// Ivarint decodes a signed integer.
func (d *Decoder) Ivarint() (int64, error) {
	if err := d.expect(KindIvarint); err != nil {
		return 0, err
	}
	v, n := binary.Varint(d.b[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("wire: invalid ivarint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

// Float64 decodes an IEEE-754 double.
func (d *Decoder) Float64() (float64, error) {
	if err := d.expect(KindF64); err != nil {
		return 0, err
	}
	if d.pos+8 > len(d.b) {
		return 0, fmt.Errorf("wire: truncated float64")
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(d.b[d.pos : d.pos+8]))
	d.pos += 8
	return v, nil
}

func (d *Decoder) lenPrefixedBytes() ([]byte, error) {
	n, c := binary.Uvarint(d.b[d.pos:])
	if c <= 0 {
		return nil, fmt.Errorf("wire: invalid length prefix at offset %d", d.pos)
	}
	d.pos += c
	if d.pos+int(n) > len(d.b) {
		return nil, fmt.Errorf("wire: truncated payload, want %d bytes", n)
	}
	out := d.b[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

// String decodes a UTF-8 string.
func (d *Decoder) String() (string, error) {
	if err := d.expect(KindString); err != nil {
		return "", err
	}
	b, err := d.lenPrefixedBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes decodes an opaque byte sequence.
func (d *Decoder) Bytes() ([]byte, error) {
	if err := d.expect(KindBytes); err != nil {
		return nil, err
	}
	b, err := d.lenPrefixedBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Option decodes the presence marker and reports whether a value follows.
func (d *Decoder) Option() (bool, error) {
	if err := d.expect(KindOption); err != nil {
		return false, err
	}
	if d.pos >= len(d.b) {
		return false, fmt.Errorf("wire: truncated option")
	}
	some := d.b[d.pos] != 0
	d.pos++
	return some, nil
}

// ArrayHeader decodes an array's length.
func (d *Decoder) ArrayHeader() (int, error) {
	if err := d.expect(KindArray); err != nil {
		return 0, err
	}
	n, c := binary.Uvarint(d.b[d.pos:])
	if c <= 0 {
		return 0, fmt.Errorf("wire: invalid array length at offset %d", d.pos)
	}
	d.pos += c
	return int(n), nil
}

// MapHeader decodes a map's entry count.
func (d *Decoder) MapHeader() (int, error) {
	if err := d.expect(KindMap); err != nil {
		return 0, err
	}
	n, c := binary.Uvarint(d.b[d.pos:])
	if c <= 0 {
		return 0, fmt.Errorf("wire: invalid map length at offset %d", d.pos)
	}
	d.pos += c
	return int(n), nil
}

// RawEntry reads one length-prefixed raw byte blob written by
// StringKeyedMap's value slot, without interpreting its contents.
func (d *Decoder) RawEntry() ([]byte, error) {
	n, c := binary.Uvarint(d.b[d.pos:])
	if c <= 0 {
		return nil, fmt.Errorf("wire: invalid raw entry length at offset %d", d.pos)
	}
	d.pos += c
	if d.pos+int(n) > len(d.b) {
		return nil, fmt.Errorf("wire: truncated raw entry, want %d bytes", n)
	}
	out := d.b[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

// StructHeader decodes a struct's field count.
func (d *Decoder) StructHeader() (int, error) {
	if err := d.expect(KindStruct); err != nil {
		return 0, err
	}
	n, c := binary.Uvarint(d.b[d.pos:])
	if c <= 0 {
		return 0, fmt.Errorf("wire: invalid struct field count at offset %d", d.pos)
	}
	d.pos += c
	return int(n), nil
}
