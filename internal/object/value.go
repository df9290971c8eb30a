package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

// ValueKind tags the dynamically-typed Value sum used for Command
// args/env/checksum inputs and, at the host boundary, for values passed
// between sandboxed code and the core (spec §9).
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueBytes
	ValueArray
	ValueMap
	ValueObject
	ValueTemplate
)

// TemplateComponent is one piece of an interpolated Template value: either a
// literal string fragment or a reference to an artifact whose checked-out
// path is substituted at execution time.
type TemplateComponent struct {
	String   string // meaningful iff Artifact is zero
	Artifact id.ID  // meaningful iff non-zero
}

// Value is Tangram's dynamically-typed host/command value. Implementers
// exhaustively switch on Kind(); there is no inheritance (spec §9).
type Value struct {
	kind     ValueKind
	b        bool
	n        float64
	s        string
	by       []byte
	arr      []Value
	m        map[string]Value
	obj      id.ID
	template []TemplateComponent
}

func (v Value) Kind() ValueKind { return v.kind }

func Null() Value                  { return Value{kind: ValueNull} }
func Bool(b bool) Value            { return Value{kind: ValueBool, b: b} }
func Number(n float64) Value       { return Value{kind: ValueNumber, n: n} }
func String(s string) Value        { return Value{kind: ValueString, s: s} }
func Bytes(b []byte) Value         { return Value{kind: ValueBytes, by: b} }
func Array(v ...Value) Value       { return Value{kind: ValueArray, arr: v} }
func Map(m map[string]Value) Value { return Value{kind: ValueMap, m: m} }
func ObjectRef(id id.ID) Value     { return Value{kind: ValueObject, obj: id} }
func Template(c ...TemplateComponent) Value {
	return Value{kind: ValueTemplate, template: c}
}

func (v Value) AsBool() bool                    { return v.b }
func (v Value) AsNumber() float64               { return v.n }
func (v Value) AsString() string                { return v.s }
func (v Value) AsBytes() []byte                 { return v.by }
func (v Value) AsArray() []Value                { return v.arr }
func (v Value) AsMap() map[string]Value         { return v.m }
func (v Value) AsObject() id.ID                 { return v.obj }
func (v Value) AsTemplate() []TemplateComponent { return v.template }

// EncodeValue returns v's canonical wire encoding, standalone (not nested
// inside a Command's args/env). Used to box a module runtime's return
// value for storage as a process's output object (spec §4.7 `output?
// (object ID of final value)`).
func EncodeValue(v Value) []byte {
	e := wire.NewEncoder()
	encodeValue(e, v)
	return e.Bytes()
}

// DecodeValue reverses EncodeValue.
func DecodeValue(b []byte) (Value, error) {
	d := wire.NewDecoder(b)
	return decodeValue(d)
}

func encodeValue(e *wire.Encoder, v Value) {
	switch v.kind {
	case ValueNull:
		e.StructHeader(1)
		e.Uvarint(uint64(ValueNull))
	case ValueBool:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueBool))
		e.Bool(v.b)
	case ValueNumber:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueNumber))
		e.Float64(v.n)
	case ValueString:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueString))
		e.String(v.s)
	case ValueBytes:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueBytes))
		e.Bytes(v.by)
	case ValueArray:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueArray))
		e.ArrayHeader(len(v.arr))
		for _, el := range v.arr {
			encodeValue(e, el)
		}
	case ValueMap:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueMap))
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.MapHeader(len(keys))
		for _, k := range keys {
			e.String(k)
			encodeValue(e, v.m[k])
		}
	case ValueObject:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueObject))
		encodeID(e, v.obj)
	case ValueTemplate:
		e.StructHeader(2)
		e.Uvarint(uint64(ValueTemplate))
		e.ArrayHeader(len(v.template))
		for _, c := range v.template {
			if c.Artifact.IsZero() {
				e.StructHeader(2)
				e.Uvarint(0)
				e.String(c.String)
			} else {
				e.StructHeader(2)
				e.Uvarint(1)
				encodeID(e, c.Artifact)
			}
		}
	}
}

func decodeValue(d *wire.Decoder) (Value, error) {
	n, err := d.StructHeader()
	if err != nil {
		return Value{}, fmt.Errorf("object: decode value: %w", err)
	}
	kindRaw, err := d.Uvarint()
	if err != nil {
		return Value{}, fmt.Errorf("object: decode value kind: %w", err)
	}
	kind := ValueKind(kindRaw)
	switch kind {
	case ValueNull:
		if n != 1 {
			return Value{}, fmt.Errorf("object: decode null value: bad field count")
		}
		return Null(), nil
	case ValueBool:
		b, err := d.Bool()
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case ValueNumber:
		num, err := d.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(num), nil
	case ValueString:
		s, err := d.String()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case ValueBytes:
		b, err := d.Bytes()
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil
	case ValueArray:
		count, err := d.ArrayHeader()
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			el, err := decodeValue(d)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, el)
		}
		return Array(arr...), nil
	case ValueMap:
		count, err := d.MapHeader()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, count)
		for i := 0; i < count; i++ {
			k, err := d.String()
			if err != nil {
				return Value{}, err
			}
			v, err := decodeValue(d)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	case ValueObject:
		oid, err := decodeID(d)
		if err != nil {
			return Value{}, err
		}
		return ObjectRef(oid), nil
	case ValueTemplate:
		count, err := d.ArrayHeader()
		if err != nil {
			return Value{}, err
		}
		comps := make([]TemplateComponent, 0, count)
		for i := 0; i < count; i++ {
			if _, err := d.StructHeader(); err != nil {
				return Value{}, err
			}
			variant, err := d.Uvarint()
			if err != nil {
				return Value{}, err
			}
			if variant == 0 {
				s, err := d.String()
				if err != nil {
					return Value{}, err
				}
				comps = append(comps, TemplateComponent{String: s})
			} else {
				aid, err := decodeID(d)
				if err != nil {
					return Value{}, err
				}
				comps = append(comps, TemplateComponent{Artifact: aid})
			}
		}
		return Template(comps...), nil
	default:
		return Value{}, fmt.Errorf("object: decode value: unknown kind %d", kind)
	}
}

// valueChildEdges collects any object IDs embedded in v (ValueObject leaves
// and template artifact references), recursing through arrays/maps.
func valueChildEdges(v Value, out *[]id.ID) {
	switch v.kind {
	case ValueObject:
		*out = append(*out, v.obj)
	case ValueArray:
		for _, el := range v.arr {
			valueChildEdges(el, out)
		}
	case ValueMap:
		for _, el := range v.m {
			valueChildEdges(el, out)
		}
	case ValueTemplate:
		for _, c := range v.template {
			if !c.Artifact.IsZero() {
				*out = append(*out, c.Artifact)
			}
		}
	}
}
