package object

import (
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
	"github.com/tangramdotdev/tangram/internal/wire"
)

// ErrorLocation is a source location attached to an Error object, relevant
// for module-runtime errors (spec §7).
type ErrorLocation struct {
	Symbol string
	File   string
	Line   int
	Column int
}

// Error is the storable form of tgerr.Error (spec §3, §7): every error is
// itself an object, so it can be attached to a terminal process outcome and
// replicated like any other artifact.
type Error struct {
	ErrKind  string
	Message  string
	Values   map[string]string
	Location *ErrorLocation
	Source   id.ID // zero if no chained cause
}

func (e *Error) Kind() id.Kind { return id.KindError }

func (e *Error) Encode() []byte {
	enc := wire.NewEncoder()
	enc.StructHeader(5)
	enc.String(e.ErrKind)
	enc.String(e.Message)

	entries := make(map[string][]byte, len(e.Values))
	for k, v := range e.Values {
		ve := wire.NewEncoder()
		ve.String(v)
		entries[k] = ve.Bytes()
	}
	enc.StringKeyedMap(entries)

	if e.Location == nil {
		enc.OptionNone()
	} else {
		enc.OptionSome()
		enc.StructHeader(4)
		enc.String(e.Location.Symbol)
		enc.String(e.Location.File)
		enc.Uvarint(uint64(e.Location.Line))
		enc.Uvarint(uint64(e.Location.Column))
	}

	if e.Source.IsZero() {
		enc.OptionNone()
	} else {
		enc.OptionSome()
		encodeID(enc, e.Source)
	}

	return enc.Bytes()
}

func (e *Error) ID() id.ID { return id.NewContent(id.KindError, e.Encode()) }

func (e *Error) ChildEdges() []id.ID {
	if e.Source.IsZero() {
		return nil
	}
	return []id.ID{e.Source}
}

// DecodeError reconstructs an Error object from its canonical encoding.
func DecodeError(b []byte) (*Error, error) {
	d := wire.NewDecoder(b)
	if n, err := d.StructHeader(); err != nil || n != 5 {
		return nil, fmt.Errorf("object: decode error: bad struct header")
	}
	out := &Error{}
	var err error
	out.ErrKind, err = d.String()
	if err != nil {
		return nil, err
	}
	out.Message, err = d.String()
	if err != nil {
		return nil, err
	}
	count, err := d.MapHeader()
	if err != nil {
		return nil, err
	}
	out.Values = make(map[string]string, count)
	for i := 0; i < count; i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		raw, err := d.RawEntry()
		if err != nil {
			return nil, err
		}
		v, err := wire.NewDecoder(raw).String()
		if err != nil {
			return nil, err
		}
		out.Values[k] = v
	}
	hasLoc, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasLoc {
		if n, err := d.StructHeader(); err != nil || n != 4 {
			return nil, fmt.Errorf("object: decode error location: bad struct header")
		}
		loc := &ErrorLocation{}
		loc.Symbol, err = d.String()
		if err != nil {
			return nil, err
		}
		loc.File, err = d.String()
		if err != nil {
			return nil, err
		}
		line, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		col, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		loc.Line, loc.Column = int(line), int(col)
		out.Location = loc
	}
	hasSource, err := d.Option()
	if err != nil {
		return nil, err
	}
	if hasSource {
		out.Source, err = decodeID(d)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromTgerr converts a tgerr.Error to its storable Error object form. The
// chained Source, if any, is expected to already be stored and is referenced
// by sourceID (zero if the source isn't itself a tgerr.Error).
func FromTgerr(e *tgerr.Error, sourceID id.ID) *Error {
	out := &Error{ErrKind: string(e.Kind), Message: e.Message, Values: e.Values, Source: sourceID}
	if e.Location != nil {
		out.Location = &ErrorLocation{
			Symbol: e.Location.Symbol,
			File:   e.Location.File,
			Line:   e.Location.Line,
			Column: e.Location.Column,
		}
	}
	return out
}

// ToTgerr converts a stored Error object back into a tgerr.Error. The
// chained cause, if any, is left to the caller to resolve via Source.
func (e *Error) ToTgerr() *tgerr.Error {
	out := &tgerr.Error{Kind: tgerr.Kind(e.ErrKind), Message: e.Message, Values: e.Values}
	if e.Location != nil {
		out.Location = &tgerr.Location{
			Symbol: e.Location.Symbol,
			File:   e.Location.File,
			Line:   e.Location.Line,
			Column: e.Location.Column,
		}
	}
	return out
}
