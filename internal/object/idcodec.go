package object

import (
	"fmt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/wire"
)

// encodeID writes a fully self-describing ID (kind + payload) so a decoder
// can reconstruct it without external context.
func encodeID(e *wire.Encoder, i id.ID) {
	e.StructHeader(2)
	e.String(string(i.Kind()))
	e.Bytes(i.Bytes())
}

func decodeID(d *wire.Decoder) (id.ID, error) {
	if _, err := d.StructHeader(); err != nil {
		return id.ID{}, fmt.Errorf("object: decode id: %w", err)
	}
	kindStr, err := d.String()
	if err != nil {
		return id.ID{}, fmt.Errorf("object: decode id kind: %w", err)
	}
	payload, err := d.Bytes()
	if err != nil {
		return id.ID{}, fmt.Errorf("object: decode id payload: %w", err)
	}
	return id.FromSlice(id.Kind(kindStr), payload)
}
