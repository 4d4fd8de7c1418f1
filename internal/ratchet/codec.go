package ratchet

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// encoder appends protowire fields. Zero values are written too; the
// decoders rely on required fields being present.
type encoder struct {
	b []byte
}

func (e *encoder) uint(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// field is one decoded protowire field. Exactly one of varint/bytes is
// meaningful, depending on typ.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// decodeFields walks b and calls fn for every varint and length-delimited
// field. Other wire types are skipped.
func decodeFields(what string, b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &DecodeError{What: what, Err: protowire.ParseError(n)}
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return &DecodeError{What: what, Err: protowire.ParseError(n)}
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return &DecodeError{What: what, Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) key32(what string, dst *[32]byte) error {
	if f.typ != protowire.BytesType || len(f.bytes) != 32 {
		return &DecodeError{What: what, Err: fmt.Errorf("field %d: want 32 bytes, got %d", f.num, len(f.bytes))}
	}
	copy(dst[:], f.bytes)
	return nil
}

func (f field) asUint16(what string) (uint16, error) {
	if f.typ != protowire.VarintType || f.varint > 0xFFFF {
		return 0, &DecodeError{What: what, Err: fmt.Errorf("field %d: invalid uint16", f.num)}
	}
	return uint16(f.varint), nil
}

func (f field) asUint32(what string) (uint32, error) {
	if f.typ != protowire.VarintType || f.varint > 0xFFFFFFFF {
		return 0, &DecodeError{What: what, Err: fmt.Errorf("field %d: invalid uint32", f.num)}
	}
	return uint32(f.varint), nil
}

func missing(what, name string) error {
	return &DecodeError{What: what, Err: fmt.Errorf("missing %s", name)}
}
