// Package index implements the secondary index subsystem (spec.md §4.4):
// an in-memory, non-durable HashIndex; a disk-backed, ordered BTreeIndex;
// and a Manager that owns descriptors and keeps every index in sync with
// mutations routed through the engine.
package index

import (
	"encoding/binary"
	"math"

	"github.com/deepskilling/deepgraph/graph"
)

// EncodeKey renders a PropertyValue into the canonical ordered byte
// encoding used by both index kinds (spec.md §4.4):
//   - strings: raw UTF-8 bytes
//   - ints: big-endian two's-complement with the sign bit flipped, so
//     unsigned byte comparison matches signed numeric ordering
//   - floats: IEEE-754 bit pattern with a sign-dependent flip, so unsigned
//     byte comparison matches numeric (including negative) ordering
//   - bools: a single byte, false < true
//   - null: the empty key, sorting before every other encoding
//   - list/map: not indexable; encode to the empty key like null, since no
//     index descriptor is ever created against a list/map-valued property
func EncodeKey(v graph.PropertyValue) []byte {
	switch v.Kind() {
	case graph.KindString:
		s, _ := v.AsString()
		return []byte(s)
	case graph.KindInt:
		i, _ := v.AsInt()
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(i)^(1<<63))
		return b[:]
	case graph.KindFloat:
		f, _ := v.AsFloat()
		return encodeFloatKey(f)
	case graph.KindBool:
		bv, _ := v.AsBool()
		if bv {
			return []byte{1}
		}
		return []byte{0}
	default:
		return nil
	}
}

func encodeFloatKey(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return b[:]
}
