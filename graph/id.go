// Package graph defines DeepGraph's core data model: nodes, edges, the
// PropertyValue tagged variant, and stable 128-bit identifiers.
//
// IDs are opaque: equality and hashing only, no arithmetic, matching
// spec.md §3 ("All IDs are opaque 128-bit unique values").
package graph

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// id128 is the shared 128-bit representation behind NodeID and EdgeID.
// Freshly generated ids are version-4 UUIDs from google/uuid; the same
// 16 bytes back every NodeID/EdgeID regardless of how they were produced.
type id128 [16]byte

func newID128() id128 {
	return id128(uuid.New())
}

func (id id128) String() string {
	return uuid.UUID(id).String()
}

func parseID128(s string) (id128, bool) {
	var out id128
	clean := make([]byte, 0, 32)
	for _, r := range s {
		if r == '-' {
			continue
		}
		clean = append(clean, byte(r))
	}
	if len(clean) != 32 {
		return out, false
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil || len(b) != 16 {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// NodeID uniquely identifies a Node. Compare with == only.
type NodeID struct{ v id128 }

// NewNodeID generates a fresh, globally-unique-with-overwhelming-probability
// node id.
func NewNodeID() NodeID { return NodeID{newID128()} }

// ExternalNodeID wraps a caller-supplied id for bulk-load correlation
// (spec.md §4.1: "callers provide external IDs only for bulk-load
// correlation"). The string is hashed into the 128-bit space deterministically
// so the same external id always maps to the same NodeID within a process.
func ExternalNodeID(external string) NodeID {
	return NodeID{deterministicID(external)}
}

func (id NodeID) String() string  { return id.v.String() }
func (id NodeID) IsZero() bool    { return id.v == id128{} }
func (id NodeID) Bytes() [16]byte { return id.v }

// ParseNodeID parses the canonical string form produced by String().
func ParseNodeID(s string) (NodeID, bool) {
	v, ok := parseID128(s)
	return NodeID{v}, ok
}

// EdgeID uniquely identifies an Edge. Compare with == only.
type EdgeID struct{ v id128 }

// NewEdgeID generates a fresh, globally-unique-with-overwhelming-probability
// edge id.
func NewEdgeID() EdgeID { return EdgeID{newID128()} }

// ExternalEdgeID wraps a caller-supplied id for bulk-load correlation.
func ExternalEdgeID(external string) EdgeID {
	return EdgeID{deterministicID(external)}
}

func (id EdgeID) String() string  { return id.v.String() }
func (id EdgeID) IsZero() bool    { return id.v == id128{} }
func (id EdgeID) Bytes() [16]byte { return id.v }

// ParseEdgeID parses the canonical string form produced by String().
func ParseEdgeID(s string) (EdgeID, bool) {
	v, ok := parseID128(s)
	return EdgeID{v}, ok
}

// deterministicID folds an arbitrary string into 128 bits using FNV-1a,
// expanded to fill the id space. Used only for external-id correlation,
// never for store-generated ids (those always come from newID128).
func deterministicID(s string) id128 {
	var out id128
	var h uint64 = 1469598103934665603 // FNV offset basis
	for i := 0; i < 2; i++ {
		hh := h
		for _, c := range []byte(s) {
			hh ^= uint64(c)
			hh *= 1099511628211
		}
		for j := 0; j < 8; j++ {
			out[i*8+j] = byte(hh >> (8 * j))
		}
		h = hh ^ uint64(i+1)
	}
	out[6] = (out[6] & 0x0f) | 0x30
	out[8] = (out[8] & 0x3f) | 0x80
	return out
}
