// Package key implements the composite, totally-ordered identifier used to
// order every item stored in the tree.
//
// A Key has four 64-bit fields: Locality, Type, ObjectID, Offset; Type
// and ObjectID are separate fields, not packed into one word. Two
// comparison schemes are supported and selected once per Tree instance
// (see Scheme): PlanA compares locality and type first, then objectid
// and offset, while V35 compares locality, objectid, type and offset in
// that plain order. Neither scheme is "the" key
// format; callers pick one at tree-construction time and every node in
// that tree is compared with it forever after.
package key

import "cmp"

// Key is a composite, totally-ordered identifier for an item in the tree.
//
// The zero Key is not meaningful on its own; use Min or Max for sentinel
// bounds and Scheme.Compare (never a struct comparison) to order keys.
type Key struct {
	Locality uint64
	Type     uint64
	ObjectID uint64
	Offset   uint64
}

// Scheme is a key-comparison strategy. The tree is constructed with
// exactly one Scheme and never changes it afterward: delimiting keys,
// coord lookups and carry UPDATE operations all assume a stable total
// order.
type Scheme interface {
	// Compare returns -1, 0, 1 as a < b, a == b, a > b under this scheme.
	Compare(a, b Key) int
	// Name identifies the scheme, used only for diagnostics.
	Name() string
}

// PlanA compares locality, then type, before comparing objectid and
// offset. It favors clustering of items that share a
// locality and an item-type together on disk.
type planA struct{}

// V35 compares locality, objectid, type, offset in that literal order,
// with no packing.
type v35 struct{}

// SchemePlanA is the "plan-a" key-comparison scheme from the original
// design: compares (locality, type) as a packed band first, then
// (objectid, offset).
var SchemePlanA Scheme = planA{}

// SchemeV35 is the "3.5" key-comparison scheme: compares locality,
// objectid, type, offset in that order, with no packing.
var SchemeV35 Scheme = v35{}

func (planA) Name() string { return "plan-a" }

func (planA) Compare(a, b Key) int {
	// pack locality (high) and type (low) into one comparison band,
	// mirroring the on-disk key layout where these two words are
	// adjacent and compared together.
	if c := cmp.Compare(a.Locality, b.Locality); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ObjectID, b.ObjectID); c != 0 {
		return c
	}
	return cmp.Compare(a.Offset, b.Offset)
}

func (v35) Name() string { return "3.5" }

func (v35) Compare(a, b Key) int {
	if c := cmp.Compare(a.Locality, b.Locality); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ObjectID, b.ObjectID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Offset, b.Offset)
}

// Min is the least possible key under any scheme: every field at its
// zero value sorts before any real key in both schemes above.
func Min() Key { return Key{} }

// Max is the greatest possible key under any scheme.
func Max() Key {
	return Key{
		Locality: ^uint64(0),
		Type:     ^uint64(0),
		ObjectID: ^uint64(0),
		Offset:   ^uint64(0),
	}
}

// Less reports whether a sorts before b under scheme s. A small
// convenience wrapper around s.Compare kept for readability at call
// sites that only need a boolean.
func Less(s Scheme, a, b Key) bool { return s.Compare(a, b) < 0 }

// Equal reports whether a and b compare equal under scheme s.
func Equal(s Scheme, a, b Key) bool { return s.Compare(a, b) == 0 }

// LessOrEqual reports whether a sorts at or before b under scheme s.
func LessOrEqual(s Scheme, a, b Key) bool { return s.Compare(a, b) <= 0 }
