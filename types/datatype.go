package types

// TypeConstructor enumerates the datatype constructors of spec.md §3.
// Only PredefinedBase carries no children; every other constructor
// references one or more parent types.
type TypeConstructor int

const (
	PredefinedBase TypeConstructor = iota
	Contiguous
	Vector
	HVector
	Indexed
	HIndexed
	Struct
	IndexedBlock
	Resized
	Subarray
	Darray
)

// FlatEntry is one entry of a flattened typemap: a predefined base type
// at a given byte displacement.
type FlatEntry struct {
	Base        string
	Displacement int64
}

// TypeSnapshot is an immutable, recursive datatype description. It is
// used only for the type cross-check on a p2p/collective match (spec.md
// §4.6/§4.7), never to drive matching itself.
type TypeSnapshot struct {
	Constructor TypeConstructor
	BaseName    string // set when Constructor == PredefinedBase
	Parents     []*TypeSnapshot

	// FlatMap is a cached flattening of this type into (base type,
	// displacement) pairs, computed once when the snapshot is published.
	FlatMap []FlatEntry

	Extent     int64
	TrueExtent int64
	Size       int64
	Alignment  int64

	// Digest is a content hash of FlatMap+Size, cheap to compare across
	// ranks without shipping the full typemap.
	Digest string
}

// BOTTOM_ADDR and IN_PLACE_ADDR are the reserved sentinel addresses from
// spec.md §9 that every address computation must special-case before
// doing arithmetic on a buffer address.
const (
	BottomAddr  uintptr = 0
	InPlaceAddr uintptr = 1
)

// ShortSendAllowed implements the type cross-check rule of spec.md §4.6:
// a short-send into a long-receive is allowed, i.e. the sender's flattened
// size may be less than or equal to the receiver's.
func ShortSendAllowed(send, recv *TypeSnapshot) bool {
	if send == nil || recv == nil {
		return true
	}
	return send.Size <= recv.Size
}

// TypeMismatch reports whether two datatype snapshots disagree on their
// flattened digest (and are not merely a short-send), which should emit a
// TypeMismatch diagnostic (spec.md §7) without altering matching.
func TypeMismatch(send, recv *TypeSnapshot) bool {
	if send == nil || recv == nil {
		return false
	}
	if send.Digest == recv.Digest {
		return false
	}
	return !ShortSendAllowed(send, recv)
}
