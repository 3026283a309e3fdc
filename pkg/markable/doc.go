// Package markable provides atomically markable references: a reference and a
// one-bit mark that are read and updated together as one indivisible value.
//
// The mark usually records logical deletion of a link in a non-blocking list
// before the link is physically unlinked. A node's next slot becomes a markable
// reference, so "this link is deleted" and "this link now points elsewhere" are
// both single atomic transitions.
//
// Two representations are offered:
//
//   - Word packs an integer reference (an offset, index or foreign handle) and
//     the mark into one atomic uintptr. The mark lives in bit 0.
//   - Reference[T] holds a *T. The garbage collector must see every pointer, so
//     the pair lives in an immutable box swapped through one atomic.Pointer.
//
// Both refuse a reference whose low bit is set: construction and every mutator
// that accepts a new reference panic with an *AlignmentError.
//
// Every operation is sequentially consistent. That is the only ordering
// sync/atomic offers and it satisfies any weaker ordering a caller might want.
// Ordering never affects atomicity: readers never observe a reference paired
// with a mark it did not coexist with.
//
// Neither type owns its referent or reclaims memory behind a replaced
// reference. Callers following a reference that another goroutine may retire
// need their own reclamation discipline.
package markable
