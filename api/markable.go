// Package api defines public API contracts for markable.
package api

// Handle names a markable reference owned by a boundary. Zero is never valid.
type Handle uint64

// MarkableBoundary is the handle-based surface a foreign caller or a surrounding
// data structure uses. Every call on a destroyed or unknown handle fails.
// Destroy releases the boundary's own storage only, never the referent.
type MarkableBoundary interface {
	Construct(ref uintptr, mark bool) (Handle, error)
	Destroy(h Handle) error
	Reference(h Handle) (uintptr, error)
	Mark(h Handle) (bool, error)
	Both(h Handle) (uintptr, bool, error)
	SetReference(h Handle, ref uintptr) (uintptr, error)
	SetMark(h Handle, mark bool) error
	ToggleMark(h Handle) (bool, error)
	ExchangeMark(h Handle, mark bool) (bool, error)
	CompareAndSet(h Handle, expRef uintptr, expMark bool, newRef uintptr, newMark bool) (bool, error)
}
