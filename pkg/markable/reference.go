package markable

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/srediag/markable/internal/tagword"
)

// Reference is a markable *T.
//
// The pair lives in an immutable box and every update swaps in a new box with a
// single compare-and-swap, so the collector keeps seeing the pointer and readers
// never see a torn pair. Comparisons are made on the pair, never on the box.
//
// The zero value holds (nil, false). A Reference must not be copied after first use.
type Reference[T any] struct {
	p atomic.Pointer[box[T]]
}

type box[T any] struct {
	ref  *T
	mark bool
}

func (b *box[T]) pair() (*T, bool) {
	if b == nil {
		return nil, false
	}
	return b.ref, b.mark
}

// NewReference returns a Reference holding (ref, mark). It panics if the address
// of ref has its low bit set, which only happens for byte-aligned referents.
func NewReference[T any](ref *T, mark bool) *Reference[T] {
	mustAlignPtr("NewReference", ref)
	r := &Reference[T]{}
	r.p.Store(&box[T]{ref: ref, mark: mark})
	return r
}

// Store replaces both halves.
func (r *Reference[T]) Store(ref *T, mark bool) {
	mustAlignPtr("Store", ref)
	r.p.Store(&box[T]{ref: ref, mark: mark})
}

// CopyFrom stores a snapshot of other into r.
func (r *Reference[T]) CopyFrom(other *Reference[T]) {
	r.p.Store(other.p.Load())
}

// Pointer returns the reference.
func (r *Reference[T]) Pointer() *T {
	ref, _ := r.p.Load().pair()
	return ref
}

// Mark returns the mark.
func (r *Reference[T]) Mark() bool {
	_, mark := r.p.Load().pair()
	return mark
}

// Both returns the reference and the mark from a single load.
func (r *Reference[T]) Both() (*T, bool) {
	return r.p.Load().pair()
}

// SetReference replaces the reference, keeps the mark current at the instant of
// the update and returns the previous reference.
func (r *Reference[T]) SetReference(ref *T) *T {
	mustAlignPtr("SetReference", ref)
	cur := r.p.Load()
	for {
		if testHookBeforeWrite != nil {
			testHookBeforeWrite()
		}
		old, mark := cur.pair()
		if r.p.CompareAndSwap(cur, &box[T]{ref: ref, mark: mark}) {
			return old
		}
		cur = r.p.Load()
	}
}

// SetReferenceRacy replaces the reference with one load and one plain store.
// A concurrent update landing between the two is lost; see Word.SetReferenceRacy.
func (r *Reference[T]) SetReferenceRacy(ref *T) {
	mustAlignPtr("SetReferenceRacy", ref)
	_, mark := r.p.Load().pair()
	if testHookBeforeWrite != nil {
		testHookBeforeWrite()
	}
	r.p.Store(&box[T]{ref: ref, mark: mark})
}

// SetMark sets or clears the mark, leaving the reference untouched.
func (r *Reference[T]) SetMark(mark bool) {
	r.ExchangeMark(mark)
}

// ExchangeMark sets the mark and returns its previous value.
func (r *Reference[T]) ExchangeMark(mark bool) bool {
	for {
		cur := r.p.Load()
		ref, old := cur.pair()
		if old == mark {
			return old
		}
		if r.p.CompareAndSwap(cur, &box[T]{ref: ref, mark: mark}) {
			return old
		}
	}
}

// ToggleMark flips the mark and returns the value it held before the flip.
func (r *Reference[T]) ToggleMark() bool {
	for {
		cur := r.p.Load()
		ref, old := cur.pair()
		if r.p.CompareAndSwap(cur, &box[T]{ref: ref, mark: !old}) {
			return old
		}
	}
}

// CompareAndSet installs (newRef, newMark) if r currently holds exactly
// (expRef, expMark), and reports whether it did. It never fails spuriously.
func (r *Reference[T]) CompareAndSet(expRef *T, expMark bool, newRef *T, newMark bool) bool {
	_, _, ok := r.CompareAndExchange(expRef, expMark, newRef, newMark)
	return ok
}

// CompareAndExchange is CompareAndSet that also reports the pair it observed.
func (r *Reference[T]) CompareAndExchange(expRef *T, expMark bool, newRef *T, newMark bool) (*T, bool, bool) {
	mustAlignPtr("CompareAndExchange", newRef)
	for {
		cur := r.p.Load()
		ref, mark := cur.pair()
		if ref != expRef || mark != expMark {
			return ref, mark, false
		}
		if expRef == newRef && expMark == newMark {
			return ref, mark, true
		}
		if r.p.CompareAndSwap(cur, &box[T]{ref: newRef, mark: newMark}) {
			return ref, mark, true
		}
	}
}

// AttemptMark sets the mark to mark if the reference still equals expRef.
// It reports whether r holds (expRef, mark) afterwards.
func (r *Reference[T]) AttemptMark(expRef *T, mark bool) bool {
	for {
		cur := r.p.Load()
		ref, old := cur.pair()
		if ref != expRef {
			return false
		}
		if old == mark {
			return true
		}
		if r.p.CompareAndSwap(cur, &box[T]{ref: ref, mark: mark}) {
			return true
		}
	}
}

func (r *Reference[T]) String() string {
	ref, mark := r.Both()
	return fmt.Sprintf("(%p, %t)", ref, mark)
}

func mustAlignPtr[T any](op string, ref *T) {
	if a := uintptr(unsafe.Pointer(ref)); !tagword.Aligned(a) {
		panic(&AlignmentError{Op: op, Ref: a})
	}
}
