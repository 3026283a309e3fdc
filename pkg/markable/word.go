package markable

import (
	"fmt"
	"sync/atomic"

	"github.com/srediag/markable/internal/tagword"
)

// testHookBeforeWrite runs between the read and the write of SetReference and
// SetReferenceRacy. Tests use it to force a concurrent mark update into that window.
var testHookBeforeWrite func()

// Word is a markable reference packed into one atomic uintptr.
//
// The reference is an integer of pointer width whose low bit is clear, such as a
// shared-memory offset, an arena index shifted left by one, or a foreign handle.
// Never store a Go pointer here: the garbage collector does not trace integers.
// Use Reference[T] for Go pointers.
//
// The zero value holds (0, false). A Word must not be copied after first use.
type Word struct {
	v atomic.Uintptr
}

// NewWord returns a Word holding (ref, mark). It panics if ref has its low bit set.
func NewWord(ref uintptr, mark bool) *Word {
	mustAlign("NewWord", ref)
	w := &Word{}
	w.v.Store(tagword.Pack(ref, mark))
	return w
}

// Store replaces both halves. It panics if ref has its low bit set.
func (w *Word) Store(ref uintptr, mark bool) {
	mustAlign("Store", ref)
	w.v.Store(tagword.Pack(ref, mark))
}

// CopyFrom stores a snapshot of other into w.
func (w *Word) CopyFrom(other *Word) {
	w.v.Store(other.v.Load())
}

// Reference returns the reference with the mark bit masked out.
func (w *Word) Reference() uintptr {
	return tagword.Ref(w.v.Load())
}

// Mark returns the mark.
func (w *Word) Mark() bool {
	return tagword.Marked(w.v.Load())
}

// Both returns the reference and the mark from a single load.
func (w *Word) Both() (uintptr, bool) {
	return tagword.Unpack(w.v.Load())
}

// SetReference replaces the reference and keeps the mark as it is at the instant
// of the update, retrying while concurrent mark updates race it. It returns the
// previous reference and panics if ref has its low bit set.
func (w *Word) SetReference(ref uintptr) uintptr {
	mustAlign("SetReference", ref)
	old := w.v.Load()
	for {
		if testHookBeforeWrite != nil {
			testHookBeforeWrite()
		}
		if w.v.CompareAndSwap(old, tagword.WithRef(old, ref)) {
			return tagword.Ref(old)
		}
		old = w.v.Load()
	}
}

// SetReferenceRacy replaces the reference with one load and one plain store.
//
// The mark written back is the one observed by the load. A SetMark, ToggleMark or
// ExchangeMark that lands between the load and the store is silently lost, and so
// is any concurrent reference update. Use it only when no other goroutine can
// write w during the call; otherwise use SetReference.
func (w *Word) SetReferenceRacy(ref uintptr) {
	mustAlign("SetReferenceRacy", ref)
	old := w.v.Load()
	if testHookBeforeWrite != nil {
		testHookBeforeWrite()
	}
	w.v.Store(tagword.WithRef(old, ref))
}

// SetMark sets or clears the mark, leaving the reference bits untouched.
func (w *Word) SetMark(mark bool) {
	if mark {
		tagword.OrMark(&w.v)
	} else {
		tagword.ClearMark(&w.v)
	}
}

// ExchangeMark sets the mark and returns its previous value.
func (w *Word) ExchangeMark(mark bool) bool {
	if mark {
		return tagword.Marked(tagword.OrMark(&w.v))
	}
	return tagword.Marked(tagword.ClearMark(&w.v))
}

// ToggleMark flips the mark and returns the value it held before the flip.
func (w *Word) ToggleMark() bool {
	return tagword.Marked(tagword.FlipMark(&w.v))
}

// CompareAndSet installs (newRef, newMark) if w currently holds exactly
// (expRef, expMark), and reports whether it did. A failed call leaves w unchanged.
//
// It never fails spuriously, which is stronger than a weak compare-and-swap;
// retry loops written for the weak contract stay correct. An expRef with its low
// bit set can never match. It panics if newRef has its low bit set.
func (w *Word) CompareAndSet(expRef uintptr, expMark bool, newRef uintptr, newMark bool) bool {
	mustAlign("CompareAndSet", newRef)
	if !tagword.Aligned(expRef) {
		return false
	}
	return w.v.CompareAndSwap(tagword.Pack(expRef, expMark), tagword.Pack(newRef, newMark))
}

// CompareAndExchange is CompareAndSet that also reports the pair it observed.
// On success that is (expRef, expMark); on failure it is the value that did not match.
func (w *Word) CompareAndExchange(expRef uintptr, expMark bool, newRef uintptr, newMark bool) (uintptr, bool, bool) {
	mustAlign("CompareAndExchange", newRef)
	expected := tagword.Pack(expRef, expMark)
	desired := tagword.Pack(newRef, newMark)
	for {
		cur := w.v.Load()
		if cur != expected || !tagword.Aligned(expRef) {
			ref, mark := tagword.Unpack(cur)
			return ref, mark, false
		}
		if w.v.CompareAndSwap(expected, desired) {
			return expRef, expMark, true
		}
	}
}

// AttemptMark sets the mark to mark if the reference still equals expRef.
// It reports whether w holds (expRef, mark) afterwards.
func (w *Word) AttemptMark(expRef uintptr, mark bool) bool {
	if !tagword.Aligned(expRef) {
		return false
	}
	for {
		cur := w.v.Load()
		if tagword.Ref(cur) != expRef {
			return false
		}
		if tagword.Marked(cur) == mark {
			return true
		}
		if w.v.CompareAndSwap(cur, tagword.WithMark(cur, mark)) {
			return true
		}
	}
}

func (w *Word) String() string {
	ref, mark := w.Both()
	return fmt.Sprintf("(%#x, %t)", ref, mark)
}

func mustAlign(op string, ref uintptr) {
	if !tagword.Aligned(ref) {
		panic(&AlignmentError{Op: op, Ref: ref})
	}
}
