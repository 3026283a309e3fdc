package markable

import (
	"errors"
	"fmt"
)

var (
	// ErrUnaligned is matched by every *AlignmentError.
	ErrUnaligned = errors.New("markable: reference has the mark bit set")
	// ErrAborted is returned by UpdateBackOff when the update function declines.
	ErrAborted = errors.New("markable: update aborted")
	// ErrContended is returned by UpdateBackOff when the back-off policy gives up.
	ErrContended = errors.New("markable: update gave up under contention")
)

// AlignmentError is the panic value raised for a reference with its low bit set.
type AlignmentError struct {
	Op  string
	Ref uintptr
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("markable: %s: reference %#x has the mark bit set", e.Op, e.Ref)
}

// Is reports ErrUnaligned as a match.
func (e *AlignmentError) Is(target error) bool {
	return target == ErrUnaligned
}
