package markable

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Pair is the part of Word and Reference[T] that retry loops need.
type Pair[R comparable] interface {
	Both() (R, bool)
	CompareAndSet(expRef R, expMark bool, newRef R, newMark bool) bool
}

// UpdateFunc computes the pair to install from the observed one.
// Returning ok == false abandons the update.
type UpdateFunc[R comparable] func(ref R, mark bool) (newRef R, newMark bool, ok bool)

var (
	_ Pair[uintptr] = (*Word)(nil)
	_ Pair[*int]    = (*Reference[int])(nil)
)

// Update reads p, asks fn for the next pair and tries to install it, re-reading
// after every lost race. It spins without backing off. On success it returns the
// pair that was replaced and true; when fn declines it returns the last observed
// pair and false.
func Update[R comparable](p Pair[R], fn UpdateFunc[R]) (R, bool, bool) {
	for {
		ref, mark := p.Both()
		newRef, newMark, ok := fn(ref, mark)
		if !ok {
			return ref, mark, false
		}
		if p.CompareAndSet(ref, mark, newRef, newMark) {
			return ref, mark, true
		}
	}
}

// UpdateBackOff is Update paced by b between lost races. It stops with ErrAborted
// when fn declines, with ctx.Err() when ctx is done and with ErrContended when b
// gives up. On success it returns the pair that was replaced.
func UpdateBackOff[R comparable](ctx context.Context, p Pair[R], fn UpdateFunc[R], b backoff.BackOff) (R, bool, error) {
	var (
		prevRef  R
		prevMark bool
	)
	op := func() error {
		ref, mark := p.Both()
		newRef, newMark, ok := fn(ref, mark)
		prevRef, prevMark = ref, mark
		if !ok {
			return backoff.Permanent(ErrAborted)
		}
		if !p.CompareAndSet(ref, mark, newRef, newMark) {
			return ErrContended
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return prevRef, prevMark, err
	}
	return prevRef, prevMark, nil
}
