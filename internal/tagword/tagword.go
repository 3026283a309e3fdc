/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tagword holds the bit layout of a pointer-width word that carries a
// reference in its high bits and a one-bit tag in bit 0.
package tagword

import (
	"sync/atomic"
)

// MarkBit is the tag bit. References must leave it clear.
const MarkBit uintptr = 1

// Aligned reports whether ref can be packed without losing information.
func Aligned(ref uintptr) bool {
	return ref&MarkBit == 0
}

// Pack combines ref and mark. ref must be Aligned.
func Pack(ref uintptr, mark bool) uintptr {
	return ref | bit(mark)
}

// Unpack splits a packed word.
func Unpack(v uintptr) (uintptr, bool) {
	return v &^ MarkBit, v&MarkBit != 0
}

// Ref returns the reference half of v.
func Ref(v uintptr) uintptr {
	return v &^ MarkBit
}

// Marked returns the tag half of v.
func Marked(v uintptr) bool {
	return v&MarkBit != 0
}

// WithMark returns v with the tag replaced and the reference bits untouched.
func WithMark(v uintptr, mark bool) uintptr {
	return (v &^ MarkBit) | bit(mark)
}

// WithRef returns v with the reference replaced and the tag bit untouched.
func WithRef(v uintptr, ref uintptr) uintptr {
	return ref | (v & MarkBit)
}

func bit(mark bool) uintptr {
	if mark {
		return MarkBit
	}
	return 0
}

// OrMark sets the tag of *w and returns the previous packed value.
func OrMark(w *atomic.Uintptr) uintptr {
	return w.Or(MarkBit)
}

// ClearMark clears the tag of *w and returns the previous packed value.
func ClearMark(w *atomic.Uintptr) uintptr {
	return w.And(^MarkBit)
}

// FlipMark inverts the tag of *w and returns the previous packed value.
// sync/atomic has no fetch-xor, so this is a CAS loop.
func FlipMark(w *atomic.Uintptr) uintptr {
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old^MarkBit) {
			return old
		}
	}
}
