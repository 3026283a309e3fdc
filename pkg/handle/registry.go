// Package handle exposes markable words through opaque integer handles, the
// shape a foreign-function or plugin boundary needs.
package handle

import (
	"errors"
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/markable/api"
	"github.com/srediag/markable/internal/logger"
	"github.com/srediag/markable/internal/tagword"
	"github.com/srediag/markable/pkg/markable"
)

// Handle is the opaque name of a registered word.
type Handle = api.Handle

// ErrInvalidHandle is returned for handles that were never issued or are already destroyed.
var ErrInvalidHandle = errors.New("handle: invalid or destroyed handle")

var _ api.MarkableBoundary = (*Registry)(nil)

// Registry owns heap-allocated markable words on behalf of callers that only
// hold handles. It is safe for concurrent use. Precondition violations are
// returned as errors wrapping markable.ErrUnaligned instead of panicking.
type Registry struct {
	words   cmap.ConcurrentMap[Handle, *markable.Word]
	next    atomic.Uint64
	metrics *Metrics
	log     *logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records every call in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithLogger replaces the default stdout logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		words: cmap.NewWithCustomShardingFunction[Handle, *markable.Word](shard),
		log:   logger.New("handle", nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// shard spreads sequential handles over the map's shards.
func shard(h Handle) uint32 {
	return uint32((uint64(h) * 0x9e3779b97f4a7c15) >> 32)
}

// Construct allocates a word holding (ref, mark) and returns its handle.
func (r *Registry) Construct(ref uintptr, mark bool) (Handle, error) {
	r.metrics.op("construct")
	if !tagword.Aligned(ref) {
		r.metrics.fail("construct", reasonUnaligned)
		return 0, fmt.Errorf("construct %#x: %w", ref, markable.ErrUnaligned)
	}
	h := Handle(r.next.Add(1))
	r.words.Set(h, markable.NewWord(ref, mark))
	r.metrics.liveAdd(1)
	r.log.Debugf("construct handle:%d ref:%#x mark:%t", h, ref, mark)
	return h, nil
}

// Destroy frees the word behind h exactly once. The referent is not touched.
func (r *Registry) Destroy(h Handle) error {
	r.metrics.op("destroy")
	if _, ok := r.words.Pop(h); !ok {
		r.metrics.fail("destroy", reasonInvalidHandle)
		r.log.Warnf("destroy of invalid handle:%d", h)
		return fmt.Errorf("destroy %d: %w", h, ErrInvalidHandle)
	}
	r.metrics.liveAdd(-1)
	r.log.Debugf("destroy handle:%d", h)
	return nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return r.words.Count()
}

func (r *Registry) lookup(op string, h Handle) (*markable.Word, error) {
	r.metrics.op(op)
	w, ok := r.words.Get(h)
	if !ok {
		r.metrics.fail(op, reasonInvalidHandle)
		return nil, fmt.Errorf("%s %d: %w", op, h, ErrInvalidHandle)
	}
	return w, nil
}

func (r *Registry) checkRef(op string, ref uintptr) error {
	if tagword.Aligned(ref) {
		return nil
	}
	r.metrics.fail(op, reasonUnaligned)
	return fmt.Errorf("%s %#x: %w", op, ref, markable.ErrUnaligned)
}

func (r *Registry) Reference(h Handle) (uintptr, error) {
	w, err := r.lookup("reference", h)
	if err != nil {
		return 0, err
	}
	return w.Reference(), nil
}

func (r *Registry) Mark(h Handle) (bool, error) {
	w, err := r.lookup("mark", h)
	if err != nil {
		return false, err
	}
	return w.Mark(), nil
}

func (r *Registry) Both(h Handle) (uintptr, bool, error) {
	w, err := r.lookup("both", h)
	if err != nil {
		return 0, false, err
	}
	ref, mark := w.Both()
	return ref, mark, nil
}

// SetReference replaces the reference, keeping the mark, and returns the previous reference.
func (r *Registry) SetReference(h Handle, ref uintptr) (uintptr, error) {
	w, err := r.lookup("set_reference", h)
	if err != nil {
		return 0, err
	}
	if err := r.checkRef("set_reference", ref); err != nil {
		return 0, err
	}
	return w.SetReference(ref), nil
}

func (r *Registry) SetMark(h Handle, mark bool) error {
	w, err := r.lookup("set_mark", h)
	if err != nil {
		return err
	}
	w.SetMark(mark)
	return nil
}

// ToggleMark flips the mark and returns its previous value.
func (r *Registry) ToggleMark(h Handle) (bool, error) {
	w, err := r.lookup("toggle_mark", h)
	if err != nil {
		return false, err
	}
	return w.ToggleMark(), nil
}

// ExchangeMark sets the mark and returns its previous value.
func (r *Registry) ExchangeMark(h Handle, mark bool) (bool, error) {
	w, err := r.lookup("exchange_mark", h)
	if err != nil {
		return false, err
	}
	return w.ExchangeMark(mark), nil
}

// CompareAndSet installs (newRef, newMark) if h holds (expRef, expMark).
// A mismatch is reported as false with a nil error.
func (r *Registry) CompareAndSet(h Handle, expRef uintptr, expMark bool, newRef uintptr, newMark bool) (bool, error) {
	w, err := r.lookup("compare_and_set", h)
	if err != nil {
		return false, err
	}
	if err := r.checkRef("compare_and_set", newRef); err != nil {
		return false, err
	}
	if !w.CompareAndSet(expRef, expMark, newRef, newMark) {
		r.metrics.fail("compare_and_set", reasonMismatch)
		return false, nil
	}
	return true, nil
}
