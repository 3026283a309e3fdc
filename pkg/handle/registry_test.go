package handle

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/markable/internal/logger"
	"github.com/srediag/markable/pkg/markable"
)

// syncBuffer is written by concurrent registry calls.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type RegistryTestSuite struct {
	suite.Suite
	metrics *Metrics
	logs    *syncBuffer
	reg     *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.metrics = NewMetrics("test")
	s.logs = &syncBuffer{}
	s.reg = NewRegistry(WithMetrics(s.metrics), WithLogger(logger.New("handle", s.logs)))
}

func (s *RegistryTestSuite) counter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	s.Require().NoError(c.Write(m))
	return m.GetCounter().GetValue()
}

func (s *RegistryTestSuite) live() float64 {
	m := &dto.Metric{}
	s.Require().NoError(s.metrics.live.Write(m))
	return m.GetGauge().GetValue()
}

func (s *RegistryTestSuite) TestScenario() {
	h, err := s.reg.Construct(0x1000, false)
	s.Require().NoError(err)
	s.Require().NotZero(h)

	mark, err := s.reg.Mark(h)
	s.Require().NoError(err)
	s.Require().False(mark)
	ref, err := s.reg.Reference(h)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x1000), ref)

	s.Require().NoError(s.reg.SetMark(h, true))
	ref, mark, err = s.reg.Both(h)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x1000), ref)
	s.Require().True(mark)

	ok, err := s.reg.CompareAndSet(h, 0x1000, true, 0x2000, false)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.reg.CompareAndSet(h, 0x1000, true, 0x3000, true)
	s.Require().NoError(err)
	s.Require().False(ok)
	ref, mark, err = s.reg.Both(h)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x2000), ref)
	s.Require().False(mark)

	s.Require().Equal(float64(1), s.counter(s.metrics.failures.WithLabelValues("compare_and_set", reasonMismatch)))
	s.Require().Equal(float64(2), s.counter(s.metrics.operations.WithLabelValues("compare_and_set")))
}

func (s *RegistryTestSuite) TestMarkOperations() {
	h, err := s.reg.Construct(0x40, true)
	s.Require().NoError(err)

	prev, err := s.reg.ToggleMark(h)
	s.Require().NoError(err)
	s.Require().True(prev)
	prev, err = s.reg.ToggleMark(h)
	s.Require().NoError(err)
	s.Require().False(prev)

	prev, err = s.reg.ExchangeMark(h, false)
	s.Require().NoError(err)
	s.Require().True(prev)

	old, err := s.reg.SetReference(h, 0x80)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x40), old)
	ref, mark, err := s.reg.Both(h)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x80), ref)
	s.Require().False(mark)
}

func (s *RegistryTestSuite) TestUnalignedReferenceIsAnError() {
	_, err := s.reg.Construct(0x1001, false)
	s.Require().ErrorIs(err, markable.ErrUnaligned)
	s.Require().Equal(0, s.reg.Len())

	h, err := s.reg.Construct(0x1000, true)
	s.Require().NoError(err)

	_, err = s.reg.SetReference(h, 0x2001)
	s.Require().ErrorIs(err, markable.ErrUnaligned)
	_, err = s.reg.CompareAndSet(h, 0x1000, true, 0x2001, false)
	s.Require().ErrorIs(err, markable.ErrUnaligned)

	ref, mark, err := s.reg.Both(h)
	s.Require().NoError(err)
	s.Require().Equal(uintptr(0x1000), ref)
	s.Require().True(mark)
	s.Require().Equal(float64(1), s.counter(s.metrics.failures.WithLabelValues("construct", reasonUnaligned)))
}

func (s *RegistryTestSuite) TestDestroy() {
	old := logger.Level()
	logger.SetLevel(logger.LevelWarn)
	defer logger.SetLevel(old)

	h, err := s.reg.Construct(0x10, false)
	s.Require().NoError(err)
	s.Require().Equal(1, s.reg.Len())
	s.Require().Equal(float64(1), s.live())

	s.Require().NoError(s.reg.Destroy(h))
	s.Require().Equal(0, s.reg.Len())
	s.Require().Equal(float64(0), s.live())

	s.Require().ErrorIs(s.reg.Destroy(h), ErrInvalidHandle)
	s.Require().Contains(s.logs.String(), "destroy of invalid handle")

	_, err = s.reg.Reference(h)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	_, err = s.reg.Mark(h)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	_, _, err = s.reg.Both(h)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	_, err = s.reg.SetReference(h, 0x20)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	s.Require().ErrorIs(s.reg.SetMark(h, true), ErrInvalidHandle)
	_, err = s.reg.ToggleMark(h)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	_, err = s.reg.ExchangeMark(h, true)
	s.Require().ErrorIs(err, ErrInvalidHandle)
	_, err = s.reg.CompareAndSet(h, 0x10, false, 0x20, false)
	s.Require().ErrorIs(err, ErrInvalidHandle)

	_, err = s.reg.Reference(0)
	s.Require().ErrorIs(err, ErrInvalidHandle)
}

func (s *RegistryTestSuite) TestDestroyExactlyOnce() {
	h, err := s.reg.Construct(0x10, false)
	s.Require().NoError(err)

	const callers = 16
	var (
		wg    sync.WaitGroup
		freed atomic.Int32
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if s.reg.Destroy(h) == nil {
				freed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(int32(1), freed.Load())
	s.Require().Equal(float64(0), s.live())
}

func (s *RegistryTestSuite) TestConcurrentConstructDestroy() {
	const (
		goroutines = 8
		perWorker  = 200
	)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles = make(map[Handle]bool)
	)
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h, err := s.reg.Construct(uintptr(g*perWorker+i)<<1, i%2 == 0)
				if err != nil {
					s.T().Errorf("construct: %v", err)
					return
				}
				mu.Lock()
				if handles[h] {
					s.T().Errorf("handle %d issued twice", h)
				}
				handles[h] = true
				mu.Unlock()
				if i%2 == 1 {
					if err := s.reg.Destroy(h); err != nil {
						s.T().Errorf("destroy: %v", err)
					}
				}
			}
		}(g)
	}
	wg.Wait()
	s.Require().Len(handles, goroutines*perWorker)
	s.Require().Equal(goroutines*perWorker/2, s.reg.Len())
	s.Require().Equal(float64(goroutines*perWorker/2), s.live())
}

func (s *RegistryTestSuite) TestMetricsRegister() {
	reg := prometheus.NewRegistry()
	s.Require().NoError(reg.Register(s.metrics))
	_, err := s.reg.Construct(0x10, false)
	s.Require().NoError(err)

	families, err := reg.Gather()
	s.Require().NoError(err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	s.Require().Contains(names, "test_handle_operations_total")
	s.Require().Contains(names, "test_handle_live")
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}

func TestRegistryWithoutOptions(t *testing.T) {
	r := NewRegistry()
	h, err := r.Construct(0x10, true)
	if err != nil {
		t.Fatal(err)
	}
	if mark, err := r.Mark(h); err != nil || !mark {
		t.Fatalf("mark = %v, %v", mark, err)
	}
	if err := r.Destroy(h); err != nil {
		t.Fatal(err)
	}
}
