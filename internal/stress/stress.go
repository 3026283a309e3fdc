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

// Package stress races goroutines on a markable word and checks that every
// compare-and-set succeeded exactly once and replaced a distinct pair.
package stress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sys/cpu"

	"github.com/srediag/markable/internal/logger"
	"github.com/srediag/markable/pkg/markable"
)

const maxViolations = 32

var log = logger.New("stress", nil)

// paddedCounter keeps each worker's counter on its own cache line.
type paddedCounter struct {
	_ cpu.CacheLinePad
	n atomic.Uint64
	_ cpu.CacheLinePad
}

type outcome struct {
	worker   int
	first    bool
	prevRef  uintptr
	prevMark bool
	err      error
}

// Result summarizes a run.
type Result struct {
	Workers    int
	Rounds     int
	FirstWins  int
	Successes  int
	Retries    uint64
	Violations []string
	Elapsed    time.Duration
	Host       HostInfo
}

// OK reports whether no violation was found.
func (r *Result) OK() bool {
	return len(r.Violations) == 0
}

func (r *Result) violate(format string, a ...interface{}) {
	if len(r.Violations) >= maxViolations {
		return
	}
	v := fmt.Sprintf(format, a...)
	log.Errorf("%s", v)
	r.Violations = append(r.Violations, v)
}

type runner struct {
	cfg      *Config
	pool     *ants.Pool
	outcomes *queuepkg.RingBuffer
	retries  []paddedCounter
	attempts metric.Int64Counter
}

// Run executes cfg.Rounds races. A nil cfg means DefaultConfig.
// Violations are reported in the Result, not as an error.
func Run(ctx context.Context, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	meter := cfg.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("markable/stress")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("markable/stress")
	}
	ctx, span := tracer.Start(ctx, "stress.Run")
	defer span.End()

	attempts, err := meter.Int64Counter("markable.stress.cas_attempts")
	if err != nil {
		return nil, fmt.Errorf("stress: create counter: %w", err)
	}
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("stress: create pool: %w", err)
	}
	defer pool.Release()

	outcomes := queuepkg.NewRingBuffer(cfg.QueueCap)
	defer outcomes.Dispose()

	r := &runner{
		cfg:      cfg,
		pool:     pool,
		outcomes: outcomes,
		retries:  make([]paddedCounter, cfg.Workers),
		attempts: attempts,
	}
	res := &Result{Workers: cfg.Workers, Host: CollectHost()}
	start := time.Now()
	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		if err := r.round(ctx, round, res); err != nil {
			span.RecordError(err)
			res.Elapsed = time.Since(start)
			return res, err
		}
		res.Rounds++
	}
	res.Elapsed = time.Since(start)
	for i := range r.retries {
		res.Retries += r.retries[i].n.Load()
	}
	log.Infof("run finished workers:%d rounds:%d retries:%d violations:%d elapsed:%v",
		res.Workers, res.Rounds, res.Retries, len(res.Violations), res.Elapsed)
	return res, nil
}

// desired is the pair worker i installs on top of base. Pairs are distinct
// per worker and never equal base.
func desired(base uintptr, i int) (uintptr, bool) {
	return base + uintptr(i+1)*2, i%2 == 0
}

func (r *runner) round(ctx context.Context, round int, res *Result) error {
	base := uintptr(round+1) << 20
	w := markable.NewWord(base, false)

	var ready, done sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < r.cfg.Workers; i++ {
		i := i
		ready.Add(1)
		done.Add(1)
		err := r.pool.Submit(func() {
			defer done.Done()
			ready.Done()
			<-gate
			r.race(ctx, w, base, i)
		})
		if err != nil {
			ready.Done()
			done.Done()
			close(gate)
			done.Wait()
			r.drain()
			return fmt.Errorf("stress: submit worker %d: %w", i, err)
		}
	}
	ready.Wait()
	close(gate)
	done.Wait()

	return r.check(w, base, round, res)
}

func (r *runner) race(ctx context.Context, w *markable.Word, base uintptr, i int) {
	newRef, newMark := desired(base, i)
	r.attempts.Add(ctx, 1)
	if w.CompareAndSet(base, false, newRef, newMark) {
		r.emit(outcome{worker: i, first: true, prevRef: base})
		return
	}

	calls := uint64(0)
	fn := func(uintptr, bool) (uintptr, bool, bool) {
		calls++
		r.attempts.Add(ctx, 1)
		return newRef, newMark, true
	}
	var (
		prevRef  uintptr
		prevMark bool
		err      error
	)
	if r.cfg.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.cfg.BackOffInitial
		b.MaxInterval = r.cfg.BackOffMax
		b.MaxElapsedTime = 0
		prevRef, prevMark, err = markable.UpdateBackOff[uintptr](ctx, w, fn, b)
	} else {
		prevRef, prevMark, _ = markable.Update[uintptr](w, fn)
	}
	if calls > 1 {
		r.retries[i].n.Add(calls - 1)
	}
	r.emit(outcome{worker: i, prevRef: prevRef, prevMark: prevMark, err: err})
}

func (r *runner) emit(o outcome) {
	if err := r.outcomes.Put(o); err != nil {
		log.Warnf("drop outcome of worker:%d: %v", o.worker, err)
	}
}

func (r *runner) drain() []outcome {
	n := r.outcomes.Len()
	out := make([]outcome, 0, n)
	for ; n > 0; n-- {
		item, err := r.outcomes.Get()
		if err != nil {
			break
		}
		out = append(out, item.(outcome))
	}
	return out
}

// check verifies one round: exactly one worker won from base, every worker
// eventually succeeded once, and the replaced pairs form a single chain.
func (r *runner) check(w *markable.Word, base uintptr, round int, res *Result) error {
	outcomes := r.drain()
	if len(outcomes) != r.cfg.Workers {
		res.violate("round %d: %d outcomes for %d workers", round, len(outcomes), r.cfg.Workers)
	}

	firsts := 0
	replaced := make(map[uintptr]int, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			return fmt.Errorf("stress: round %d worker %d: %w", round, o.worker, o.err)
		}
		res.Successes++
		if o.first {
			firsts++
			res.FirstWins++
		} else {
			j := int((o.prevRef-base)/2) - 1
			if o.prevRef <= base || j >= r.cfg.Workers || j == o.worker {
				res.violate("round %d: worker %d replaced unknown pair (%#x, %t)", round, o.worker, o.prevRef, o.prevMark)
				continue
			}
			if _, mark := desired(base, j); mark != o.prevMark {
				res.violate("round %d: worker %d replaced (%#x, %t), a torn pair", round, o.worker, o.prevRef, o.prevMark)
			}
		}
		if by, dup := replaced[o.prevRef]; dup {
			res.violate("round %d: pair %#x replaced by workers %d and %d", round, o.prevRef, by, o.worker)
		}
		replaced[o.prevRef] = o.worker
	}
	if firsts != 1 {
		res.violate("round %d: %d workers won from the start pair", round, firsts)
	}

	final, finalMark := w.Both()
	if by, ok := replaced[final]; ok {
		res.violate("round %d: final pair %#x was already replaced by worker %d", round, final, by)
	}
	if j := int((final-base)/2) - 1; final <= base || j >= r.cfg.Workers {
		res.violate("round %d: final pair %#x was never installed", round, final)
	} else if _, mark := desired(base, j); mark != finalMark {
		res.violate("round %d: final pair (%#x, %t) is torn", round, final, finalMark)
	}
	return nil
}
