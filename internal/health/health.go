// Package health exposes liveness and readiness endpoints for long-running
// markable processes.
package health

import (
	"errors"
	"sync/atomic"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNotReady is reported until the first result is recorded.
var ErrNotReady = errors.New("health: no result recorded yet")

// Tracker holds the outcome of the most recent unit of work.
type Tracker struct {
	last atomic.Pointer[result]
}

type result struct {
	err error
}

// Record stores err, nil meaning success.
func (t *Tracker) Record(err error) {
	t.last.Store(&result{err: err})
}

// Check is a healthcheck.Check reporting the last recorded outcome.
func (t *Tracker) Check() error {
	r := t.last.Load()
	if r == nil {
		return ErrNotReady
	}
	return r.err
}

// NewHandler serves /live and /ready. Liveness fails above maxGoroutines;
// readiness follows t. Check results are exported to reg under namespace.
func NewHandler(reg prometheus.Registerer, namespace string, maxGoroutines int, t *Tracker) healthcheck.Handler {
	h := healthcheck.NewMetricsHandler(reg, namespace)
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	h.AddReadinessCheck("last-run", t.Check)
	return h
}
