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

package stress

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkers        = 16
	defaultRounds         = 100
	defaultBackOffInitial = 10 * time.Microsecond
	defaultBackOffMax     = time.Millisecond

	// every worker emits exactly one outcome per round
	minQueueCapPerWorker = 1
)

// Config controls a contention run.
type Config struct {
	// Workers is the number of goroutines racing on the same word each round.
	Workers int
	// Rounds is the number of independent races.
	Rounds int
	// PoolSize bounds the goroutine pool. It must fit all workers at once,
	// since they are parked together before the race starts.
	PoolSize int
	// QueueCap is the capacity of the outcome ring buffer.
	QueueCap uint64
	// BackOff paces losers with exponential back-off instead of spinning.
	BackOff bool
	// BackOffInitial and BackOffMax bound the back-off intervals.
	BackOffInitial time.Duration
	BackOffMax     time.Duration

	// Meter and Tracer default to no-op implementations.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig returns a Config that passes VerifyConfig.
func DefaultConfig() *Config {
	return &Config{
		Workers:        defaultWorkers,
		Rounds:         defaultRounds,
		PoolSize:       defaultWorkers,
		QueueCap:       defaultWorkers * 2,
		BackOffInitial: defaultBackOffInitial,
		BackOffMax:     defaultBackOffMax,
	}
}

// VerifyConfig checks that c describes a run that can complete.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Workers < 2 {
		return fmt.Errorf("workers:%d must be at least 2 to contend", c.Workers)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds:%d must be positive", c.Rounds)
	}
	if c.PoolSize < c.Workers {
		return fmt.Errorf("pool size:%d must hold all %d workers", c.PoolSize, c.Workers)
	}
	if c.QueueCap < uint64(c.Workers*minQueueCapPerWorker) {
		return fmt.Errorf("queue cap:%d must hold one outcome per worker (%d)", c.QueueCap, c.Workers)
	}
	if c.BackOff {
		if c.BackOffInitial <= 0 || c.BackOffMax < c.BackOffInitial {
			return fmt.Errorf("back-off interval %v..%v is invalid", c.BackOffInitial, c.BackOffMax)
		}
	}
	return nil
}
