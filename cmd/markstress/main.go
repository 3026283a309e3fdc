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

// Command markstress races goroutines on markable words and reports any lost
// or duplicated update. With -listen it keeps racing and serves health and
// metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/markable/internal/health"
	"github.com/srediag/markable/internal/logger"
	"github.com/srediag/markable/internal/stress"
)

const namespace = "markstress"

var log = logger.New("markstress", os.Stderr)

type metrics struct {
	runs       prometheus.Counter
	violations prometheus.Counter
	retries    prometheus.Counter
	lastRun    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Completed stress runs.",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "violations_total", Help: "Linearizability violations found.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_total", Help: "Compare-and-set retries by losing workers.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_seconds", Help: "Duration of the most recent run.",
		}),
	}
	reg.MustRegister(m.runs, m.violations, m.retries, m.lastRun)
	return m
}

func (m *metrics) observe(res *stress.Result) {
	m.runs.Inc()
	m.violations.Add(float64(len(res.Violations)))
	m.retries.Add(float64(res.Retries))
	m.lastRun.Set(res.Elapsed.Seconds())
}

func main() {
	cfg := stress.DefaultConfig()
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines racing on one word")
	flag.IntVar(&cfg.Rounds, "rounds", cfg.Rounds, "races per run")
	flag.IntVar(&cfg.PoolSize, "pool", 0, "goroutine pool size (default: workers)")
	flag.BoolVar(&cfg.BackOff, "backoff", cfg.BackOff, "pace losing workers with exponential back-off")
	flag.DurationVar(&cfg.BackOffInitial, "backoff-initial", cfg.BackOffInitial, "first back-off interval")
	flag.DurationVar(&cfg.BackOffMax, "backoff-max", cfg.BackOffMax, "largest back-off interval")
	listen := flag.String("listen", "", "serve /live, /ready and /metrics here and repeat runs until interrupted")
	interval := flag.Duration("interval", time.Second, "pause between runs with -listen")
	level := flag.Int("log-level", logger.Level(), "0 trace .. 5 silent")
	flag.Parse()

	logger.SetLevel(*level)
	if cfg.PoolSize == 0 {
		cfg.PoolSize = cfg.Workers
	}
	cfg.QueueCap = uint64(cfg.Workers) * 2
	if err := stress.VerifyConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "markstress:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *listen == "" {
		err = runOnce(ctx, cfg)
	} else {
		err = soak(ctx, cfg, *listen, *interval)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "markstress:", err)
		stop()
		os.Exit(1)
	}
}

var errViolations = errors.New("violations found")

func runOnce(ctx context.Context, cfg *stress.Config) error {
	res, err := stress.Run(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := res.WriteTo(os.Stdout); err != nil {
		return err
	}
	if !res.OK() {
		return errViolations
	}
	return nil
}

func soak(ctx context.Context, cfg *stress.Config, addr string, interval time.Duration) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := newMetrics(reg)
	var tracker health.Tracker

	mux := http.NewServeMux()
	hc := health.NewHandler(reg, namespace, 10000, &tracker)
	mux.HandleFunc("/live", hc.LiveEndpoint)
	mux.HandleFunc("/ready", hc.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("listen %s: %v", addr, err)
		}
	}()
	log.Infof("serving on %s", addr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := stress.Run(ctx, cfg)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			tracker.Record(err)
			return err
		case !res.OK():
			tracker.Record(errViolations)
			_, _ = res.WriteTo(os.Stdout)
		default:
			tracker.Record(nil)
		}
		m.observe(res)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
