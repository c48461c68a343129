// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curioloop/largemin/internal/runs"
)

// metrics holds the Prometheus collectors on a private registry, so an
// embedding process never collides with the default one.
type metrics struct {
	registry *prometheus.Registry

	runsStarted prometheus.Counter
	runsDone    *prometheus.CounterVec
	iterations  prometheus.Counter
	evaluations prometheus.Counter
	duration    prometheus.Histogram
}

func newMetrics(activeRuns func() float64) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "largemin_runs_started_total",
			Help: "Number of runs started.",
		}),
		runsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "largemin_runs_finished_total",
			Help: "Number of runs finished, by terminal state.",
		}, []string{"state"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "largemin_iterations_total",
			Help: "Number of accepted iterations across all runs.",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "largemin_evaluations_total",
			Help: "Number of objective evaluations across all runs.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "largemin_run_duration_seconds",
			Help:    "Wall time of finished runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "largemin_runs_active",
		Help: "Number of runs currently executing.",
	}, activeRuns)

	m.registry.MustRegister(m.runsStarted, m.runsDone, m.iterations, m.evaluations, m.duration, active)
	return m
}

// handler serves the private registry.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe counts one manager event.
func (m *metrics) observe(ev runs.Event) {
	if ev.State == runs.StateRunning {
		m.iterations.Inc()
	}
}

// finished settles the counters of a terminal run.
func (m *metrics) finished(run runs.Run) {
	m.runsDone.WithLabelValues(string(run.State)).Inc()
	m.evaluations.Add(float64(run.NumEval))
	if run.EndTime != nil {
		m.duration.Observe(run.EndTime.Sub(run.StartTime).Seconds())
	}
}
