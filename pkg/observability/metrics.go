// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus registry backing the turn loop and task
// manager's counters and histograms. A nil *Metrics is valid and every
// Record* method becomes a no-op against it, so callers that never wire
// observability in can hold a nil pointer instead of branching.
type Metrics struct {
	turnsTotal    *prometheus.CounterVec
	turnErrors    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	tasksSpawned  *prometheus.CounterVec
	tasksTerminal *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics builds a Metrics instance, or returns nil without error
// when cfg disables metrics.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "agentloop",
		Name:      "turns_total",
		Help:      "Total ACTOR_CRITIC_LOOP turns dispatched.",
	}, []string{"conversation"})

	m.turnErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "agentloop",
		Name:      "turn_errors_total",
		Help:      "Turns that ended in an LLM call error.",
	}, []string{"conversation"})

	m.turnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "agentloop",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of one ACTOR_CRITIC_LOOP turn.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"conversation"})

	m.tasksSpawned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "task",
		Name:      "spawned_total",
		Help:      "Background tasks admitted for dispatch.",
	}, []string{"type"})

	m.tasksTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "task",
		Name:      "terminal_total",
		Help:      "Background tasks that reached a terminal state.",
	}, []string{"type", "state"})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration from a task's running mark to its terminal mark.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"type"})

	m.registry.MustRegister(
		m.turnsTotal, m.turnErrors, m.turnDuration,
		m.tasksSpawned, m.tasksTerminal, m.taskDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("observability: metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records one ACTOR_CRITIC_LOOP turn's duration and outcome.
func (m *Metrics) RecordTurn(conversationName string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(conversationName).Inc()
	m.turnDuration.WithLabelValues(conversationName).Observe(duration.Seconds())
	if err != nil {
		m.turnErrors.WithLabelValues(conversationName).Inc()
	}
}

// RecordTaskSpawned records a task's admission into the dispatcher.
func (m *Metrics) RecordTaskSpawned(taskType string) {
	if m == nil {
		return
	}
	m.tasksSpawned.WithLabelValues(taskType).Inc()
}

// RecordTaskTerminal records a task reaching a terminal state
// (succeeded, failed, or cancelled) and the wall-clock time it spent
// running.
func (m *Metrics) RecordTaskTerminal(taskType, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksTerminal.WithLabelValues(taskType, state).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}
