// Package metrics exposes Prometheus collectors for sync activity. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsgraph"

// Metrics holds the sync collectors.
type Metrics struct {
	eventsHandled    *prometheus.CounterVec
	documentsWritten *prometheus.CounterVec
	syncErrors       *prometheus.CounterVec
	flushDuration    *prometheus.HistogramVec
	containersSynced *prometheus.CounterVec
	workersActive    prometheus.Gauge
	workerRestarts   prometheus.Counter
}

// MustNew constructs Metrics registered with reg. Collectors already
// registered under the same name are reused, so constructing twice against
// one registry is safe. Any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Change events handled, by event type and status.",
		}, []string{"event_type", "status"}),
		documentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Documents sent to the graph store, by collection and result.",
		}, []string{"collection", "result"}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Isolated sync failures, by kind and stage.",
		}, []string{"kind", "stage"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one collection batch to the graph store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "status"}),
		containersSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_containers_total",
			Help:      "Workspaces processed by backfill runs, by outcome.",
		}, []string{"outcome"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Event consumer workers currently running.",
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Event consumer workers restarted after a crash.",
		}),
	}

	m.eventsHandled = register(reg, m.eventsHandled)
	m.documentsWritten = register(reg, m.documentsWritten)
	m.syncErrors = register(reg, m.syncErrors)
	m.flushDuration = register(reg, m.flushDuration)
	m.containersSynced = register(reg, m.containersSynced)
	m.workersActive = register(reg, m.workersActive)
	m.workerRestarts = register(reg, m.workerRestarts)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// EventHandled counts one handled change event.
func (m *Metrics) EventHandled(eventType, status string) {
	if m == nil {
		return
	}
	m.eventsHandled.WithLabelValues(eventType, status).Inc()
}

// DocumentsWritten counts a store write result for collection.
func (m *Metrics) DocumentsWritten(collection string, created, updated, ignored int) {
	if m == nil {
		return
	}
	m.documentsWritten.WithLabelValues(collection, "created").Add(float64(created))
	m.documentsWritten.WithLabelValues(collection, "updated").Add(float64(updated))
	m.documentsWritten.WithLabelValues(collection, "ignored").Add(float64(ignored))
}

// SyncError counts one isolated failure.
func (m *Metrics) SyncError(kind, stage string) {
	if m == nil {
		return
	}
	m.syncErrors.WithLabelValues(kind, stage).Inc()
}

// ObserveFlush records the duration of one collection flush.
func (m *Metrics) ObserveFlush(collection string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.flushDuration.WithLabelValues(collection, status).Observe(d.Seconds())
}

// ContainerSynced counts one backfilled workspace.
func (m *Metrics) ContainerSynced(outcome string) {
	if m == nil {
		return
	}
	m.containersSynced.WithLabelValues(outcome).Inc()
}

// WorkerStarted increments the active worker gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersActive.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.workersActive.Dec()
}

// WorkerRestarted counts one worker restart.
func (m *Metrics) WorkerRestarted() {
	if m == nil {
		return
	}
	m.workerRestarts.Inc()
}
