package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for graph synchronisation.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Store call metrics
	StoreCalls *prometheus.CounterVec

	// Backend metrics
	BackendOperations *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
	BackendRetries    *prometheus.CounterVec

	// Write volume
	NodesWritten prometheus.Counter
	EdgesWritten prometheus.Counter

	// Circuit breaker state: 0 closed, 1 half-open, 2 open
	BreakerState *prometheus.GaugeVec
}

// NewCollector creates the collector and registers it on registry.
// A fresh registry is created when registry is nil.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	storeCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_calls_total",
			Help:      "Store calls by terminal phase",
		},
		[]string{"phase"},
	)

	backendOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_operations_total",
			Help:      "Total number of backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	backendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Total number of retried backend operations",
		},
		[]string{"backend", "operation"},
	)

	nodesWritten := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_written_total",
			Help:      "Total number of nodes committed",
		},
	)

	edgesWritten := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_written_total",
			Help:      "Total number of edges committed",
		},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		storeCalls,
		backendOperations,
		backendDuration,
		backendRetries,
		nodesWritten,
		edgesWritten,
		breakerState,
	)

	return &Collector{
		registry:          registry,
		StoreCalls:        storeCalls,
		BackendOperations: backendOperations,
		BackendDuration:   backendDuration,
		BackendRetries:    backendRetries,
		NodesWritten:      nodesWritten,
		EdgesWritten:      edgesWritten,
		BreakerState:      breakerState,
	}
}

// RecordStoreCall counts a store call that ended in phase.
func (c *Collector) RecordStoreCall(phase string) {
	if c == nil {
		return
	}
	c.StoreCalls.WithLabelValues(phase).Inc()
}

// RecordOperation records the outcome and latency of one backend call.
func (c *Collector) RecordOperation(backend, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.BackendOperations.WithLabelValues(backend, operation, status).Inc()
	c.BackendDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordRetry counts one retry of a backend call.
func (c *Collector) RecordRetry(backend, operation string) {
	if c == nil {
		return
	}
	c.BackendRetries.WithLabelValues(backend, operation).Inc()
}

// RecordWritten adds committed node and edge counts.
func (c *Collector) RecordWritten(nodes, edges int) {
	if c == nil {
		return
	}
	c.NodesWritten.Add(float64(nodes))
	c.EdgesWritten.Add(float64(edges))
}

// SetBreakerState records the numeric circuit breaker state.
func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
