package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPasses tracks completed sync passes
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_sync_passes_total",
			Help: "Number of sync passes",
		},
		[]string{"trigger"},
	)

	// OperationsProcessed tracks queued operation outcomes
	OperationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_sync_operations_total",
			Help: "Number of queued operations processed",
		},
		[]string{"kind", "status"},
	)

	// QueueDepth tracks the pending operation count
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_sync_queue_depth",
			Help: "Number of pending operations in the queue",
		},
	)

	// BreakerTransitions tracks circuit breaker state changes
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_sync_breaker_transitions_total",
			Help: "Number of circuit breaker state transitions",
		},
		[]string{"key", "state"},
	)

	// FallbackExecutions tracks fallback provider invocations
	FallbackExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_sync_fallback_executions_total",
			Help: "Number of fallback provider executions",
		},
		[]string{"key", "status"},
	)

	// EntityConflicts tracks detected entity sync conflicts
	EntityConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_sync_entity_conflicts_total",
			Help: "Number of entity sync conflicts detected",
		},
		[]string{"type"},
	)

	// RequestDuration tracks admin API request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "app_sync_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"path", "method", "status"},
	)
)
