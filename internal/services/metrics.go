package services

import (
	"sync"
	"time"
)

// Metrics holds in-process counters for the sync subsystem, exposed through
// the admin API. Prometheus metrics live in internal/observability.
type Metrics struct {
	mu sync.RWMutex

	queueDepth   int64
	syncPasses   int64
	processed    map[string]int64
	failed       map[string]int64
	conflicts    map[string]int64
	lastSyncTime time.Time
}

// NewMetrics creates empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		processed: make(map[string]int64),
		failed:    make(map[string]int64),
		conflicts: make(map[string]int64),
	}
}

// RecordQueueDepth records the current queue depth.
func (m *Metrics) RecordQueueDepth(depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = depth
}

// QueueDepth returns the last recorded queue depth.
func (m *Metrics) QueueDepth() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueDepth
}

// IncrementSyncPasses counts a completed sync pass.
func (m *Metrics) IncrementSyncPasses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncPasses++
	m.lastSyncTime = time.Now()
}

// IncrementProcessed counts a successfully processed operation by kind.
func (m *Metrics) IncrementProcessed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[kind]++
}

// IncrementFailed counts a failed operation attempt by kind.
func (m *Metrics) IncrementFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[kind]++
}

// IncrementConflicts counts a detected entity conflict by type.
func (m *Metrics) IncrementConflicts(entityType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[entityType]++
}

// LastSyncTime returns when the last sync pass completed.
func (m *Metrics) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSyncTime
}

// GetAllMetrics returns all metrics as a map for monitoring.
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{})
	metrics["sync_queue_depth"] = m.queueDepth
	metrics["sync_passes_total"] = m.syncPasses
	if !m.lastSyncTime.IsZero() {
		metrics["sync_last_pass"] = m.lastSyncTime
	}

	for kind, count := range m.processed {
		metrics["sync_operations_processed_"+kind] = count
	}
	for kind, count := range m.failed {
		metrics["sync_operations_failed_"+kind] = count
	}
	for entityType, count := range m.conflicts {
		metrics["sync_entity_conflicts_"+entityType] = count
	}
	return metrics
}
