package services

import (
	"context"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/logging"
	"go.uber.org/zap"
)

// NetworkStatus classifies connectivity.
type NetworkStatus string

const (
	StatusOnline   NetworkStatus = "online"
	StatusDegraded NetworkStatus = "degraded"
	StatusOffline  NetworkStatus = "offline"
)

// Prober determines the current connectivity status. Probes must be fast;
// they run on the monitoring interval with a bounded context.
type Prober func(ctx context.Context) NetworkStatus

// NetworkMonitor observes connectivity transitions, either by probing on a
// fixed interval or by ingesting transitions pushed through SetStatus from
// an external reachability source.
type NetworkMonitor struct {
	prober   Prober
	interval time.Duration
	logger   *logging.SafeLogger

	mu     sync.RWMutex
	status NetworkStatus
	subs   map[int]func(old, new NetworkStatus)
	nextID int

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewNetworkMonitor creates a monitor. A nil prober starts online and relies
// entirely on SetStatus; otherwise the monitor starts offline until the
// first probe.
func NewNetworkMonitor(prober Prober, interval time.Duration, logger *logging.SafeLogger) *NetworkMonitor {
	status := StatusOffline
	if prober == nil {
		status = StatusOnline
	}
	return &NetworkMonitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		status:   status,
		subs:     make(map[int]func(old, new NetworkStatus)),
		stopChan: make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called. No-op without a prober.
func (m *NetworkMonitor) Start() {
	if m.prober == nil {
		return
	}

	m.logger.Info("starting network monitoring",
		zap.Duration("interval", m.interval))

	m.CheckNow()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckNow()
		case <-m.stopChan:
			m.logger.Info("network monitoring stopped")
			return
		}
	}
}

// Stop terminates the probe loop.
func (m *NetworkMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// CheckNow probes connectivity once and applies the transition.
func (m *NetworkMonitor) CheckNow() {
	if m.prober == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.SetStatus(m.prober(ctx))
}

// Status returns the current connectivity status.
func (m *NetworkMonitor) Status() NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatus applies a connectivity transition and notifies subscribers when
// the status actually changed.
func (m *NetworkMonitor) SetStatus(status NetworkStatus) {
	m.mu.Lock()
	old := m.status
	if old == status {
		m.mu.Unlock()
		return
	}
	m.status = status

	handlers := make([]func(old, new NetworkStatus), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	m.logger.Info("network status changed",
		zap.String("from", string(old)),
		zap.String("to", string(status)))

	for _, fn := range handlers {
		fn(old, status)
	}
}

// Subscribe registers a transition handler and returns its unsubscribe
// handle.
func (m *NetworkMonitor) Subscribe(fn func(old, new NetworkStatus)) *Subscription {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	m.mu.Unlock()

	return &Subscription{cancel: func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}}
}
