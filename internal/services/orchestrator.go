package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/observability"
	"github.com/prefeitura-rio/app-sync/internal/resilience"
	"go.uber.org/zap"
)

// ErrSyncInProgress is reported when a non-forced sync finds another pass
// already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNetworkOffline is reported when a non-forced sync finds the network
// offline.
var ErrNetworkOffline = errors.New("network offline")

// Executor runs one queued operation of a given kind. The actual transport
// call belongs to the caller registering it.
type Executor func(ctx context.Context, op *Operation) error

// SyncResult reports the outcome of one sync pass.
type SyncResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// SyncOrchestrator drains the operation queue when connectivity allows,
// executing each eligible operation through the resilience engine.
type SyncOrchestrator struct {
	store   *OperationStore
	monitor *NetworkMonitor
	engine  *resilience.Engine
	bus     *EventBus
	metrics *Metrics
	logger  *logging.SafeLogger

	interval time.Duration
	policy   resilience.Policy

	execMu    sync.RWMutex
	executors map[string]Executor

	// syncMu enforces the single-flight invariant over sync passes.
	syncMu sync.Mutex

	monitorSub *Subscription
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewSyncOrchestrator creates the orchestrator. policy selects the
// resilience behavior applied to each queued operation.
func NewSyncOrchestrator(store *OperationStore, monitor *NetworkMonitor, engine *resilience.Engine, bus *EventBus, metrics *Metrics, logger *logging.SafeLogger, interval time.Duration, policy resilience.Policy) *SyncOrchestrator {
	return &SyncOrchestrator{
		store:     store,
		monitor:   monitor,
		engine:    engine,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		policy:    policy,
		executors: make(map[string]Executor),
		stopChan:  make(chan struct{}),
	}
}

// RegisterExecutor registers the execution function for an operation kind.
func (s *SyncOrchestrator) RegisterExecutor(kind string, fn Executor) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.executors[kind] = fn
}

func (s *SyncOrchestrator) executor(kind string) Executor {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	return s.executors[kind]
}

// Start runs the periodic trigger loop and reacts to connectivity coming
// back, until Stop is called.
func (s *SyncOrchestrator) Start() {
	s.logger.Info("starting sync orchestrator",
		zap.Duration("interval", s.interval),
		zap.String("policy", string(s.policy)))

	s.monitorSub = s.monitor.Subscribe(func(old, new NetworkStatus) {
		if old != StatusOnline && new == StatusOnline {
			s.logger.Info("network back online, triggering sync")
			go func() {
				result := s.TriggerSync(context.Background(), false)
				observability.SyncPasses.WithLabelValues("network").Inc()
				s.logger.Debug("network-triggered sync finished",
					zap.Int("processed", result.Processed),
					zap.Int("failed", result.Failed))
			}()
		}
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := s.store.Count(context.Background())
			if err != nil {
				s.logger.Error("failed to count pending operations", zap.Error(err))
				continue
			}
			if count == 0 || s.monitor.Status() != StatusOnline {
				continue
			}
			s.TriggerSync(context.Background(), false)
			observability.SyncPasses.WithLabelValues("periodic").Inc()
		case <-s.stopChan:
			s.logger.Info("sync orchestrator stopped")
			return
		}
	}
}

// Stop terminates the trigger loop.
func (s *SyncOrchestrator) Stop() {
	s.stopOnce.Do(func() {
		if s.monitorSub != nil {
			s.monitorSub.Unsubscribe()
		}
		close(s.stopChan)
	})
}

// TriggerSync runs one sync pass. A non-forced trigger is rejected with a
// synthetic contention error when a pass is already running, and with a
// synthetic offline error when the network is down; a forced trigger waits
// for the running pass and ignores connectivity.
func (s *SyncOrchestrator) TriggerSync(ctx context.Context, force bool) SyncResult {
	if force {
		s.syncMu.Lock()
	} else if !s.syncMu.TryLock() {
		return SyncResult{Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer s.syncMu.Unlock()

	if !force && s.monitor.Status() == StatusOffline {
		return SyncResult{Errors: []string{ErrNetworkOffline.Error()}}
	}

	ops, err := s.store.Pending(ctx)
	if err != nil {
		return SyncResult{Errors: []string{fmt.Sprintf("failed to load queue: %v", err)}}
	}

	s.bus.PublishSyncStarted(SyncStartedEvent{QueueSize: len(ops)})
	s.metrics.RecordQueueDepth(int64(len(ops)))
	observability.QueueDepth.Set(float64(len(ops)))

	s.logger.Info("sync pass started",
		zap.Int("queue_size", len(ops)),
		zap.Bool("force", force))

	result := SyncResult{}
	doneThisPass := make(map[string]bool)

	for _, op := range ops {
		met, err := s.dependenciesMet(ctx, op, doneThisPass)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: dependency check: %v", op.ID, err))
			continue
		}
		if !met {
			// Left in the queue for a future pass; not a failure.
			s.logger.Debug("operation blocked on dependencies",
				zap.String("operation_id", op.ID),
				zap.Strings("depends_on", op.DependsOn))
			continue
		}

		if err := s.processOperation(ctx, op); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", op.ID, err))
			continue
		}

		doneThisPass[op.ID] = true
		result.Processed++
	}

	s.metrics.IncrementSyncPasses()
	s.bus.PublishSyncCompleted(SyncCompletedEvent{Result: result})

	s.logger.Info("sync pass completed",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))

	return result
}

// dependenciesMet reports whether every dependency of op reached terminal
// success in this pass or an earlier one.
func (s *SyncOrchestrator) dependenciesMet(ctx context.Context, op *Operation, doneThisPass map[string]bool) (bool, error) {
	for _, dep := range op.DependsOn {
		if doneThisPass[dep] {
			continue
		}
		done, err := s.store.IsCompleted(ctx, dep)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

// processOperation executes one operation through the resilience engine and
// applies the retry/removal lifecycle.
func (s *SyncOrchestrator) processOperation(ctx context.Context, op *Operation) error {
	start := time.Now()

	fn := s.executor(op.Kind)
	var err error
	if fn == nil {
		err = fmt.Errorf("no executor registered for kind %q", op.Kind)
	} else {
		_, err = s.engine.Execute(ctx, op.Kind, s.policy, func(ctx context.Context) (any, error) {
			return nil, fn(ctx, op)
		}, map[string]any{"operation_id": op.ID, "action": op.Action})
	}

	if err == nil {
		if removeErr := s.store.Remove(ctx, op.ID); removeErr != nil {
			return fmt.Errorf("failed to remove completed operation: %w", removeErr)
		}
		if markErr := s.store.MarkCompleted(ctx, op.ID); markErr != nil {
			return fmt.Errorf("failed to mark operation completed: %w", markErr)
		}

		s.metrics.IncrementProcessed(op.Kind)
		observability.OperationsProcessed.WithLabelValues(op.Kind, "success").Inc()

		s.logger.Info("operation processed",
			zap.String("operation_id", op.ID),
			zap.String("kind", op.Kind),
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	op.RetryCount++
	s.metrics.IncrementFailed(op.Kind)

	if op.RetryCount > op.MaxRetries {
		if removeErr := s.store.Remove(ctx, op.ID); removeErr != nil {
			return fmt.Errorf("failed to remove exhausted operation: %w", removeErr)
		}

		observability.OperationsProcessed.WithLabelValues(op.Kind, "exhausted").Inc()
		s.bus.PublishOperationFailed(OperationFailedEvent{
			OperationID: op.ID,
			Kind:        op.Kind,
			Error:       err.Error(),
		})

		s.logger.Error("operation permanently failed",
			zap.String("operation_id", op.ID),
			zap.String("kind", op.Kind),
			zap.Int("retry_count", op.RetryCount),
			zap.Error(err))
		return fmt.Errorf("permanently failed: %w", err)
	}

	if saveErr := s.store.Save(ctx, op); saveErr != nil {
		return fmt.Errorf("failed to re-persist operation: %w", saveErr)
	}

	observability.OperationsProcessed.WithLabelValues(op.Kind, "retry").Inc()
	s.logger.Warn("operation failed, will retry",
		zap.String("operation_id", op.ID),
		zap.String("kind", op.Kind),
		zap.Int("retry_count", op.RetryCount),
		zap.Int("max_retries", op.MaxRetries),
		zap.Error(err))
	return err
}
