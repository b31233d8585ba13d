package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prefeitura-rio/app-sync/internal/kvstore"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"go.uber.org/zap"
)

const (
	opKeyPrefix   = "sync:op:"
	opSeqKey      = "sync:seq"
	doneKeyPrefix = "sync:done:"
)

// OperationStore persists pending operations in the key-value store and
// keeps them ordered by priority and enqueue sequence.
type OperationStore struct {
	kv           kvstore.Store
	bus          *EventBus
	logger       *logging.SafeLogger
	completedTTL time.Duration
}

// NewOperationStore creates an operation store. completedTTL bounds how long
// terminal-success markers are kept for cross-pass dependency checks.
func NewOperationStore(kv kvstore.Store, bus *EventBus, logger *logging.SafeLogger, completedTTL time.Duration) *OperationStore {
	return &OperationStore{
		kv:           kv,
		bus:          bus,
		logger:       logger,
		completedTTL: completedTTL,
	}
}

// Enqueue persists a new operation and publishes operation-enqueued.
// Storage errors surface to the caller; enqueue is never retried here.
func (s *OperationStore) Enqueue(ctx context.Context, kind, action string, payload json.RawMessage, maxRetries int, priority Priority, dependsOn []string) (*Operation, error) {
	if kind == "" {
		return nil, errors.New("operation kind is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries %d", maxRetries)
	}

	seq, err := s.kv.Incr(ctx, opSeqKey)
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}

	op := &Operation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: time.Now(),
		MaxRetries: maxRetries,
		Priority:   priority,
		DependsOn:  dependsOn,
		Seq:        uint64(seq),
	}

	if err := s.Save(ctx, op); err != nil {
		return nil, err
	}

	s.logger.Info("operation enqueued",
		zap.String("operation_id", op.ID),
		zap.String("kind", op.Kind),
		zap.String("action", op.Action),
		zap.String("priority", string(op.Priority)),
		zap.Int("depends_on", len(op.DependsOn)))

	s.bus.PublishOperationEnqueued(OperationEnqueuedEvent{Operation: *op})
	return op, nil
}

// Save persists an operation record, overwriting any previous state.
func (s *OperationStore) Save(ctx context.Context, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}
	if err := s.kv.Set(ctx, opKeyPrefix+op.ID, data, 0); err != nil {
		return fmt.Errorf("failed to persist operation: %w", err)
	}
	return nil
}

// Get returns a pending operation by id, or nil when absent.
func (s *OperationStore) Get(ctx context.Context, id string) (*Operation, error) {
	data, err := s.kv.Get(ctx, opKeyPrefix+id)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation %s: %w", id, err)
	}
	return &op, nil
}

// Pending returns a snapshot of the queue ordered by priority rank and,
// within equal priority, by enqueue sequence.
func (s *OperationStore) Pending(ctx context.Context) ([]*Operation, error) {
	records, err := s.kv.ListByPrefix(ctx, opKeyPrefix)
	if err != nil {
		return nil, err
	}

	ops := make([]*Operation, 0, len(records))
	for key, data := range records {
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			s.logger.Error("failed to unmarshal queued operation",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		ops = append(ops, &op)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority.rank() != ops[j].Priority.rank() {
			return ops[i].Priority.rank() < ops[j].Priority.rank()
		}
		return ops[i].Seq < ops[j].Seq
	})
	return ops, nil
}

// Count returns the number of pending operations.
func (s *OperationStore) Count(ctx context.Context) (int, error) {
	records, err := s.kv.ListByPrefix(ctx, opKeyPrefix)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Remove deletes an operation record.
func (s *OperationStore) Remove(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, opKeyPrefix+id)
}

// Clear drops every pending operation. Administrative use only; completion
// markers are kept so dependency checks stay correct.
func (s *OperationStore) Clear(ctx context.Context) (int, error) {
	records, err := s.kv.ListByPrefix(ctx, opKeyPrefix)
	if err != nil {
		return 0, err
	}
	for key := range records {
		if err := s.kv.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// MarkCompleted records terminal success for an operation id so later
// passes can satisfy dependency checks.
func (s *OperationStore) MarkCompleted(ctx context.Context, id string) error {
	return s.kv.Set(ctx, doneKeyPrefix+id, []byte("1"), s.completedTTL)
}

// IsCompleted reports whether an operation id reached terminal success.
func (s *OperationStore) IsCompleted(ctx context.Context, id string) (bool, error) {
	_, err := s.kv.Get(ctx, doneKeyPrefix+id)
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
