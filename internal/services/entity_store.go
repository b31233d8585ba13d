package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prefeitura-rio/app-sync/internal/kvstore"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/observability"
	"go.uber.org/zap"
)

// SyncStatus is the sync state of a versioned entity.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// ConflictStrategy selects how a local/remote divergence is resolved.
type ConflictStrategy string

const (
	StrategyLocal  ConflictStrategy = "local"
	StrategyRemote ConflictStrategy = "remote"
	StrategyMerge  ConflictStrategy = "merge"
	StrategyManual ConflictStrategy = "manual"
)

// Entity is a versioned piece of application data subject to two-way sync.
// Data is opaque; type-specific (de)serialization belongs to the caller.
type Entity struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	Data         json.RawMessage `json:"data"`
	LastModified time.Time       `json:"last_modified"`
	Version      int64           `json:"version"`
	SyncStatus   SyncStatus      `json:"sync_status"`
	ContentHash  string          `json:"content_hash"`
}

// RemoteConflictError signals that the remote holds a newer version of the
// entity. Conflicts are a terminal sync outcome, not a retriable failure.
type RemoteConflictError struct {
	Remote *Entity
}

func (e *RemoteConflictError) Error() string {
	return fmt.Sprintf("remote version conflict for %s/%s: remote has version %d",
		e.Remote.Type, e.Remote.ID, e.Remote.Version)
}

// RemoteSyncHandler pushes an entity to the remote side. Implementations
// return a RemoteConflictError when the remote disagrees.
type RemoteSyncHandler interface {
	SyncEntity(ctx context.Context, entity *Entity) error
}

// Enqueuer schedules a durable operation; satisfied by OperationStore.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, action string, payload json.RawMessage, maxRetries int, priority Priority, dependsOn []string) (*Operation, error)
}

// OpKindEntitySync is the operation kind used to schedule entity syncs.
const OpKindEntitySync = "entity-sync"

const entityKeyPrefix = "entity:"

type entitySyncPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// EntityStore persists versioned, content-hashed entities and resolves
// conflicts between local and remote copies.
type EntityStore struct {
	kv       kvstore.Store
	enqueuer Enqueuer
	metrics  *Metrics
	logger   *logging.SafeLogger

	handlerMu      sync.RWMutex
	handlers       map[string]RemoteSyncHandler
	defaultHandler RemoteSyncHandler

	syncTimeout time.Duration
	maxRetries  int
}

// NewEntityStore creates an entity store. A nil enqueuer disables sync
// scheduling (useful for read-only tooling and tests).
func NewEntityStore(kv kvstore.Store, enqueuer Enqueuer, metrics *Metrics, logger *logging.SafeLogger, syncTimeout time.Duration, maxRetries int) *EntityStore {
	return &EntityStore{
		kv:          kv,
		enqueuer:    enqueuer,
		metrics:     metrics,
		logger:      logger,
		handlers:    make(map[string]RemoteSyncHandler),
		syncTimeout: syncTimeout,
		maxRetries:  maxRetries,
	}
}

// RegisterHandler registers the remote-sync handler for an entity type.
func (s *EntityStore) RegisterHandler(entityType string, handler RemoteSyncHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[entityType] = handler
}

// RegisterDefaultHandler sets the handler used for types without a
// dedicated registration.
func (s *EntityStore) RegisterDefaultHandler(handler RemoteSyncHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.defaultHandler = handler
}

func (s *EntityStore) handler(entityType string) RemoteSyncHandler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	if h, ok := s.handlers[entityType]; ok {
		return h
	}
	return s.defaultHandler
}

func entityKey(entityType, id string) string {
	return entityKeyPrefix + entityType + ":" + id
}

func contentHash(data json.RawMessage) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Put stores a local write. An unchanged content hash is a no-op; otherwise
// the version is bumped, the status returns to pending and a sync operation
// is scheduled.
func (s *EntityStore) Put(ctx context.Context, entityType, id string, data json.RawMessage) (*Entity, error) {
	if entityType == "" || id == "" {
		return nil, errors.New("entity type and id are required")
	}

	hash := contentHash(data)

	existing, err := s.Get(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ContentHash == hash {
		s.logger.Debug("no-op write, content unchanged",
			zap.String("type", entityType),
			zap.String("id", id))
		return existing, nil
	}

	version := int64(1)
	if existing != nil {
		version = existing.Version + 1
	}

	entity := &Entity{
		Type:         entityType,
		ID:           id,
		Data:         data,
		LastModified: time.Now(),
		Version:      version,
		SyncStatus:   SyncStatusPending,
		ContentHash:  hash,
	}

	if err := s.save(ctx, entity); err != nil {
		return nil, err
	}

	s.logger.Info("entity written",
		zap.String("type", entityType),
		zap.String("id", id),
		zap.Int64("version", version))

	if err := s.scheduleSync(ctx, entity); err != nil {
		return entity, fmt.Errorf("entity persisted but sync scheduling failed: %w", err)
	}
	return entity, nil
}

func (s *EntityStore) save(ctx context.Context, entity *Entity) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	if err := s.kv.Set(ctx, entityKey(entity.Type, entity.ID), data, 0); err != nil {
		return fmt.Errorf("failed to persist entity: %w", err)
	}
	return nil
}

func (s *EntityStore) scheduleSync(ctx context.Context, entity *Entity) error {
	if s.enqueuer == nil {
		return nil
	}

	payload, err := json.Marshal(entitySyncPayload{Type: entity.Type, ID: entity.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	_, err = s.enqueuer.Enqueue(ctx, OpKindEntitySync, entity.Type, payload, s.maxRetries, PriorityMedium, nil)
	return err
}

// Get returns the entity at (type, id), or nil when absent.
func (s *EntityStore) Get(ctx context.Context, entityType, id string) (*Entity, error) {
	data, err := s.kv.Get(ctx, entityKey(entityType, id))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entity Entity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity %s/%s: %w", entityType, id, err)
	}
	return &entity, nil
}

// ListByType returns all entities of a type, most recently modified first.
func (s *EntityStore) ListByType(ctx context.Context, entityType string) ([]*Entity, error) {
	records, err := s.kv.ListByPrefix(ctx, entityKeyPrefix+entityType+":")
	if err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0, len(records))
	for key, data := range records {
		var entity Entity
		if err := json.Unmarshal(data, &entity); err != nil {
			s.logger.Error("failed to unmarshal stored entity",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		entities = append(entities, &entity)
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].LastModified.After(entities[j].LastModified)
	})
	return entities, nil
}

// Delete removes the entity at (type, id).
func (s *EntityStore) Delete(ctx context.Context, entityType, id string) error {
	return s.kv.Delete(ctx, entityKey(entityType, id))
}

// SyncEntity pushes the entity to its remote handler under a bounded wait.
// Success marks the entity synced; a remote conflict marks it conflict; any
// other failure leaves the status untouched and returns false.
func (s *EntityStore) SyncEntity(ctx context.Context, entity *Entity) (bool, error) {
	handler := s.handler(entity.Type)
	if handler == nil {
		return false, fmt.Errorf("no sync handler registered for type %q", entity.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	err := handler.SyncEntity(ctx, entity)
	if err == nil {
		entity.SyncStatus = SyncStatusSynced
		if saveErr := s.save(ctx, entity); saveErr != nil {
			return false, saveErr
		}
		s.logger.Info("entity synced",
			zap.String("type", entity.Type),
			zap.String("id", entity.ID),
			zap.Int64("version", entity.Version))
		return true, nil
	}

	var conflict *RemoteConflictError
	if errors.As(err, &conflict) {
		entity.SyncStatus = SyncStatusConflict
		if saveErr := s.save(ctx, entity); saveErr != nil {
			return false, saveErr
		}

		s.metrics.IncrementConflicts(entity.Type)
		observability.EntityConflicts.WithLabelValues(entity.Type).Inc()

		s.logger.Warn("entity sync conflict",
			zap.String("type", entity.Type),
			zap.String("id", entity.ID),
			zap.Int64("local_version", entity.Version),
			zap.Int64("remote_version", conflict.Remote.Version))
		return false, err
	}

	s.logger.Warn("entity sync failed",
		zap.String("type", entity.Type),
		zap.String("id", entity.ID),
		zap.Error(err))
	return false, err
}

// SyncExecutor adapts the entity store to the orchestrator's executor
// contract for operations of kind entity-sync.
func (s *EntityStore) SyncExecutor() Executor {
	return func(ctx context.Context, op *Operation) error {
		var payload entitySyncPayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return fmt.Errorf("malformed entity sync payload: %w", err)
		}

		entity, err := s.Get(ctx, payload.Type, payload.ID)
		if err != nil {
			return err
		}
		if entity == nil || entity.SyncStatus == SyncStatusSynced {
			// Deleted or already synced since enqueue; nothing to do.
			return nil
		}

		ok, err := s.SyncEntity(ctx, entity)
		if ok {
			return nil
		}

		var conflict *RemoteConflictError
		if errors.As(err, &conflict) {
			// A conflict is a terminal sync outcome awaiting resolution,
			// reported via entity status rather than operation failure.
			return nil
		}
		return err
	}
}

// ResolveConflict produces the resolved entity for a (local, remote) pair
// under the given strategy, persists it under the local key with status
// pending and schedules a re-sync. The pre-resolution local record is the
// caller's to keep; this store only overwrites the local key.
func (s *EntityStore) ResolveConflict(ctx context.Context, local, remote *Entity, strategy ConflictStrategy, manualData json.RawMessage) (*Entity, error) {
	if local == nil || remote == nil {
		return nil, errors.New("both local and remote entities are required")
	}

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}
	version++

	var data json.RawMessage
	switch strategy {
	case StrategyLocal:
		// Keeps the local data, but the resolved record must still outrank
		// the remote copy or the re-sync would conflict again.
		data = local.Data
	case StrategyRemote:
		data = remote.Data
	case StrategyMerge:
		merged, err := mergeEntityData(local.Data, remote.Data)
		if err != nil {
			return nil, err
		}
		data = merged
	case StrategyManual:
		if manualData == nil {
			return nil, errors.New("manual resolution requires resolved data")
		}
		data = manualData
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", strategy)
	}

	resolved := &Entity{
		Type:         local.Type,
		ID:           local.ID,
		Data:         data,
		LastModified: time.Now(),
		Version:      version,
		SyncStatus:   SyncStatusPending,
		ContentHash:  contentHash(data),
	}

	if err := s.save(ctx, resolved); err != nil {
		return nil, err
	}

	s.logger.Info("conflict resolved",
		zap.String("type", local.Type),
		zap.String("id", local.ID),
		zap.String("strategy", string(strategy)),
		zap.Int64("version", resolved.Version))

	if err := s.scheduleSync(ctx, resolved); err != nil {
		return resolved, fmt.Errorf("resolution persisted but sync scheduling failed: %w", err)
	}
	return resolved, nil
}

// mergeEntityData shallow-unions remote fields into local fields; remote
// wins on overlapping keys.
func mergeEntityData(local, remote json.RawMessage) (json.RawMessage, error) {
	var localFields map[string]any
	if err := json.Unmarshal(local, &localFields); err != nil {
		return nil, fmt.Errorf("local data is not a JSON object: %w", err)
	}

	var remoteFields map[string]any
	if err := json.Unmarshal(remote, &remoteFields); err != nil {
		return nil, fmt.Errorf("remote data is not a JSON object: %w", err)
	}

	merged := make(map[string]any, len(localFields)+len(remoteFields))
	for k, v := range localFields {
		merged[k] = v
	}
	for k, v := range remoteFields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged data: %w", err)
	}
	return data, nil
}
