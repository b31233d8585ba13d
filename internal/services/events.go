package services

import "sync"

// Event payloads published by the sync subsystem. Dispatch is synchronous;
// handlers must not block.

// OperationEnqueuedEvent is published after an operation is persisted.
type OperationEnqueuedEvent struct {
	Operation Operation
}

// SyncStartedEvent is published at the start of a sync pass.
type SyncStartedEvent struct {
	QueueSize int
}

// SyncCompletedEvent is published when a sync pass finishes.
type SyncCompletedEvent struct {
	Result SyncResult
}

// OperationFailedEvent is published when an operation exhausts its retry
// budget and is permanently removed.
type OperationFailedEvent struct {
	OperationID string
	Kind        string
	Error       string
}

// Subscription is the handle returned on subscribe; Unsubscribe detaches
// the handler and is safe to call more than once.
type Subscription struct {
	cancel func()
}

// Unsubscribe removes the handler from the bus.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}

// EventBus is a typed observer registry, one handler set per event
// category.
type EventBus struct {
	mu     sync.RWMutex
	nextID int

	enqueued      map[int]func(OperationEnqueuedEvent)
	syncStarted   map[int]func(SyncStartedEvent)
	syncCompleted map[int]func(SyncCompletedEvent)
	opFailed      map[int]func(OperationFailedEvent)
	breakerOpened map[int]func(key string)
	breakerClosed map[int]func(key string)
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		enqueued:      make(map[int]func(OperationEnqueuedEvent)),
		syncStarted:   make(map[int]func(SyncStartedEvent)),
		syncCompleted: make(map[int]func(SyncCompletedEvent)),
		opFailed:      make(map[int]func(OperationFailedEvent)),
		breakerOpened: make(map[int]func(key string)),
		breakerClosed: make(map[int]func(key string)),
	}
}

func (b *EventBus) subscribe(register func(id int), unregister func(id int)) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	register(id)
	b.mu.Unlock()

	return &Subscription{cancel: func() {
		b.mu.Lock()
		unregister(id)
		b.mu.Unlock()
	}}
}

// OnOperationEnqueued subscribes to operation-enqueued events.
func (b *EventBus) OnOperationEnqueued(fn func(OperationEnqueuedEvent)) *Subscription {
	return b.subscribe(
		func(id int) { b.enqueued[id] = fn },
		func(id int) { delete(b.enqueued, id) },
	)
}

// OnSyncStarted subscribes to sync-started events.
func (b *EventBus) OnSyncStarted(fn func(SyncStartedEvent)) *Subscription {
	return b.subscribe(
		func(id int) { b.syncStarted[id] = fn },
		func(id int) { delete(b.syncStarted, id) },
	)
}

// OnSyncCompleted subscribes to sync-completed events.
func (b *EventBus) OnSyncCompleted(fn func(SyncCompletedEvent)) *Subscription {
	return b.subscribe(
		func(id int) { b.syncCompleted[id] = fn },
		func(id int) { delete(b.syncCompleted, id) },
	)
}

// OnOperationFailed subscribes to permanent operation failures.
func (b *EventBus) OnOperationFailed(fn func(OperationFailedEvent)) *Subscription {
	return b.subscribe(
		func(id int) { b.opFailed[id] = fn },
		func(id int) { delete(b.opFailed, id) },
	)
}

// OnBreakerOpened subscribes to circuit-breaker open transitions.
func (b *EventBus) OnBreakerOpened(fn func(key string)) *Subscription {
	return b.subscribe(
		func(id int) { b.breakerOpened[id] = fn },
		func(id int) { delete(b.breakerOpened, id) },
	)
}

// OnBreakerClosed subscribes to circuit-breaker close transitions.
func (b *EventBus) OnBreakerClosed(fn func(key string)) *Subscription {
	return b.subscribe(
		func(id int) { b.breakerClosed[id] = fn },
		func(id int) { delete(b.breakerClosed, id) },
	)
}

// PublishOperationEnqueued notifies operation-enqueued subscribers.
func (b *EventBus) PublishOperationEnqueued(event OperationEnqueuedEvent) {
	b.mu.RLock()
	handlers := make([]func(OperationEnqueuedEvent), 0, len(b.enqueued))
	for _, fn := range b.enqueued {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// PublishSyncStarted notifies sync-started subscribers.
func (b *EventBus) PublishSyncStarted(event SyncStartedEvent) {
	b.mu.RLock()
	handlers := make([]func(SyncStartedEvent), 0, len(b.syncStarted))
	for _, fn := range b.syncStarted {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// PublishSyncCompleted notifies sync-completed subscribers.
func (b *EventBus) PublishSyncCompleted(event SyncCompletedEvent) {
	b.mu.RLock()
	handlers := make([]func(SyncCompletedEvent), 0, len(b.syncCompleted))
	for _, fn := range b.syncCompleted {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// PublishOperationFailed notifies operation-failed subscribers.
func (b *EventBus) PublishOperationFailed(event OperationFailedEvent) {
	b.mu.RLock()
	handlers := make([]func(OperationFailedEvent), 0, len(b.opFailed))
	for _, fn := range b.opFailed {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// PublishBreakerOpened notifies breaker-opened subscribers.
func (b *EventBus) PublishBreakerOpened(key string) {
	b.mu.RLock()
	handlers := make([]func(string), 0, len(b.breakerOpened))
	for _, fn := range b.breakerOpened {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(key)
	}
}

// PublishBreakerClosed notifies breaker-closed subscribers.
func (b *EventBus) PublishBreakerClosed(key string) {
	b.mu.RLock()
	handlers := make([]func(string), 0, len(b.breakerClosed))
	for _, fn := range b.breakerClosed {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(key)
	}
}
