package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewEventBus()

	var first, second int
	bus.OnSyncStarted(func(e SyncStartedEvent) { first++ })
	bus.OnSyncStarted(func(e SyncStartedEvent) { second++ })

	bus.PublishSyncStarted(SyncStartedEvent{QueueSize: 2})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestEventBus_CategoriesAreIsolated(t *testing.T) {
	bus := NewEventBus()

	var started, failed int
	bus.OnSyncStarted(func(e SyncStartedEvent) { started++ })
	bus.OnOperationFailed(func(e OperationFailedEvent) { failed++ })

	bus.PublishOperationFailed(OperationFailedEvent{OperationID: "op-1"})

	assert.Equal(t, 0, started)
	assert.Equal(t, 1, failed)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	sub := bus.OnSyncCompleted(func(e SyncCompletedEvent) { calls++ })

	bus.PublishSyncCompleted(SyncCompletedEvent{})
	sub.Unsubscribe()
	bus.PublishSyncCompleted(SyncCompletedEvent{})

	assert.Equal(t, 1, calls)
}

func TestEventBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := NewEventBus()

	sub := bus.OnSyncCompleted(func(e SyncCompletedEvent) {})
	sub.Unsubscribe()
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}

func TestEventBus_BreakerEvents(t *testing.T) {
	bus := NewEventBus()

	var opened, closed []string
	bus.OnBreakerOpened(func(key string) { opened = append(opened, key) })
	bus.OnBreakerClosed(func(key string) { closed = append(closed, key) })

	bus.PublishBreakerOpened("svc")
	bus.PublishBreakerClosed("svc")

	require.Len(t, opened, 1)
	require.Len(t, closed, 1)
	assert.Equal(t, "svc", opened[0])
	assert.Equal(t, "svc", closed[0])
}

func TestEventBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() {
		bus.PublishOperationEnqueued(OperationEnqueuedEvent{})
		bus.PublishSyncStarted(SyncStartedEvent{})
		bus.PublishSyncCompleted(SyncCompletedEvent{})
		bus.PublishOperationFailed(OperationFailedEvent{})
		bus.PublishBreakerOpened("k")
		bus.PublishBreakerClosed("k")
	})
}
