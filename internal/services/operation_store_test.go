package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/kvstore"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOperationStore(t *testing.T) *OperationStore {
	t.Helper()
	return NewOperationStore(kvstore.NewMemoryStore(), NewEventBus(), logging.NewNop(), time.Hour)
}

func TestOperationStore_Enqueue(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	op, err := store.Enqueue(ctx, "entity-sync", "note", json.RawMessage(`{"id":"n1"}`), 3, PriorityHigh, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "entity-sync", op.Kind)
	assert.Equal(t, PriorityHigh, op.Priority)
	assert.Equal(t, 0, op.RetryCount)
	assert.False(t, op.EnqueuedAt.IsZero())

	stored, err := store.Get(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, op.ID, stored.ID)
}

func TestOperationStore_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	_, err := store.Enqueue(ctx, "", "a", nil, 3, PriorityHigh, nil)
	assert.Error(t, err, "empty kind must be rejected")

	_, err = store.Enqueue(ctx, "k", "a", nil, 3, Priority("urgent"), nil)
	assert.Error(t, err, "unknown priority must be rejected")

	_, err = store.Enqueue(ctx, "k", "a", nil, -1, PriorityLow, nil)
	assert.Error(t, err, "negative max retries must be rejected")
}

func TestOperationStore_DefaultPriority(t *testing.T) {
	store := newTestOperationStore(t)

	op, err := store.Enqueue(context.Background(), "k", "a", nil, 3, "", nil)
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, op.Priority)
}

func TestOperationStore_PendingOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	low, _ := store.Enqueue(ctx, "k", "low", nil, 3, PriorityLow, nil)
	med1, _ := store.Enqueue(ctx, "k", "med1", nil, 3, PriorityMedium, nil)
	high, _ := store.Enqueue(ctx, "k", "high", nil, 3, PriorityHigh, nil)
	med2, _ := store.Enqueue(ctx, "k", "med2", nil, 3, PriorityMedium, nil)

	ops, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	// Priority first, enqueue order within equal priority.
	assert.Equal(t, high.ID, ops[0].ID)
	assert.Equal(t, med1.ID, ops[1].ID)
	assert.Equal(t, med2.ID, ops[2].ID)
	assert.Equal(t, low.ID, ops[3].ID)
}

func TestOperationStore_GetMissing(t *testing.T) {
	store := newTestOperationStore(t)

	op, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestOperationStore_RemoveAndCount(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	op, _ := store.Enqueue(ctx, "k", "a", nil, 3, PriorityMedium, nil)
	store.Enqueue(ctx, "k", "b", nil, 3, PriorityMedium, nil)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Remove(ctx, op.ID))

	count, _ = store.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestOperationStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	done, _ := store.Enqueue(ctx, "k", "a", nil, 3, PriorityMedium, nil)
	require.NoError(t, store.MarkCompleted(ctx, done.ID))
	store.Enqueue(ctx, "k", "b", nil, 3, PriorityMedium, nil)

	removed, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, _ := store.Count(ctx)
	assert.Equal(t, 0, count)

	// Completion markers survive an administrative clear.
	completed, err := store.IsCompleted(ctx, done.ID)
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestOperationStore_CompletionMarkers(t *testing.T) {
	ctx := context.Background()
	store := newTestOperationStore(t)

	completed, err := store.IsCompleted(ctx, "x")
	require.NoError(t, err)
	assert.False(t, completed)

	require.NoError(t, store.MarkCompleted(ctx, "x"))

	completed, err = store.IsCompleted(ctx, "x")
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestOperationStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()

	first := NewOperationStore(kv, NewEventBus(), logging.NewNop(), time.Hour)
	op, err := first.Enqueue(ctx, "k", "a", json.RawMessage(`{"n":1}`), 3, PriorityHigh, []string{"dep-1"})
	require.NoError(t, err)

	// A new store over the same backing storage sees the full record.
	second := NewOperationStore(kv, NewEventBus(), logging.NewNop(), time.Hour)
	got, err := second.Get(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, op.Kind, got.Kind)
	assert.Equal(t, op.Priority, got.Priority)
	assert.Equal(t, []string{"dep-1"}, got.DependsOn)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
}

func TestOperationStore_EnqueuePublishesEvent(t *testing.T) {
	bus := NewEventBus()
	store := NewOperationStore(kvstore.NewMemoryStore(), bus, logging.NewNop(), time.Hour)

	var got []OperationEnqueuedEvent
	sub := bus.OnOperationEnqueued(func(e OperationEnqueuedEvent) {
		got = append(got, e)
	})
	defer sub.Unsubscribe()

	op, err := store.Enqueue(context.Background(), "k", "a", nil, 3, PriorityMedium, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, op.ID, got[0].Operation.ID)
}
