package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-sync/internal/kvstore"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/resilience"
	"github.com/prefeitura-rio/app-sync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router   *gin.Engine
	ops      *services.OperationStore
	entities *services.EntityStore
	monitor  *services.NetworkMonitor
	remote   *recordingHandler
}

type recordingHandler struct {
	err error
}

func (h *recordingHandler) SyncEntity(ctx context.Context, entity *services.Entity) error {
	return h.err
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := logging.NewNop()
	kv := kvstore.NewMemoryStore()
	bus := services.NewEventBus()
	metrics := services.NewMetrics()

	ops := services.NewOperationStore(kv, bus, logger, time.Hour)
	entities := services.NewEntityStore(kv, ops, metrics, logger, time.Second, 3)
	remote := &recordingHandler{}
	entities.RegisterDefaultHandler(remote)

	monitor := services.NewNetworkMonitor(nil, time.Hour, logger)
	engine := resilience.NewEngine(resilience.DefaultConfig(), logger)
	orchestrator := services.NewSyncOrchestrator(ops, monitor, engine, bus, metrics, logger, time.Hour, resilience.PolicyManual)
	orchestrator.RegisterExecutor(services.OpKindEntitySync, entities.SyncExecutor())

	h := New(ops, entities, orchestrator, monitor, engine, metrics, logger)
	return &apiFixture{
		router:   Router(h, logger),
		ops:      ops,
		entities: entities,
		monitor:  monitor,
		remote:   remote,
	}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "online", body["network"])
}

func TestEnqueueAndListPending(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/v1/sync/operations", gin.H{
		"kind":     "entity-sync",
		"action":   "note",
		"payload":  gin.H{"type": "note", "id": "n1"},
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var op services.Operation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &op))
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, services.PriorityHigh, op.Priority)

	w = f.do(http.MethodGet, "/v1/sync/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Count      int                   `json:"count"`
		Operations []*services.Operation `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestEnqueueRejectsInvalidBody(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/v1/sync/operations", gin.H{"action": "no-kind"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerSync(t *testing.T) {
	f := newAPIFixture(t)

	f.do(http.MethodPut, "/v1/entities/note/n1", gin.H{"text": "hello"})

	w := f.do(http.MethodPost, "/v1/sync/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result services.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
}

func TestTriggerSyncOffline(t *testing.T) {
	f := newAPIFixture(t)
	f.monitor.SetStatus(services.StatusOffline)

	w := f.do(http.MethodPost, "/v1/sync/trigger", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Forced trigger ignores connectivity.
	w = f.do(http.MethodPost, "/v1/sync/trigger?force=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClearQueue(t *testing.T) {
	f := newAPIFixture(t)
	f.ops.Enqueue(context.Background(), "k", "a", nil, 3, services.PriorityLow, nil)

	w := f.do(http.MethodDelete, "/v1/sync/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body["removed"])
}

func TestRecoveryStatus(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/sync/recovery", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status resilience.RecoveryStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 0, status.ActiveRecoveries)
}

func TestEntityLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPut, "/v1/entities/note/n1", gin.H{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	var entity services.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entity))
	assert.Equal(t, int64(1), entity.Version)
	assert.Equal(t, services.SyncStatusPending, entity.SyncStatus)

	w = f.do(http.MethodGet, "/v1/entities/note/n1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/v1/entities/note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = f.do(http.MethodDelete, "/v1/entities/note/n1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/v1/entities/note/n1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveConflictRequiresConflictState(t *testing.T) {
	f := newAPIFixture(t)

	f.do(http.MethodPut, "/v1/entities/note/n1", gin.H{"text": "hello"})

	w := f.do(http.MethodPost, "/v1/entities/note/n1/resolve", gin.H{
		"strategy": "remote",
		"remote":   gin.H{"type": "note", "id": "n1", "data": gin.H{"text": "theirs"}, "version": 4},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveConflictEndpoint(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)

	// A remote holding version 4 conflicts the first sync attempt.
	f.remote.err = &services.RemoteConflictError{Remote: &services.Entity{
		Type:    "note",
		ID:      "n1",
		Data:    json.RawMessage(`{"text":"theirs"}`),
		Version: 4,
	}}

	f.do(http.MethodPut, "/v1/entities/note/n1", gin.H{"text": "mine"})
	f.do(http.MethodPost, "/v1/sync/trigger", nil)

	got, err := f.entities.Get(ctx, "note", "n1")
	require.NoError(t, err)
	require.Equal(t, services.SyncStatusConflict, got.SyncStatus)

	f.remote.err = nil
	w := f.do(http.MethodPost, "/v1/entities/note/n1/resolve", gin.H{
		"strategy": "remote",
		"remote":   gin.H{"type": "note", "id": "n1", "data": gin.H{"text": "theirs"}, "version": 4},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resolved services.Entity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	assert.Equal(t, int64(5), resolved.Version)
	assert.Equal(t, services.SyncStatusPending, resolved.SyncStatus)
	assert.JSONEq(t, `{"text":"theirs"}`, string(resolved.Data))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/v1/sync/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "sync_queue_depth")
}
