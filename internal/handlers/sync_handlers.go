package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-sync/internal/observability"
	"github.com/prefeitura-rio/app-sync/internal/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EnqueueRequest is the body accepted by the enqueue endpoint.
type EnqueueRequest struct {
	Kind       string            `json:"kind" binding:"required"`
	Action     string            `json:"action"`
	Payload    json.RawMessage   `json:"payload"`
	MaxRetries *int              `json:"max_retries"`
	Priority   services.Priority `json:"priority"`
	DependsOn  []string          `json:"depends_on"`
}

// Health reports process liveness and current connectivity.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"network": h.monitor.Status(),
	})
}

// ListPending returns the queue snapshot in processing order.
func (h *Handlers) ListPending(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ListPending")
	defer span.End()

	ops, err := h.ops.Pending(ctx)
	if err != nil {
		h.logger.Error("failed to list pending operations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load queue"})
		return
	}

	span.SetAttributes(attribute.Int("queue.size", len(ops)))
	c.JSON(http.StatusOK, gin.H{
		"count":      len(ops),
		"operations": ops,
	})
}

// Enqueue appends an operation to the durable queue.
func (h *Handlers) Enqueue(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "Enqueue")
	defer span.End()

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	op, err := h.ops.Enqueue(ctx, req.Kind, req.Action, req.Payload, maxRetries, req.Priority, req.DependsOn)
	if err != nil {
		h.logger.Error("failed to enqueue operation", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	span.SetAttributes(attribute.String("operation.id", op.ID))
	c.JSON(http.StatusCreated, op)
}

// TriggerSync runs a sync pass. ?force=true waits out a running pass and
// ignores connectivity.
func (h *Handlers) TriggerSync(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "TriggerSync")
	defer span.End()

	force := c.Query("force") == "true"
	result := h.orchestrator.TriggerSync(ctx, force)
	observability.SyncPasses.WithLabelValues("manual").Inc()

	for _, msg := range result.Errors {
		if msg == services.ErrSyncInProgress.Error() {
			c.JSON(http.StatusConflict, ErrorResponse{Error: msg})
			return
		}
		if msg == services.ErrNetworkOffline.Error() {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: msg})
			return
		}
	}

	c.JSON(http.StatusOK, result)
}

// ClearQueue drops every pending operation.
func (h *Handlers) ClearQueue(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ClearQueue")
	defer span.End()

	removed, err := h.ops.Clear(ctx)
	if err != nil {
		h.logger.Error("failed to clear queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear queue"})
		return
	}

	h.logger.Warn("operation queue cleared", zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// RecoveryStatus exposes the resilience engine state: active recoveries,
// breaker states and fallback health.
func (h *Handlers) RecoveryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.RecoveryStatus())
}

// NetworkStatus reports the current connectivity classification.
func (h *Handlers) NetworkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.monitor.Status()})
}

// Metrics returns the in-process sync counters.
func (h *Handlers) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}
