package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-sync/internal/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ResolveConflictRequest selects the resolution strategy for a conflicted
// entity. Data is required for the manual strategy only.
type ResolveConflictRequest struct {
	Strategy services.ConflictStrategy `json:"strategy" binding:"required"`
	Remote   *services.Entity          `json:"remote" binding:"required"`
	Data     json.RawMessage           `json:"data"`
}

// PutEntity stores a local entity write and schedules its sync.
func (h *Handlers) PutEntity(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "PutEntity")
	defer span.End()

	entityType := c.Param("type")
	id := c.Param("id")
	span.SetAttributes(
		attribute.String("entity.type", entityType),
		attribute.String("entity.id", id),
	)

	var data json.RawMessage
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	entity, err := h.entities.Put(ctx, entityType, id, data)
	if err != nil {
		h.logger.Error("failed to store entity",
			zap.String("type", entityType),
			zap.String("id", id),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, entity)
}

// GetEntity returns one entity.
func (h *Handlers) GetEntity(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "GetEntity")
	defer span.End()

	entity, err := h.entities.Get(ctx, c.Param("type"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if entity == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "entity not found"})
		return
	}
	c.JSON(http.StatusOK, entity)
}

// ListEntities returns all entities of a type, newest first.
func (h *Handlers) ListEntities(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ListEntities")
	defer span.End()

	entities, err := h.entities.ListByType(ctx, c.Param("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(entities),
		"entities": entities,
	})
}

// DeleteEntity removes one entity.
func (h *Handlers) DeleteEntity(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "DeleteEntity")
	defer span.End()

	if err := h.entities.Delete(ctx, c.Param("type"), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ResolveConflict applies a resolution strategy to a conflicted entity.
func (h *Handlers) ResolveConflict(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ResolveConflict")
	defer span.End()

	entityType := c.Param("type")
	id := c.Param("id")

	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	local, err := h.entities.Get(ctx, entityType, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if local == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "entity not found"})
		return
	}
	if local.SyncStatus != services.SyncStatusConflict {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "entity is not in conflict"})
		return
	}

	span.SetAttributes(attribute.String("conflict.strategy", string(req.Strategy)))

	resolved, err := h.entities.ResolveConflict(ctx, local, req.Remote, req.Strategy, req.Data)
	if err != nil {
		h.logger.Error("failed to resolve conflict",
			zap.String("type", entityType),
			zap.String("id", id),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, resolved)
}
