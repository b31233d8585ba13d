package handlers

import (
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/resilience"
	"github.com/prefeitura-rio/app-sync/internal/services"
)

// ErrorResponse is the uniform error body returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers carries the service dependencies of the HTTP layer.
type Handlers struct {
	ops          *services.OperationStore
	entities     *services.EntityStore
	orchestrator *services.SyncOrchestrator
	monitor      *services.NetworkMonitor
	engine       *resilience.Engine
	metrics      *services.Metrics
	logger       *logging.SafeLogger
}

// New creates the handler set.
func New(ops *services.OperationStore, entities *services.EntityStore, orchestrator *services.SyncOrchestrator, monitor *services.NetworkMonitor, engine *resilience.Engine, metrics *services.Metrics, logger *logging.SafeLogger) *Handlers {
	return &Handlers{
		ops:          ops,
		entities:     entities,
		orchestrator: orchestrator,
		monitor:      monitor,
		engine:       engine,
		metrics:      metrics,
		logger:       logger,
	}
}
