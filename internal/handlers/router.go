package handlers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"github.com/prefeitura-rio/app-sync/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the gin engine with middleware and all v1 routes.
func Router(h *Handlers, logger *logging.SafeLogger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestTiming(logger),
		cors.Default(),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", h.Health)

		v1.GET("/sync/pending", h.ListPending)
		v1.POST("/sync/operations", h.Enqueue)
		v1.POST("/sync/trigger", h.TriggerSync)
		v1.DELETE("/sync/pending", h.ClearQueue)
		v1.GET("/sync/recovery", h.RecoveryStatus)
		v1.GET("/sync/network", h.NetworkStatus)
		v1.GET("/sync/metrics", h.Metrics)

		v1.PUT("/entities/:type/:id", h.PutEntity)
		v1.GET("/entities/:type/:id", h.GetEntity)
		v1.GET("/entities/:type", h.ListEntities)
		v1.DELETE("/entities/:type/:id", h.DeleteEntity)
		v1.POST("/entities/:type/:id/resolve", h.ResolveConflict)
	}

	return router
}
