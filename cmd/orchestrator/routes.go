package main

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/soe/common/middleware"
	"github.com/lyzr/soe/common/ratelimit"
)

// registerRoutes wires every handler onto its path, mirroring the teacher's
// routes.RegisterWorkflowRoutes/RegisterRunRoutes split but over a single
// handlers struct since this service has far fewer resource kinds.
func registerRoutes(e *echo.Echo, h *Handlers) {
	api := e.Group("/api/v1")
	if h.container.RateLimiter != nil {
		api.Use(middleware.GlobalRateLimitMiddleware(h.container.RateLimiter, ratelimit.DefaultGlobalConfig.Limit))
	}

	api.PUT("/workflows/:id", h.PutWorkflow)
	api.PATCH("/workflows/:id", h.PatchWorkflow)
	api.GET("/workflows", h.ListWorkflows)
	api.GET("/workflows/:id", h.GetWorkflow)

	api.POST("/orchestrate", h.Orchestrate)
	api.GET("/executions/:id/context", h.GetExecutionContext)
}
