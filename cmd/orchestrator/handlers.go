package main

import (
	"encoding/json"
	"net/http"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/soe/common/ratelimit"
	"github.com/lyzr/soe/common/validation"
	"github.com/lyzr/soe/engine"
)

const workflowCacheTTL = 30 * time.Second

// Handlers exposes the engine over HTTP: inject/list workflows, start
// executions, and inspect their context — mirroring the teacher's
// handlers.ArtifactHandler/RunHandler shape (components + service fields,
// one method per route) against the new domain.
type Handlers struct {
	container *Container
}

func NewHandlers(c *Container) *Handlers {
	return &Handlers{container: c}
}

type injectWorkflowRequest struct {
	Workflow engine.Workflow `json:"workflow"`
}

// PutWorkflow registers or replaces a workflow definition.
// PUT /api/v1/workflows/:id
func (h *Handlers) PutWorkflow(c echo.Context) error {
	var req injectWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow body")
	}
	req.Workflow.ID = c.Param("id")

	if err := engine.ValidateWorkflow(&req.Workflow, h.container.Runtime.Expr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.container.Runtime.Workflows.Save(c.Request().Context(), &req.Workflow); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.container.WorkflowCache != nil {
		_ = h.container.WorkflowCache.Delete(c.Request().Context(), "workflow:"+req.Workflow.ID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": req.Workflow.ID, "status": "saved"})
}

// ListWorkflows returns every registered workflow id.
// GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c echo.Context) error {
	ids, err := h.container.Runtime.Workflows.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflow_ids": ids})
}

// GetWorkflow returns one workflow definition, serving from the in-memory
// cache when a recent copy is available (workflow definitions change rarely
// compared to how often a busy orchestrator re-reads them for validation).
// GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	cacheKey := "workflow:" + c.Param("id")

	if h.container.WorkflowCache != nil {
		if raw, ok, _ := h.container.WorkflowCache.Get(ctx, cacheKey); ok {
			var w engine.Workflow
			if err := json.Unmarshal(raw, &w); err == nil {
				return c.JSON(http.StatusOK, w)
			}
		}
	}

	w, err := h.container.Runtime.Workflows.Get(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	if h.container.WorkflowCache != nil {
		if raw, err := json.Marshal(w); err == nil {
			_ = h.container.WorkflowCache.Set(ctx, cacheKey, raw, workflowCacheTTL)
		}
	}
	return c.JSON(http.StatusOK, w)
}

type patchWorkflowRequest struct {
	Operations []map[string]interface{} `json:"operations"`
}

// PatchWorkflow applies a sequence of RFC 6902 JSON Patch operations to an
// existing workflow definition — node additions/removals/replacements —
// without requiring the caller to resend the full definition.
// PATCH /api/v1/workflows/:id
func (h *Handlers) PatchWorkflow(c echo.Context) error {
	var req patchWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patch body")
	}

	if err := validation.NewPatchValidator().ValidateOperations(req.Operations); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	current, err := h.container.Runtime.Workflows.Get(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	opsJSON, err := json.Marshal(req.Operations)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patch, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json patch: "+err.Error())
	}
	patchedJSON, err := patch.Apply(currentJSON)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "apply patch: "+err.Error())
	}

	var patched engine.Workflow
	if err := json.Unmarshal(patchedJSON, &patched); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	patched.ID = id

	if err := engine.ValidateWorkflow(&patched, h.container.Runtime.Expr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.container.Runtime.Workflows.Save(ctx, &patched); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.container.WorkflowCache != nil {
		_ = h.container.WorkflowCache.Delete(ctx, "workflow:"+id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "status": "patched"})
}

type orchestrateRequest struct {
	WorkflowID           string                 `json:"workflow_id"`
	IdentityID           string                 `json:"identity_id"`
	Fields               map[string]interface{} `json:"fields"`
	InitialSignals       []string               `json:"initial_signals"`
	Config               interface{}            `json:"config"`
	InheritConfigFromID  string                 `json:"inherit_config_from_id"`
	InheritContextFromID string                 `json:"inherit_context_from_id"`
}

// Orchestrate starts a new execution of a registered workflow.
// POST /api/v1/orchestrate
func (h *Handlers) Orchestrate(c echo.Context) error {
	var req orchestrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid orchestrate request")
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id is required")
	}

	if h.container.RateLimiter != nil {
		if w, err := h.container.Runtime.Workflows.Get(c.Request().Context(), req.WorkflowID); err == nil {
			profile := ratelimit.InspectEngineWorkflow(w)
			caller := req.IdentityID
			if caller == "" {
				caller = "anonymous"
			}
			result, err := h.container.RateLimiter.CheckTieredLimit(c.Request().Context(), caller, profile.Tier)
			if err == nil && !result.Allowed {
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]interface{}{
					"error": "workflow_tier_rate_limit_exceeded",
					"tier":  string(profile.Tier),
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}
		}
	}

	initialSignals := engine.Signals(req.InitialSignals)
	if len(initialSignals) == 0 {
		// Convenience default: a caller that only names a pre-registered
		// workflow and omits initial_signals gets that workflow's own
		// entry signals, instead of having to repeat them on every call.
		if w, err := h.container.Runtime.Workflows.Get(c.Request().Context(), req.WorkflowID); err == nil {
			initialSignals = w.EntrySignals
		}
	}

	orch := engine.NewOrchestrator(h.container.Runtime)
	execID, err := orch.Orchestrate(c.Request().Context(), engine.OrchestrateOptions{
		WorkflowID:           req.WorkflowID,
		IdentityID:           req.IdentityID,
		InitialSignals:       initialSignals,
		InitialContext:       req.Fields,
		Config:               req.Config,
		InheritConfigFromID:  req.InheritConfigFromID,
		InheritContextFromID: req.InheritContextFromID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"execution_id": execID})
}

// GetExecutionContext returns the current context and operational counters
// of an execution.
// GET /api/v1/executions/:id/context
func (h *Handlers) GetExecutionContext(c echo.Context) error {
	ctx, err := h.container.Runtime.Contexts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"fields":      engine.BuildVars(ctx),
		"operational": ctx.Operational(),
	})
}
