package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/soe/common/cache"
	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/engine"
	memorybackend "github.com/lyzr/soe/engine/backends/memory"
	"github.com/lyzr/soe/engine/builtintools"
	"github.com/lyzr/soe/engine/expr"
	"github.com/lyzr/soe/engine/nodes"
)

type stubLLM struct{}

func (stubLLM) Call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return `{"output": "ok"}`, nil
}

func newTestHandlers(t *testing.T) (*Handlers, *echo.Echo) {
	t.Helper()
	mem := memorybackend.New()
	log := logger.New("error", "text")
	rt := &engine.Runtime{
		Contexts:   mem,
		Workflows:  mem.Workflows(),
		History:    mem.History(),
		Schemas:    mem.Schemas(),
		Identities: mem.Identities(),
		Telemetry:  mem.Telemetry(),
		LLM:        stubLLM{},
		Logger:     log,
		Expr:       expr.NewEngine(),
		Executors:  nodes.All(),
		MaxRetries: 1,
	}
	rt.Tools = builtintools.New(rt, nil)

	c := &Container{Runtime: rt, Memory: mem, WorkflowCache: cache.NewMemoryCache(log)}
	return NewHandlers(c), echo.New()
}

func doRequest(e *echo.Echo, method, path string, body interface{}, paramNames, paramValues []string) (*httptest.ResponseRecorder, echo.Context) {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames(paramNames...)
	c.SetParamValues(paramValues...)
	return rec, c
}

func TestPutWorkflowThenGetWorkflowRoundTrips(t *testing.T) {
	h, e := newTestHandlers(t)

	wf := map[string]interface{}{
		"entry_signals": []interface{}{"start"},
		"nodes": map[string]interface{}{
			"router_1": map[string]interface{}{
				"id": "router_1", "type": "router", "trigger_signals": []interface{}{"start"},
			},
		},
	}

	rec, c := doRequest(e, http.MethodPut, "/api/v1/workflows/wf1", map[string]interface{}{"workflow": wf}, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.PutWorkflow(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2, c2 := doRequest(e, http.MethodGet, "/api/v1/workflows/wf1", nil, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.GetWorkflow(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)

	var got engine.Workflow
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &got))
	assert.Equal(t, "wf1", got.ID)
}

func TestGetWorkflowServesFromCacheOnSecondCall(t *testing.T) {
	h, e := newTestHandlers(t)
	wf := map[string]interface{}{
		"entry_signals": []interface{}{"start"},
		"nodes": map[string]interface{}{
			"router_1": map[string]interface{}{
				"id": "router_1", "type": "router", "trigger_signals": []interface{}{"start"},
			},
		},
	}
	_, c := doRequest(e, http.MethodPut, "/api/v1/workflows/wf1", map[string]interface{}{"workflow": wf}, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.PutWorkflow(c))

	// The first read misses the cache and fills it from the backend.
	_, c1 := doRequest(e, http.MethodGet, "/api/v1/workflows/wf1", nil, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.GetWorkflow(c1))

	// Delete straight from the backend, bypassing the handler (and its
	// cache invalidation) — if GetWorkflow still succeeds, it served the
	// cached copy rather than hitting the backend.
	require.NoError(t, h.container.Runtime.Workflows.Delete(context.Background(), "wf1"))

	rec, c2 := doRequest(e, http.MethodGet, "/api/v1/workflows/wf1", nil, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.GetWorkflow(c2))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetWorkflowUnknownIDReturns404(t *testing.T) {
	h, e := newTestHandlers(t)
	_, c := doRequest(e, http.MethodGet, "/api/v1/workflows/nope", nil, []string{"id"}, []string{"nope"})
	err := h.GetWorkflow(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestOrchestrateRejectsMissingWorkflowID(t *testing.T) {
	h, e := newTestHandlers(t)
	_, c := doRequest(e, http.MethodPost, "/api/v1/orchestrate", map[string]interface{}{}, nil, nil)
	err := h.Orchestrate(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestOrchestrateStartsAnExecution(t *testing.T) {
	h, e := newTestHandlers(t)
	wf := map[string]interface{}{
		"entry_signals": []interface{}{"start"},
		"nodes": map[string]interface{}{
			"router_1": map[string]interface{}{
				"id": "router_1", "type": "router", "trigger_signals": []interface{}{"start"},
			},
		},
	}
	_, c := doRequest(e, http.MethodPut, "/api/v1/workflows/wf1", map[string]interface{}{"workflow": wf}, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.PutWorkflow(c))

	rec, c2 := doRequest(e, http.MethodPost, "/api/v1/orchestrate", map[string]interface{}{"workflow_id": "wf1"}, nil, nil)
	require.NoError(t, h.Orchestrate(c2))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["execution_id"])
}

func TestPatchWorkflowAppliesNodeAddition(t *testing.T) {
	h, e := newTestHandlers(t)
	wf := map[string]interface{}{
		"entry_signals": []interface{}{"start"},
		"nodes": map[string]interface{}{
			"router_1": map[string]interface{}{
				"id": "router_1", "type": "router", "trigger_signals": []interface{}{"start"},
				"signal_emissions": []interface{}{
					map[string]interface{}{"signals": []interface{}{"next"}},
				},
			},
		},
	}
	_, c := doRequest(e, http.MethodPut, "/api/v1/workflows/wf1", map[string]interface{}{"workflow": wf}, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.PutWorkflow(c))

	patchBody := map[string]interface{}{
		"operations": []map[string]interface{}{
			{
				"op":   "add",
				"path": "/nodes/tool_1",
				"value": map[string]interface{}{
					"id": "tool_1", "type": "tool", "trigger_signals": []interface{}{"next"},
					"config": map[string]interface{}{"tool_name": "noop"},
				},
			},
		},
	}
	rec, pc := doRequest(e, http.MethodPatch, "/api/v1/workflows/wf1", patchBody, []string{"id"}, []string{"wf1"})
	err := h.PatchWorkflow(pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	saved, err := h.container.Runtime.Workflows.Get(context.Background(), "wf1")
	require.NoError(t, err)
	_, ok := saved.Nodes.Get("tool_1")
	assert.True(t, ok)
}

func TestPatchWorkflowRejectsTooManyAgentNodes(t *testing.T) {
	h, e := newTestHandlers(t)
	wf := map[string]interface{}{
		"entry_signals": []interface{}{"start"},
		"nodes": map[string]interface{}{
			"router_1": map[string]interface{}{
				"id": "router_1", "type": "router", "trigger_signals": []interface{}{"start"},
			},
		},
	}
	_, c := doRequest(e, http.MethodPut, "/api/v1/workflows/wf1", map[string]interface{}{"workflow": wf}, []string{"id"}, []string{"wf1"})
	require.NoError(t, h.PutWorkflow(c))

	ops := make([]map[string]interface{}, 0, 6)
	for i := 0; i < 6; i++ {
		ops = append(ops, map[string]interface{}{
			"op":   "add",
			"path": "/nodes/-",
			"value": map[string]interface{}{
				"id": "agent_x", "type": "agent",
			},
		})
	}
	_, pc := doRequest(e, http.MethodPatch, "/api/v1/workflows/wf1", map[string]interface{}{"operations": ops}, []string{"id"}, []string{"wf1"})
	err := h.PatchWorkflow(pc)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}
