package engine

import (
	"context"

	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/engine/expr"
)

// NodeExecutor runs one node kind to completion and returns the signals it
// wants broadcast next. Implementations live in engine/nodes and are
// injected into a Broadcaster by node type so this package stays free of
// an import cycle back to them.
type NodeExecutor interface {
	Execute(ctx context.Context, rt *Runtime, execID string, n *NodeConfig, c *Context) (Signals, error)
}

// Runtime bundles everything a node executor needs to do its job: the
// backends it reads/writes through, the expression engine, the tool
// registry, and the LLM caller. The broadcaster and orchestrator each hold
// one Runtime and pass it through unchanged.
type Runtime struct {
	Contexts      ContextBackend
	Workflows     WorkflowBackend
	Registries    WorkflowRegistryBackend // optional, per-execution workflow registry isolation (§3)
	Telemetry     TelemetryBackend // optional, nil-checked before use
	History       ConversationHistoryBackend // optional
	Schemas       ContextSchemaBackend // optional
	Identities    IdentityBackend // optional
	Tools         ToolRegistry
	LLM           LLMCaller
	Logger        *logger.Logger
	Expr          *expr.Engine
	Executors     map[NodeType]NodeExecutor
	MaxRetries    int
}

// emitTelemetry is a convenience no-op-safe wrapper so node executors don't
// each need a nil check on rt.Telemetry.
func (rt *Runtime) emitTelemetry(ctx context.Context, e TelemetryEvent) {
	if rt.Telemetry == nil {
		return
	}
	_ = rt.Telemetry.Record(ctx, e)
}

// EmitTelemetry is the nodes-package-visible counterpart of emitTelemetry,
// used by node executors that live outside this package.
func EmitTelemetry(ctx context.Context, rt *Runtime, e TelemetryEvent) {
	rt.emitTelemetry(ctx, e)
}
