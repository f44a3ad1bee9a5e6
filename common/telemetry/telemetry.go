package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/engine"
)

// Telemetry holds observability components. Its Record method satisfies
// engine.TelemetryBackend: each TelemetryEvent it is handed (NODE_EXECUTION,
// NODE_ERROR, CONTEXT_WARNING, ...) is written as a structured log line, the
// same way the teacher's pprof-plus-slog setup covered its own
// worker/coordinator events.
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates telemetry components.
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start starts telemetry endpoints
func (t *Telemetry) Start(ctx context.Context) error {
	// Start pprof server
	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := http.ListenAndServe(t.pprofAddr, nil); err != nil {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	// TODO: Add Prometheus metrics endpoint on metricsAddr

	return nil
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	duration := time.Since(start)
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordEvent records a telemetry event.
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	t.log.Info("telemetry_event",
		"event", event,
		"attrs", attrs,
	)
}

// Record satisfies engine.TelemetryBackend.
func (t *Telemetry) Record(ctx context.Context, e engine.TelemetryEvent) error {
	t.log.WithExecutionID(e.ExecutionID).Info(string(e.Type),
		"node_id", e.NodeID,
		"attrs", e.Attrs,
	)
	return nil
}