// Package postgres backs ConversationHistoryBackend and TelemetryBackend
// with a Postgres table each, for deployments that want a durable,
// queryable record of conversation turns and telemetry events across
// orchestrator restarts. It is built on the teacher's common/db pgxpool
// wrapper rather than opening its own pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/soe/common/db"
	"github.com/lyzr/soe/engine"
)

// HistoryStore implements engine.ConversationHistoryBackend against a
// conversation_turns table.
type HistoryStore struct {
	db *db.DB
}

// NewHistoryStore wraps an existing connection pool.
func NewHistoryStore(d *db.DB) *HistoryStore {
	return &HistoryStore{db: d}
}

// HistorySchema is the DDL this store expects; callers run it (or an equivalent
// migration) once at deploy time.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id           BIGSERIAL PRIMARY KEY,
	execution_id TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_execution ON conversation_turns (execution_id, created_at);
`

func (h *HistoryStore) Append(ctx context.Context, turn engine.ConversationTurn) error {
	_, err := h.db.Pool.Exec(ctx,
		`INSERT INTO conversation_turns (execution_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		turn.ExecutionID, turn.Role, turn.Content, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

func (h *HistoryStore) List(ctx context.Context, executionID string) ([]engine.ConversationTurn, error) {
	rows, err := h.db.Pool.Query(ctx,
		`SELECT execution_id, role, content, created_at FROM conversation_turns WHERE execution_id = $1 ORDER BY created_at ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	defer rows.Close()

	var turns []engine.ConversationTurn
	for rows.Next() {
		var t engine.ConversationTurn
		if err := rows.Scan(&t.ExecutionID, &t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// TelemetryStore implements engine.TelemetryBackend against a
// telemetry_events table.
type TelemetryStore struct {
	db *db.DB
}

// NewTelemetryStore wraps an existing connection pool.
func NewTelemetryStore(d *db.DB) *TelemetryStore {
	return &TelemetryStore{db: d}
}

// TelemetrySchema is the DDL this store expects.
const TelemetrySchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id           BIGSERIAL PRIMARY KEY,
	event_type   TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	node_id      TEXT,
	attrs        JSONB,
	occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_execution ON telemetry_events (execution_id, occurred_at);
`

func (t *TelemetryStore) Record(ctx context.Context, e engine.TelemetryEvent) error {
	attrs, err := json.Marshal(e.Attrs)
	if err != nil {
		return fmt.Errorf("encode telemetry attrs: %w", err)
	}
	_, err = t.db.Pool.Exec(ctx,
		`INSERT INTO telemetry_events (event_type, execution_id, node_id, attrs, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		string(e.Type), e.ExecutionID, e.NodeID, attrs, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}
