// Package redis backs ContextBackend and WorkflowBackend with a shared
// Redis instance, for embedding this engine in more than one orchestrator
// process that must see the same in-flight executions (§6, "optional
// Redis-resident context + workflow-registry backend"). It is a thin JSON
// codec layered over the teacher's generic common/redis.Client wrapper,
// not a reimplementation of it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/soe/common/redis"
	"github.com/lyzr/soe/engine"
)

const (
	contextKeyPrefix  = "soe:context:"
	workflowKeyPrefix = "soe:workflow:"
	defaultTTL        = 24 * time.Hour
)

// ContextStore implements engine.ContextBackend over Redis.
type ContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewContextStore wraps an existing redis.Client.
func NewContextStore(client *redis.Client) *ContextStore {
	return &ContextStore{client: client, ttl: defaultTTL}
}

func (s *ContextStore) Get(ctx context.Context, executionID string) (*engine.Context, error) {
	raw, err := s.client.Get(ctx, contextKeyPrefix+executionID)
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w", executionID, err)
	}
	var c engine.Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", executionID, err)
	}
	return &c, nil
}

func (s *ContextStore) Save(ctx context.Context, executionID string, c *engine.Context) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", executionID, err)
	}
	return s.client.SetWithExpiry(ctx, contextKeyPrefix+executionID, string(raw), s.ttl)
}

func (s *ContextStore) Delete(ctx context.Context, executionID string) error {
	return s.client.Delete(ctx, contextKeyPrefix+executionID)
}

// WorkflowStore implements engine.WorkflowBackend over Redis, keeping
// every registered workflow ID in a Redis hash so List() doesn't require
// a KEYS scan.
type WorkflowStore struct {
	client *redis.Client
}

// NewWorkflowStore wraps an existing redis.Client.
func NewWorkflowStore(client *redis.Client) *WorkflowStore {
	return &WorkflowStore{client: client}
}

func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*engine.Workflow, error) {
	raw, err := s.client.Get(ctx, workflowKeyPrefix+workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", workflowID, err)
	}
	var w engine.Workflow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", workflowID, err)
	}
	return &w, nil
}

func (s *WorkflowStore) Save(ctx context.Context, w *engine.Workflow) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", w.ID, err)
	}
	if err := s.client.Set(ctx, workflowKeyPrefix+w.ID, string(raw), 0); err != nil {
		return err
	}
	return s.client.SetHash(ctx, "soe:workflows", w.ID, w.ID)
}

func (s *WorkflowStore) Delete(ctx context.Context, workflowID string) error {
	if err := s.client.Delete(ctx, workflowKeyPrefix+workflowID); err != nil {
		return err
	}
	if err := s.client.GetUnderlying().HDel(ctx, "soe:workflows", workflowID).Err(); err != nil {
		return fmt.Errorf("unindex workflow %s: %w", workflowID, err)
	}
	return nil
}

func (s *WorkflowStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.GetAllHash(ctx, "soe:workflows")
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}
