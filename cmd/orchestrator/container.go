package main

import (
	"context"
	"fmt"

	"github.com/lyzr/soe/common/cache"
	"github.com/lyzr/soe/common/config"
	"github.com/lyzr/soe/common/db"
	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/common/ratelimit"
	"github.com/lyzr/soe/common/redis"
	redislib "github.com/redis/go-redis/v9"

	"github.com/lyzr/soe/engine"
	memorybackend "github.com/lyzr/soe/engine/backends/memory"
	postgresbackend "github.com/lyzr/soe/engine/backends/postgres"
	redisbackend "github.com/lyzr/soe/engine/backends/redis"
	"github.com/lyzr/soe/engine/builtintools"
	"github.com/lyzr/soe/engine/expr"
	"github.com/lyzr/soe/engine/nodes"
)

// Container bundles the wired engine.Runtime plus whatever backend handles
// it needs to close on shutdown, the way the teacher's cmd/orchestrator
// container wires CAS/artifact/run services once at boot.
type Container struct {
	Runtime *engine.Runtime
	Memory  *memorybackend.Store // non-nil only when running fully in-memory

	// WorkflowCache fronts repeated GetWorkflow reads; always populated,
	// backed by memory regardless of which ContextBackend/WorkflowBackend
	// is active, since workflow definitions are small and change rarely.
	WorkflowCache *cache.MemoryCache

	// RateLimiter is non-nil only when Redis is enabled — workflow-tiered
	// rate limiting needs a shared counter, which an in-memory-only
	// deployment has no way to enforce across replicas anyway.
	RateLimiter *ratelimit.RateLimiter

	closers []func()
}

// NewContainer wires a Runtime from cfg: a Postgres pool backs conversation
// history/telemetry when enabled, Redis backs context/workflow storage when
// enabled, and the in-memory store fills in whatever isn't.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger, llm engine.LLMCaller) (*Container, error) {
	mem := memorybackend.New()
	c := &Container{Memory: mem, WorkflowCache: cache.NewMemoryCache(log)}

	rt := &engine.Runtime{
		Contexts:   mem,
		Workflows:  mem.Workflows(),
		History:    mem.History(),
		Schemas:    mem.Schemas(),
		Identities: mem.Identities(),
		Telemetry:  mem.Telemetry(),
		LLM:        llm,
		Logger:     log,
		Expr:       expr.NewEngine(),
		Executors:  nodes.All(),
		MaxRetries: cfg.Engine.MaxRetries,
	}

	if cfg.Redis.Enabled {
		rdb := redislib.NewClient(&redislib.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		client := redis.NewClient(rdb, log)
		rt.Contexts = redisbackend.NewContextStore(client)
		rt.Workflows = redisbackend.NewWorkflowStore(client)
		c.RateLimiter = ratelimit.NewRateLimiter(rdb, log)
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	if cfg.Database.Enabled {
		pool, err := db.New(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.History = postgresbackend.NewHistoryStore(pool)
		rt.Telemetry = postgresbackend.NewTelemetryStore(pool)
		c.closers = append(c.closers, pool.Close)
	}

	rt.Tools = builtintools.New(rt, nil)
	c.Runtime = rt
	return c, nil
}

// Shutdown releases every backend connection this container opened.
func (c *Container) Shutdown() {
	for _, closer := range c.closers {
		closer()
	}
	_ = c.WorkflowCache.Close()
}
