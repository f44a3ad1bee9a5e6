package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/soe/common/config"
	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/common/server"
	"github.com/lyzr/soe/common/telemetry"
	"github.com/lyzr/soe/engine/llm"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("orchestrator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	tel := telemetry.New(cfg.Telemetry.PprofPort, log)
	if cfg.Telemetry.EnablePprof {
		if err := tel.Start(ctx); err != nil {
			log.Error("failed to start telemetry", "error", err)
		}
	}

	caller := llm.NewOpenAICaller(os.Getenv("SOE_LLM_MODEL"))

	c, err := NewContainer(ctx, cfg, log, caller)
	if err != nil {
		log.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer c.Shutdown()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)
	registerRoutes(e, NewHandlers(c))

	srv := server.New("orchestrator", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "orchestrator"})
	})
}
