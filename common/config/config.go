package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Engine    EngineConfig
}

// ServiceConfig holds service-specific settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings for the optional
// conversation-history/telemetry backend.
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds connection settings for the optional shared-state
// context/workflow backend.
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
	TTL     time.Duration
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// EngineConfig holds defaults handed to engine.Runtime at construction.
type EngineConfig struct {
	MaxRetries         int
	MaxAgentIterations int
	LLMCallTimeout     time.Duration
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("POSTGRES_ENABLED", false),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "soe"),
			User:        getEnv("POSTGRES_USER", "soe"),
			Password:    getEnv("POSTGRES_PASSWORD", "soe"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			DB:      getEnvInt("REDIS_DB", 0),
			TTL:     getEnvDuration("REDIS_CONTEXT_TTL", 24*time.Hour),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Engine: EngineConfig{
			MaxRetries:         getEnvInt("ENGINE_MAX_RETRIES", 3),
			MaxAgentIterations: getEnvInt("ENGINE_MAX_AGENT_ITERATIONS", 10),
			LLMCallTimeout:     getEnvDuration("ENGINE_LLM_CALL_TIMEOUT", 60*time.Second),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required when postgres is enabled")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine max_retries must be >= 0")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
