// Package config reads the plan guard server settings from the environment.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	Port     string
	GRPCPort string
	LogLevel string

	DispatcherURL   string
	DispatcherToken string
	ToolListTTL     time.Duration

	RulesFile string
	ToolsFile string

	PostgresDSN   string
	ClickHouseDSN string
	AuthCacheTTL  time.Duration
	ToolCacheTTL  time.Duration
	AuthFailOpen  bool

	StaticKeys  string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	Throttle    string // e.g. "60/minute", empty disables
	MaxSteps    uint64
	RunTimeout  time.Duration
	CORSOrigins []string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:     envOrDefault("PLAN_GUARD_PORT", "8080"),
		GRPCPort: envOrDefault("PLAN_GUARD_GRPC_PORT", "50054"),
		LogLevel: envOrDefault("PLAN_GUARD_LOG_LEVEL", "info"),

		DispatcherURL:   os.Getenv("PLAN_GUARD_DISPATCHER_URL"),
		DispatcherToken: os.Getenv("PLAN_GUARD_DISPATCHER_TOKEN"),
		ToolListTTL:     time.Duration(envOrDefaultInt("PLAN_GUARD_TOOL_LIST_TTL_S", 30)) * time.Second,

		RulesFile: os.Getenv("PLAN_GUARD_RULES_FILE"),
		ToolsFile: os.Getenv("PLAN_GUARD_TOOLS_FILE"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
		AuthCacheTTL:  time.Duration(envOrDefaultInt("PLAN_GUARD_AUTH_CACHE_TTL_S", 30)) * time.Second,
		ToolCacheTTL:  time.Duration(envOrDefaultInt("PLAN_GUARD_TOOL_CACHE_TTL_S", 60)) * time.Second,
		AuthFailOpen:  envOrDefaultBool("PLAN_GUARD_AUTH_FAIL_OPEN", false),

		StaticKeys:  os.Getenv("PLAN_GUARD_STATIC_KEYS"),
		JWTSecret:   os.Getenv("PLAN_GUARD_JWT_SECRET"),
		JWTIssuer:   os.Getenv("PLAN_GUARD_JWT_ISSUER"),
		JWTAudience: os.Getenv("PLAN_GUARD_JWT_AUDIENCE"),

		Throttle:    envOrDefault("PLAN_GUARD_THROTTLE", "60/minute"),
		MaxSteps:    uint64(envOrDefaultInt("PLAN_GUARD_MAX_STEPS", 0)),
		RunTimeout:  time.Duration(envOrDefaultInt("PLAN_GUARD_RUN_TIMEOUT_S", 120)) * time.Second,
		CORSOrigins: splitList(os.Getenv("PLAN_GUARD_CORS_ORIGINS")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.DispatcherURL == "" {
		return errors.New("PLAN_GUARD_DISPATCHER_URL is required")
	}
	if c.RunTimeout < 0 {
		return errors.New("PLAN_GUARD_RUN_TIMEOUT_S must be >= 0")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
