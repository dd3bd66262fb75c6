package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "http://dispatcher:9000")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "50054", cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.AuthCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.ToolCacheTTL)
	assert.Equal(t, "60/minute", cfg.Throttle)
	assert.Equal(t, 120*time.Second, cfg.RunTimeout)
	assert.False(t, cfg.AuthFailOpen)
	assert.Nil(t, cfg.CORSOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "http://dispatcher:9000")
	t.Setenv("PLAN_GUARD_PORT", "9090")
	t.Setenv("PLAN_GUARD_AUTH_FAIL_OPEN", "true")
	t.Setenv("PLAN_GUARD_MAX_STEPS", "5000")
	t.Setenv("PLAN_GUARD_RUN_TIMEOUT_S", "0")
	t.Setenv("PLAN_GUARD_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PLAN_GUARD_TOOL_CACHE_TTL_S", "not-a-number")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.AuthFailOpen)
	assert.Equal(t, uint64(5000), cfg.MaxSteps)
	assert.Zero(t, cfg.RunTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	// unparsable values fall back to the default
	assert.Equal(t, 60*time.Second, cfg.ToolCacheTTL)
}

func TestFromEnv_RequiresDispatcher(t *testing.T) {
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "")
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLAN_GUARD_DISPATCHER_URL")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PLAN_GUARD_DISPATCHER_URL=http://from-dotenv:1\nPLAN_GUARD_LOG_LEVEL=debug\n"), 0o600))
	t.Chdir(dir)

	// real environment wins over .env
	t.Setenv("PLAN_GUARD_LOG_LEVEL", "warn")
	// t.Setenv restores on cleanup; godotenv sets the unset key directly
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "")
	require.NoError(t, os.Unsetenv("PLAN_GUARD_DISPATCHER_URL"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv:1", cfg.DispatcherURL)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_NoDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "http://dispatcher:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://dispatcher:9000", cfg.DispatcherURL)
}
