package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.MaxToolCallsPerPlan)
	assert.Equal(t, 10000, cfg.MaxPlanLength)
	assert.Contains(t, cfg.BlockedCommands, "rm -rf")
	assert.Contains(t, cfg.BlockedFileOperations, "/etc/")
}

func TestValidate_RejectsNegative(t *testing.T) {
	cfg := Default()
	cfg.MaxJSONDepth = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_json_depth")
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	cfg := Default()
	snap := cfg.Snapshot()
	snap.BlockedCommands[0] = "changed"
	assert.Equal(t, "rm -rf", cfg.BlockedCommands[0])
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesAndKeepsMissingKeys(t *testing.T) {
	path := writeRuleFile(t, `
max_json_depth: 4
max_url_calls_per_domain: "2"
allow_non_ascii: false
blocked_commands:
  - shutdown
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxJSONDepth)
	assert.Equal(t, 2, cfg.MaxURLCallsPerDomain)
	assert.False(t, cfg.AllowNonASCII)
	assert.Equal(t, []string{"shutdown"}, cfg.BlockedCommands)
	assert.Equal(t, Default().MaxPlanLength, cfg.MaxPlanLength)
	assert.Equal(t, Default().BlockedFileOperations, cfg.BlockedFileOperations)
}

func TestLoad_ExplicitZeroOverrides(t *testing.T) {
	path := writeRuleFile(t, "max_files_per_call: 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MaxFilesPerCall)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeRuleFile(t, "max_json_dept: 4\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_NegativeValue(t *testing.T) {
	path := writeRuleFile(t, "request_timeout_seconds: -5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout_seconds")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	overrides, err := ParseOverrides([]string{
		"max_plan_length=200",
		"blocked_file_operations=/etc/, /root/",
	})
	require.NoError(t, err)

	cfg, err := Apply(Default(), overrides)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.MaxPlanLength)
	assert.Equal(t, []string{"/etc/", "/root/"}, cfg.BlockedFileOperations)
}

func TestParseOverrides_Malformed(t *testing.T) {
	_, err := ParseOverrides([]string{"max_plan_length"})
	require.Error(t, err)
}

func TestMarshal_RoundTripsThroughLoad(t *testing.T) {
	cfg := Default()
	cfg.MaxJSONDepth = 7
	data, err := cfg.Marshal()
	require.NoError(t, err)

	loaded, err := Load(writeRuleFile(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
