package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newDispatcherServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tools": []string{"echo"}})
	})
	mux.HandleFunc("POST /tools/{name}/call", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": body.Arguments["text"]})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun_Success(t *testing.T) {
	srv := newDispatcherServer(t)
	plan := writeFile(t, "plan.star", `def solve():
    return {"result": mcp.call_tool("echo", {"text": "hello"})}
`)
	out, err := execute(t, "run", plan, "--dispatcher", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRun_BudgetFromSet(t *testing.T) {
	srv := newDispatcherServer(t)
	plan := writeFile(t, "plan.star", `def solve():
    for i in range(2):
        mcp.call_tool("echo", {"text": "x"})
    return "done"
`)
	out, err := execute(t, "run", plan, "--dispatcher", srv.URL, "--set", "max_tool_calls_per_plan=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")
	assert.Contains(t, out, "exceeded max tool calls (1) in plan")
}

func TestRun_RequiresDispatcher(t *testing.T) {
	t.Setenv("PLAN_GUARD_DISPATCHER_URL", "")
	plan := writeFile(t, "plan.star", "def solve():\n    return 1\n")
	_, err := execute(t, "run", plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dispatcher")
}

func TestRun_ToolsFileSchema(t *testing.T) {
	srv := newDispatcherServer(t)
	tools := writeFile(t, "tools.yaml", `tools:
  - name: echo
    argument_schema:
      type: object
      required: [text]
      properties:
        text: {type: string}
      additionalProperties: false
`)
	plan := writeFile(t, "plan.star", `def solve():
    return mcp.call_tool("echo", {"txt": "typo"})
`)
	out, err := execute(t, "run", plan, "--dispatcher", srv.URL, "--tools", tools)
	require.Error(t, err)
	assert.Contains(t, out, "Argument schema")
}

func TestValidate(t *testing.T) {
	ok := writeFile(t, "ok.star", "def solve():\n    return 1\n")
	out, err := execute(t, "validate", ok)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	bad := writeFile(t, "bad.star", "def solve():\n    return exec(\"x\")\n")
	_, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangerous operation 'exec'")
}

func TestConfig_PrintsEffectiveRules(t *testing.T) {
	file := writeFile(t, "rules.yaml", "max_plan_length: 200\n")
	out, err := execute(t, "config", "--config", file, "--set", "allow_non_ascii=false")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, 200, got["max_plan_length"])
	assert.Equal(t, false, got["allow_non_ascii"])
	assert.Equal(t, 5, got["max_tool_calls_per_plan"])
	assert.True(t, strings.Contains(out, "blocked_commands:"))
}

func TestConfig_RejectsUnknownKey(t *testing.T) {
	_, err := execute(t, "config", "--set", "no_such_rule=1")
	require.Error(t, err)
}
