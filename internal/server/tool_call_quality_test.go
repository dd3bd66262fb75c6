package server

import (
	"strings"
	"testing"

	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
)

// These tests drive plans through the HTTP API and check that the gateway
// catches the usual classes of bad tool calls before they are dispatched:
//
//   VALID_CALL        tool name, params and values are all correct
//   TOOL_ERROR        tool name doesn't exist
//   PARAM_NAME_ERROR  correct tool, but param names are wrong/missing/extra
//   PARAM_VALUE_ERROR tool and params correct, but values are wrong

func qualityToolRegistry() registry.ToolRegistry {
	return registry.MapRegistry{
		"order_food": {
			ToolName: "order_food",
			ArgumentSchema: map[string]any{
				"type":     "object",
				"required": []any{"item_name", "quantity"},
				"properties": map[string]any{
					"item_name": map[string]any{"type": "string"},
					"quantity":  map[string]any{"type": "integer", "minimum": float64(1)},
				},
				"additionalProperties": false,
			},
		},
		"get_weather": {
			ToolName: "get_weather",
			ArgumentSchema: map[string]any{
				"type":     "object",
				"required": []any{"location"},
				"properties": map[string]any{
					"location": map[string]any{"type": "string"},
					"unit":     map[string]any{"type": "string", "enum": []any{"celsius", "fahrenheit"}},
				},
				"additionalProperties": false,
			},
		},
		"send_email": {
			ToolName: "send_email",
			ArgumentSchema: map[string]any{
				"type":     "object",
				"required": []any{"to", "subject", "body"},
				"properties": map[string]any{
					"to":      map[string]any{"type": "string"},
					"subject": map[string]any{"type": "string"},
					"body":    map[string]any{"type": "string"},
				},
				"additionalProperties": false,
			},
		},
		"transfer_funds": {
			ToolName: "transfer_funds",
			ArgumentSchema: map[string]any{
				"type":     "object",
				"required": []any{"from_account", "to_account", "amount", "currency"},
				"properties": map[string]any{
					"from_account": map[string]any{"type": "string"},
					"to_account":   map[string]any{"type": "string"},
					"amount":       map[string]any{"type": "number", "minimum": float64(0.01)},
					"currency":     map[string]any{"type": "string", "enum": []any{"USD", "EUR", "GBP"}},
				},
				"additionalProperties": false,
			},
		},
		// "search" has no schema; only the generic checks apply
		"search": {ToolName: "search"},
	}
}

func planCalling(tool, args string) string {
	return "def solve():\n    return mcp.call_tool(\"" + tool + "\", " + args + ")\n"
}

func expectForwarded(t *testing.T, env *testEnv, plan string) {
	t.Helper()
	res := env.run(t, plan)
	if res.Failed {
		t.Fatalf("VALID_CALL: expected forwarded call, got failure %q (%s)", res.ErrorKind, res.Result)
	}
	if env.dispatcher.callCount() != 1 {
		t.Fatalf("VALID_CALL: expected 1 dispatched call, got %d", env.dispatcher.callCount())
	}
}

func expectRejected(t *testing.T, env *testEnv, plan, wantMsg string) {
	t.Helper()
	res := env.run(t, plan)
	if !res.Failed || res.ErrorKind != "policy" {
		t.Fatalf("expected policy rejection, got failed=%v kind=%q (%s)", res.Failed, res.ErrorKind, res.Result)
	}
	if !strings.Contains(res.Result, wantMsg) {
		t.Fatalf("expected %q in result, got %s", wantMsg, res.Result)
	}
	if n := env.dispatcher.callCount(); n != 0 {
		t.Fatalf("rejected call must not reach the dispatcher, got %d calls", n)
	}
}

// ---------------------------------------------------------------------------
// VALID_CALL
// ---------------------------------------------------------------------------

func TestQuality_ValidCall_OrderFood(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectForwarded(t, env, planCalling("order_food", `{"item_name": "Margherita Pizza", "quantity": 2}`))
}

func TestQuality_ValidCall_GetWeather(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectForwarded(t, env, planCalling("get_weather", `{"location": "San Francisco", "unit": "celsius"}`))
}

func TestQuality_ValidCall_TransferFunds(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectForwarded(t, env, planCalling("transfer_funds",
		`{"from_account": "acc-123", "to_account": "acc-456", "amount": 50.0, "currency": "USD"}`))
}

func TestQuality_ValidCall_NoSchema(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectForwarded(t, env, planCalling("search", `{"anything": ["goes", 1, True]}`))
}

// ---------------------------------------------------------------------------
// TOOL_ERROR
// ---------------------------------------------------------------------------

func TestQuality_ToolError_NonexistentTool(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	// "order_pizza" doesn't exist; the caller meant "order_food"
	expectRejected(t, env, planCalling("order_pizza", `{"item_name": "Margherita Pizza", "quantity": 2}`),
		"tool \"order_pizza\" not found in registry")
}

func TestQuality_ToolError_MisspelledTool(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("sent_email", `{"to": "alice", "subject": "Hi", "body": "Hello"}`),
		"Available tools:")
}

// ---------------------------------------------------------------------------
// PARAM_NAME_ERROR
// ---------------------------------------------------------------------------

func TestQuality_ParamNameError_MissingRequiredParam(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("order_food", `{"item_name": "Margherita Pizza"}`), "Argument schema")
}

func TestQuality_ParamNameError_WrongParamName(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("order_food", `{"item": "Margherita Pizza", "qty": 2}`), "Argument schema")
}

func TestQuality_ParamNameError_ExtraParams(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("order_food",
		`{"item_name": "Margherita Pizza", "quantity": 2, "notes": "extra cheese"}`), "Argument schema")
}

func TestQuality_ParamNameError_SendEmail_MissingBody(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("send_email", `{"to": "alice", "subject": "Hello"}`), "Argument schema")
}

// ---------------------------------------------------------------------------
// PARAM_VALUE_ERROR
// ---------------------------------------------------------------------------

func TestQuality_ParamValueError_WrongType(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("order_food", `{"item_name": "Margherita Pizza", "quantity": "two"}`), "Argument schema")
}

func TestQuality_ParamValueError_BelowMinimum(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("order_food", `{"item_name": "Margherita Pizza", "quantity": 0}`), "Argument schema")
}

func TestQuality_ParamValueError_InvalidEnum(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("get_weather", `{"location": "Tokyo", "unit": "kelvin"}`), "Argument schema")
}

func TestQuality_ParamValueError_InvalidCurrency(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("transfer_funds",
		`{"from_account": "acc-123", "to_account": "acc-456", "amount": 50.0, "currency": "BTC"}`), "Argument schema")
}

func TestQuality_ParamValueError_InjectionInQuery(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("search", `{"query": "x' OR '1'='1"}`), "SQL injection check")
}

func TestQuality_ParamValueError_SecretInEmailBody(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	expectRejected(t, env, planCalling("send_email",
		`{"to": "bob", "subject": "Creds", "body": "password=hunter2hunter2"}`), "potential API key or secret")
}

// ---------------------------------------------------------------------------
// Combined scenarios
// ---------------------------------------------------------------------------

func TestQuality_Combined_SchemaAndURL(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	// unknown "url" property breaks the schema and the host is loopback
	res := env.run(t, planCalling("get_weather", `{"location": "Oslo", "url": "http://127.0.0.1/x"}`))
	if !res.Failed {
		t.Fatalf("COMBINED: expected failure, got %s", res.Result)
	}
	for _, want := range []string{"Argument schema", "URL validation"} {
		if !strings.Contains(res.Result, want) {
			t.Fatalf("COMBINED: expected %q in %s", want, res.Result)
		}
	}
}

func TestQuality_TryCallToolKeepsPlanRunning(t *testing.T) {
	env := setupTestServer(t, qualityToolRegistry(), nil)
	plan := `def solve():
    bad = mcp.try_call_tool("order_food", {"item": "soup"})
    good = mcp.try_call_tool("order_food", {"item_name": "soup", "quantity": 1})
    return [bad["ok"], bad["kind"], good["ok"]]
`
	res := env.run(t, plan)
	if res.Failed {
		t.Fatalf("expected success, got %s", res.Result)
	}
	if res.Result != "False policy True" {
		t.Fatalf("unexpected result %q", res.Result)
	}
	if res.ToolCalls != 2 {
		t.Fatalf("expected 2 budgeted calls, got %d", res.ToolCalls)
	}
}
