package engine

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// ValidateToolCall runs every per-call check in a fixed order and collects all
// failures rather than stopping at the first. The session tool-call counter is
// incremented whether or not the call passes.
func (e *Engine) ValidateToolCall(ctx context.Context, name string, args map[string]any, available []string) Result {
	var res Result
	defer e.recordToolCall(name)

	res.Add("", e.ValidateToolExists(name, available))

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		res.Add("Tool args validation: ", err)
		raw = []byte("{}")
	} else if _, err := e.ValidateJSONInput(string(raw), e.cfg.MaxJSONDepth); err != nil {
		res.Add("Tool args validation: ", err)
	}
	argsJSON := string(raw)

	res.Add("Argument schema: ", e.validateArgumentSchema(ctx, name, argsJSON))
	res.Add("", e.ValidateAPIKeyExposure(argsJSON))

	if v, ok := nestedField(args, "url"); ok {
		s, isString := v.(string)
		if !isString {
			res.Add("URL validation: ", errors.New("URL is empty or not a string"))
		} else if err := e.ValidateURL(s); err != nil {
			res.Add("URL validation: ", err)
		} else {
			res.Add("Rate limit: ", e.CheckURLRateLimit(s))
		}
	}

	if v, ok := firstTruthy(args, "file_path", "path"); ok {
		paths, err := toPaths(v)
		if err != nil {
			res.Add("File validation: ", err)
		} else {
			res.Add("File validation: ", e.ValidateFileInputs(paths))
		}
	}

	if v, ok := firstTruthy(args, "command", "code"); ok {
		if s, isString := v.(string); isString {
			res.Add("Command safety: ", e.ValidateCommandSafety(s))
		} else {
			res.Add("Command safety: ", errors.New("command must be a string"))
		}
	}

	if v, ok := nestedField(args, "query"); ok {
		if s, isString := v.(string); isString {
			res.Add("SQL injection check: ", e.ValidateSQLInjection(s))
		}
	}

	if !res.OK() {
		e.logger.Debug("tool call rejected",
			zap.String("tool", name),
			zap.Strings("errors", res.Errors),
		)
	}
	return res
}

// nestedField looks key up inside args["input"] when that is an object,
// otherwise at the top level.
func nestedField(args map[string]any, key string) (any, bool) {
	if inner, ok := args["input"].(map[string]any); ok {
		v, found := inner[key]
		return v, found
	}
	v, found := args[key]
	return v, found
}

// firstTruthy returns the first of keys whose nested value is non-empty.
func firstTruthy(args map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := nestedField(args, k); ok && truthy(v) {
			return v, true
		}
	}
	return nil, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		return t.String() != "0"
	default:
		return true
	}
}

func toPaths(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("file paths must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("file paths must be a string or a list of strings")
	}
}
