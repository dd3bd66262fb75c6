package sandbox

import (
	"context"
	"fmt"
	"regexp"

	"github.com/triage-ai/palisade/services/plan_guard/internal/gateway"
	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// callRecorder remembers the last gateway error a plan let propagate, so the
// run outcome can report its kind.
type callRecorder struct {
	lastErr error
}

// predeclared is the complete set of names visible to a plan.
func predeclared(ctx context.Context, gw *gateway.Gateway, rec *callRecorder) starlark.StringDict {
	return starlark.StringDict{
		"mcp":  mcpModule(ctx, gw, rec),
		"json": json.Module,
		"re":   reModule,
	}
}

func mcpModule(ctx context.Context, gw *gateway.Gateway, rec *callRecorder) *starlarkstruct.Module {
	invoke := func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var toolArgs *starlark.Dict
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "args?", &toolArgs); err != nil {
			return nil, err
		}
		goArgs := map[string]any{}
		if toolArgs != nil {
			converted, err := fromStarlark(toolArgs)
			if err != nil {
				return nil, fmt.Errorf("%s: args: %v", b.Name(), err)
			}
			goArgs = converted.(map[string]any)
		}
		result, err := gw.CallTool(ctx, name, goArgs)
		if err != nil {
			return nil, err
		}
		return toStarlark(result)
	}

	callTool := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := invoke(b, args, kwargs)
		if err != nil {
			rec.lastErr = err
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return v, nil
	}

	// try_call_tool reports gateway failures as a value, since plans cannot
	// catch errors.
	tryCallTool := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := invoke(b, args, kwargs)
		out := starlark.NewDict(4)
		if err != nil {
			kind, ok := gateway.KindOf(err)
			if !ok {
				// Bad arguments from the plan itself stay fatal.
				return nil, err
			}
			_ = out.SetKey(starlark.String("ok"), starlark.False)
			_ = out.SetKey(starlark.String("result"), starlark.None)
			_ = out.SetKey(starlark.String("error"), starlark.String(err.Error()))
			_ = out.SetKey(starlark.String("kind"), starlark.String(kind))
			return out, nil
		}
		_ = out.SetKey(starlark.String("ok"), starlark.True)
		_ = out.SetKey(starlark.String("result"), v)
		_ = out.SetKey(starlark.String("error"), starlark.None)
		_ = out.SetKey(starlark.String("kind"), starlark.None)
		return out, nil
	}

	return &starlarkstruct.Module{
		Name: "mcp",
		Members: starlark.StringDict{
			"call_tool":     starlark.NewBuiltin("call_tool", callTool),
			"try_call_tool": starlark.NewBuiltin("try_call_tool", tryCallTool),
		},
	}
}

// reModule exposes RE2 matching. search and match return a match object with
// group, groups, start and end. Replacement strings in sub use $1 group syntax.
var reModule = &starlarkstruct.Module{
	Name: "re",
	Members: starlark.StringDict{
		"search":  starlark.NewBuiltin("search", reSearch),
		"match":   starlark.NewBuiltin("match", reMatch),
		"findall": starlark.NewBuiltin("findall", reFindAll),
		"sub":     starlark.NewBuiltin("sub", reSub),
		"split":   starlark.NewBuiltin("split", reSplit),
	},
}

func compilePattern(b *starlark.Builtin, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid pattern: %v", b.Name(), err)
	}
	return re, nil
}

// reSearch returns a match object for the first match anywhere in s, or None.
func reSearch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b, pattern)
	if err != nil {
		return nil, err
	}
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return starlark.None, nil
	}
	return newMatch(s, loc), nil
}

// reMatch is reSearch anchored at the start of s.
func reMatch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b, pattern)
	if err != nil {
		return nil, err
	}
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 {
		return starlark.None, nil
	}
	return newMatch(s, loc), nil
}

// newMatch builds the subset of a Python match object plans use:
// group(n=0), groups(), start() and end(). Unmatched groups are None.
func newMatch(s string, loc []int) starlark.Value {
	group := func(n int) starlark.Value {
		if loc[2*n] < 0 {
			return starlark.None
		}
		return starlark.String(s[loc[2*n]:loc[2*n+1]])
	}
	ngroups := len(loc)/2 - 1

	return starlarkstruct.FromStringDict(starlark.String("match"), starlark.StringDict{
		"group": starlark.NewBuiltin("group", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			n := 0
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
				return nil, err
			}
			if n < 0 || n > ngroups {
				return nil, fmt.Errorf("group: no such group %d", n)
			}
			return group(n), nil
		}),
		"groups": starlark.NewBuiltin("groups", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			out := make(starlark.Tuple, 0, ngroups)
			for i := 1; i <= ngroups; i++ {
				out = append(out, group(i))
			}
			return out, nil
		}),
		"start": starlark.NewBuiltin("start", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.MakeInt(loc[0]), nil
		}),
		"end": starlark.NewBuiltin("end", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return starlark.MakeInt(loc[1]), nil
		}),
	})
}

// reFindAll returns whole matches, the single group, or tuples of groups.
func reFindAll(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b, pattern)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		switch len(m) {
		case 1:
			out = append(out, starlark.String(m[0]))
		case 2:
			out = append(out, starlark.String(m[1]))
		default:
			groups := make(starlark.Tuple, 0, len(m)-1)
			for _, g := range m[1:] {
				groups = append(groups, starlark.String(g))
			}
			out = append(out, groups)
		}
	}
	return starlark.NewList(out), nil
}

func reSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, repl, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b, pattern)
	if err != nil {
		return nil, err
	}
	return starlark.String(re.ReplaceAllString(s, repl)), nil
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "string", &s); err != nil {
		return nil, err
	}
	re, err := compilePattern(b, pattern)
	if err != nil {
		return nil, err
	}
	parts := re.Split(s, -1)
	out := make([]starlark.Value, 0, len(parts))
	for _, p := range parts {
		out = append(out, starlark.String(p))
	}
	return starlark.NewList(out), nil
}
