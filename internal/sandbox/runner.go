// Package sandbox runs untrusted plans. A plan is Starlark source defining an
// entry-point function; its only capabilities are the mcp, json and re modules,
// and every tool call it makes goes through a gateway.Gateway.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/gateway"
	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

const (
	DefaultEntryPoint = "solve"
	DefaultMaxSteps   = 1_000_000
)

// Outcome kinds that do not come from the gateway.
const (
	KindPlanRejected = "plan_rejected"
	KindRuntime      = "runtime"
)

// Outcome is the full result of one run. Result is always set.
type Outcome struct {
	Result    string
	Failed    bool
	ErrorKind string // empty on success
	ToolCalls int
	Duration  time.Duration
}

// Runner validates and executes plans against an engine. It holds no per-run
// state and is safe for concurrent use.
type Runner struct {
	engine     *engine.Engine
	entryPoint string
	maxSteps   uint64
	logger     *zap.Logger
	gwOpts     []gateway.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithEntryPoint sets the default function name called after loading.
func WithEntryPoint(name string) Option {
	return func(r *Runner) { r.entryPoint = name }
}

// WithMaxSteps caps interpreter steps per run. Zero disables the cap.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) { r.maxSteps = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithGatewayOptions applies opts to the gateway of every run.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(r *Runner) { r.gwOpts = append(r.gwOpts, opts...) }
}

// NewRunner creates a Runner.
func NewRunner(eng *engine.Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:     eng,
		entryPoint: DefaultEntryPoint,
		maxSteps:   DefaultMaxSteps,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type runConfig struct {
	entryPoint string
	gwOpts     []gateway.Option
}

// RunOption adjusts a single run.
type RunOption func(*runConfig)

// Entry overrides the entry point for one run. Empty keeps the default.
func Entry(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.entryPoint = name
		}
	}
}

// Hook observes every tool call of one run.
func Hook(hook gateway.EventHook) RunOption {
	return func(c *runConfig) { c.gwOpts = append(c.gwOpts, gateway.WithEventHook(hook)) }
}

// Run executes plan and returns only its result text.
func (r *Runner) Run(ctx context.Context, plan string, d gateway.Dispatcher, opts ...RunOption) string {
	return r.Execute(ctx, plan, d, opts...).Result
}

// Execute validates plan, runs its entry point with a fresh gateway and
// normalizes the return value. Plan-side failures never escape as errors or
// panics; they become a "[sandbox error: ...]" result.
func (r *Runner) Execute(ctx context.Context, plan string, d gateway.Dispatcher, opts ...RunOption) (out Outcome) {
	start := time.Now()
	cfg := runConfig{entryPoint: r.entryPoint}
	for _, opt := range opts {
		opt(&cfg)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("plan run panicked", zap.Any("panic", p))
			out.Result = sandboxError(fmt.Sprintf("internal error: %v", p))
			out.Failed = true
			out.ErrorKind = KindRuntime
		}
		out.Duration = time.Since(start)
	}()

	if err := r.engine.ValidatePlan(plan); err != nil {
		r.logger.Warn("plan rejected", zap.String("kind", KindPlanRejected), zap.Error(err))
		return Outcome{
			Result:    sandboxError("Security validation failed - " + err.Error()),
			Failed:    true,
			ErrorKind: KindPlanRejected,
		}
	}

	gw := gateway.New(r.engine, d, append(append([]gateway.Option{gateway.WithLogger(r.logger)}, r.gwOpts...), cfg.gwOpts...)...)
	rec := &callRecorder{}

	value, err := r.run(ctx, plan, cfg.entryPoint, gw, rec)
	out.ToolCalls = gw.Calls()
	if err != nil {
		out.Result = sandboxError(err.Error())
		out.Failed = true
		out.ErrorKind = KindRuntime
		// call_tool failures cannot be caught, so one recorded here ended the run.
		if kind, ok := gateway.KindOf(rec.lastErr); ok {
			out.ErrorKind = string(kind)
		}
		r.logger.Info("plan run failed", zap.String("kind", out.ErrorKind), zap.Error(err))
		return out
	}

	result := normalize(value)
	if err := r.engine.ValidateMemoryUsage(int64(len(result)), r.engine.Config().MaxResultSizeMB); err != nil {
		out.Result = sandboxError("result too large: " + err.Error())
		out.Failed = true
		out.ErrorKind = KindRuntime
		return out
	}
	out.Result = result
	return out
}

func (r *Runner) run(ctx context.Context, plan, entryPoint string, gw *gateway.Gateway, rec *callRecorder) (starlark.Value, error) {
	thread := &starlark.Thread{
		Name: "plan",
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Debug("plan print", zap.String("msg", msg))
		},
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, errors.New("load is not permitted")
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()

	globals, err := starlark.ExecFile(thread, "plan.star", desugarAsync(plan), predeclared(ctx, gw, rec))
	if err != nil {
		return nil, err
	}

	fn, ok := globals[entryPoint]
	if !ok {
		return nil, fmt.Errorf("entry point '%s' not defined", entryPoint)
	}
	if _, ok := fn.(starlark.Callable); !ok {
		return nil, fmt.Errorf("entry point '%s' is a %s, not a function", entryPoint, fn.Type())
	}
	return starlark.Call(thread, fn, nil, nil)
}

var (
	asyncDefRe = regexp.MustCompile(`(?m)^([ \t]*)async[ \t]+def\b`)
	awaitRe    = regexp.MustCompile(`\bawait[ \t]+([A-Za-z_(\[])`)
)

// desugarAsync lets planners that emit "async def" and "await" keep doing so.
// Tool calls already block the plan goroutine, so both keywords are dropped.
// The rewrite is textual: "await " inside a string literal is removed too.
func desugarAsync(plan string) string {
	plan = asyncDefRe.ReplaceAllString(plan, "${1}def")
	return awaitRe.ReplaceAllString(plan, "$1")
}

// normalize renders a plan's return value as the run's result text.
func normalize(v starlark.Value) string {
	switch t := v.(type) {
	case *starlark.Dict:
		if res, found, _ := t.Get(starlark.String("result")); found {
			return text(res)
		}
		if s, err := encodeJSON(t); err == nil {
			return s
		}
		return t.String()
	case *starlark.List:
		return joinElems(t)
	case starlark.Tuple:
		return joinElems(t)
	default:
		return text(v)
	}
}

func text(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func joinElems(it starlark.Iterable) string {
	var parts []string
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		parts = append(parts, text(x))
	}
	return strings.Join(parts, " ")
}

// encodeJSON renders v with ", " and ": " separators, the layout plan
// authors know from Python's json.dumps. Dict keys keep insertion order.
func encodeJSON(v starlark.Value) (string, error) {
	var b strings.Builder
	if err := writeJSON(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeJSON(b *strings.Builder, v starlark.Value) error {
	switch t := v.(type) {
	case *starlark.Dict:
		b.WriteByte('{')
		for i, item := range t.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeJSON(b, starlark.String(key)); err != nil {
				return err
			}
			b.WriteString(": ")
			if err := writeJSON(b, item[1]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case *starlark.List:
		return writeSeq(b, t)
	case starlark.Tuple:
		return writeSeq(b, t)
	}
	// Scalars encode the same either way.
	encode := json.Module.Members["encode"]
	out, err := starlark.Call(&starlark.Thread{Name: "normalize"}, encode, starlark.Tuple{v}, nil)
	if err != nil {
		return err
	}
	s, _ := starlark.AsString(out)
	b.WriteString(s)
	return nil
}

func writeSeq(b *strings.Builder, seq starlark.Indexable) error {
	b.WriteByte('[')
	for i := 0; i < seq.Len(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeJSON(b, seq.Index(i)); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func sandboxError(msg string) string {
	return "[sandbox error: " + msg + "]"
}
