// Package gateway is the single path from a plan to real tools. Every call is
// budgeted, validated by the engine and bounded in time before it reaches the
// dispatcher.
package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"go.uber.org/zap"
)

// Dispatcher executes tools on behalf of the gateway.
type Dispatcher interface {
	ListAllTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Event describes one finished CallTool, successful or not.
type Event struct {
	Tool    string
	Args    map[string]any
	Kind    Kind // empty on success
	Err     error
	Latency time.Duration
}

// EventHook observes calls. It runs synchronously on the calling goroutine.
type EventHook func(Event)

// Gateway mediates the tool calls of one plan run. The call budget is owned by
// the gateway, so a new Gateway is created per run.
type Gateway struct {
	engine      *engine.Engine
	dispatcher  Dispatcher
	maxCalls    int64
	callTimeout time.Duration
	logger      *zap.Logger
	hook        EventHook

	calls atomic.Int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxCalls overrides max_tool_calls_per_plan.
func WithMaxCalls(n int) Option {
	return func(g *Gateway) { g.maxCalls = int64(n) }
}

// WithCallTimeout overrides request_timeout_seconds for forwarded calls.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.callTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithEventHook(hook EventHook) Option {
	return func(g *Gateway) { g.hook = hook }
}

// New creates a Gateway with a fresh budget.
func New(eng *engine.Engine, dispatcher Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		engine:     eng,
		dispatcher: dispatcher,
		maxCalls:   int64(eng.Config().MaxToolCallsPerPlan),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Calls returns how many calls have been attempted, including rejected ones.
func (g *Gateway) Calls() int {
	return int(g.calls.Load())
}

// CallTool validates and forwards one tool call. Any failure is a *CallError.
// Once the budget is exhausted every later call fails with KindBudget.
func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	result, err := g.callTool(ctx, name, args)
	g.observe(name, args, err, time.Since(start))
	return result, err
}

func (g *Gateway) callTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if n := g.calls.Add(1); n > g.maxCalls {
		return nil, &CallError{Kind: KindBudget, Tool: name, Limit: int(g.maxCalls), Err: ErrBudgetExceeded}
	}

	available, err := g.dispatcher.ListAllTools(ctx)
	if err != nil {
		return nil, &CallError{Kind: KindDispatch, Tool: name, Err: err}
	}

	if res := g.engine.ValidateToolCall(ctx, name, args, available); !res.OK() {
		return nil, &CallError{Kind: KindPolicy, Tool: name, Messages: res.Errors}
	}

	timeout := g.callTimeout
	if timeout <= 0 {
		timeout = g.engine.TimeoutConfig()
	}
	result, err := g.engine.ExecuteWithTimeout(ctx, timeout, func(callCtx context.Context) (any, error) {
		return g.dispatcher.CallTool(callCtx, name, args)
	})
	if err != nil {
		var v *engine.Violation
		if errors.As(err, &v) && v.Rule == engine.RuleTimeout {
			return nil, &CallError{Kind: KindTimeout, Tool: name, Timeout: timeout, Err: err}
		}
		return nil, &CallError{Kind: KindDispatch, Tool: name, Err: err}
	}
	return result, nil
}

func (g *Gateway) observe(name string, args map[string]any, err error, latency time.Duration) {
	ev := Event{Tool: name, Args: args, Err: err, Latency: latency}
	if err == nil {
		g.logger.Debug("tool call forwarded",
			zap.String("tool", name),
			zap.Duration("latency", latency),
		)
	} else {
		ev.Kind, _ = KindOf(err)
		fields := []zap.Field{
			zap.String("tool", name),
			zap.String("kind", string(ev.Kind)),
			zap.Duration("latency", latency),
			zap.Error(err),
		}
		if ev.Kind == KindDispatch {
			g.logger.Error("tool call failed", fields...)
		} else {
			g.logger.Warn("tool call rejected", fields...)
		}
	}
	if g.hook != nil {
		g.hook(ev)
	}
}
