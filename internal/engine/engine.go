package engine

import (
	"context"
	"sync"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/rules"
	"go.uber.org/zap"
)

// SchemaLookup returns the JSON Schema registered for a tool's arguments,
// or nil when the tool has none.
type SchemaLookup func(ctx context.Context, toolName string) (map[string]any, error)

// Engine is the heuristics core. It owns the per-domain rate window and the
// session tool-call counters; both are safe for concurrent use, so one Engine
// may serve many plan runs at once.
//
// There is no package-level instance. Callers construct one per session and
// build a fresh one to reset state.
type Engine struct {
	cfg     rules.RuleConfig
	logger  *zap.Logger
	now     func() time.Time
	schemas SchemaLookup
	started time.Time

	mu        sync.Mutex
	urlCalls  map[string][]time.Time // domain -> timestamps inside the window
	toolCalls map[string]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests of the sliding window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSchemaLookup enables the argument-schema step of ValidateToolCall.
func WithSchemaLookup(fn SchemaLookup) Option {
	return func(e *Engine) { e.schemas = fn }
}

// New creates an Engine over a snapshot of cfg.
func New(cfg rules.RuleConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.Snapshot(),
		logger:    zap.NewNop(),
		now:       time.Now,
		urlCalls:  make(map[string][]time.Time),
		toolCalls: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.started = e.now()
	return e
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() rules.RuleConfig {
	return e.cfg.Snapshot()
}

// Report is a point-in-time view of the engine state, for observability only.
type Report struct {
	SessionDurationSeconds float64          `json:"session_duration_seconds"`
	URLCallsByDomain       map[string]int   `json:"url_calls_by_domain"`
	TotalToolCalls         int              `json:"total_tool_calls"`
	ToolCallsByName        map[string]int   `json:"tool_calls_by_name"`
	Config                 rules.RuleConfig `json:"config"`
}

// Report snapshots the session counters.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	byDomain := make(map[string]int, len(e.urlCalls))
	for domain, calls := range e.urlCalls {
		byDomain[domain] = len(calls)
	}
	byName := make(map[string]int, len(e.toolCalls))
	total := 0
	for name, n := range e.toolCalls {
		byName[name] = n
		total += n
	}

	return Report{
		SessionDurationSeconds: e.now().Sub(e.started).Seconds(),
		URLCallsByDomain:       byDomain,
		TotalToolCalls:         total,
		ToolCallsByName:        byName,
		Config:                 e.cfg.Snapshot(),
	}
}

func (e *Engine) recordToolCall(name string) {
	e.mu.Lock()
	e.toolCalls[name]++
	e.mu.Unlock()
}
