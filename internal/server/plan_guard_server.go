package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/gateway"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/rules"
	"github.com/triage-ai/palisade/services/plan_guard/internal/sandbox"
	"github.com/triage-ai/palisade/services/plan_guard/internal/storage"
	"go.uber.org/zap"
)

// Config holds the server's tunables. Rules is applied to every session.
type Config struct {
	Rules       rules.RuleConfig
	Throttle    *Throttle
	MaxSteps    uint64        // 0 keeps the sandbox default
	RunTimeout  time.Duration // 0 means no deadline beyond the request's
	CORSOrigins []string
}

// session is one project's engine. Its rate window and counters survive
// across runs until the session is reset.
type session struct {
	engine *engine.Engine
	runner *sandbox.Runner
}

// PlanGuardServer runs plans on behalf of authenticated projects.
type PlanGuardServer struct {
	cfg        Config
	auth       auth.Authenticator
	registry   registry.ToolRegistry
	dispatcher gateway.Dispatcher
	writer     storage.EventWriter
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewPlanGuardServer creates a new PlanGuardServer with the given dependencies.
// reg may be nil, in which case no argument schemas are enforced.
func NewPlanGuardServer(
	cfg Config,
	authenticator auth.Authenticator,
	reg registry.ToolRegistry,
	d gateway.Dispatcher,
	writer storage.EventWriter,
	logger *zap.Logger,
) *PlanGuardServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writer == nil {
		writer = storage.NewLogWriter(logger)
	}
	return &PlanGuardServer{
		cfg:        cfg,
		auth:       authenticator,
		registry:   reg,
		dispatcher: d,
		writer:     writer,
		logger:     logger,
		sessions:   make(map[string]*session),
	}
}

// RunResult is the outcome of one plan run as returned to API callers.
type RunResult struct {
	RunID     string  `json:"run_id"`
	Result    string  `json:"result"`
	Failed    bool    `json:"failed"`
	ErrorKind string  `json:"error_kind,omitempty"`
	ToolCalls int     `json:"tool_calls"`
	LatencyMs float64 `json:"latency_ms"`
}

// RunPlan executes plan in the project's session. Plan failures are part of
// the result, never an error.
func (s *PlanGuardServer) RunPlan(ctx context.Context, projectID, plan, entryPoint string) RunResult {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	sess := s.session(projectID)
	runID := uuid.New().String()
	rec := storage.NewRunRecorder(s.writer, runID, projectID, "http")

	out := sess.runner.Execute(ctx, plan, s.dispatcher, sandbox.Entry(entryPoint), sandbox.Hook(rec.Hook))

	if entryPoint == "" {
		entryPoint = sandbox.DefaultEntryPoint
	}
	rec.Finish(plan, entryPoint, out)

	s.logger.Info("plan run finished",
		zap.String("run_id", runID),
		zap.String("project_id", projectID),
		zap.Bool("failed", out.Failed),
		zap.String("kind", out.ErrorKind),
		zap.Int("tool_calls", out.ToolCalls),
		zap.Duration("duration", out.Duration),
	)

	return RunResult{
		RunID:     runID,
		Result:    out.Result,
		Failed:    out.Failed,
		ErrorKind: out.ErrorKind,
		ToolCalls: out.ToolCalls,
		LatencyMs: float64(out.Duration) / float64(time.Millisecond),
	}
}

// ValidatePlan runs the static plan checks without executing anything.
func (s *PlanGuardServer) ValidatePlan(projectID, plan string) error {
	return s.session(projectID).engine.ValidatePlan(plan)
}

// Report returns the project's session report.
func (s *PlanGuardServer) Report(projectID string) engine.Report {
	return s.session(projectID).engine.Report()
}

// ResetSession discards the project's engine. The next request builds a
// fresh one with empty rate windows and counters.
func (s *PlanGuardServer) ResetSession(projectID string) {
	s.mu.Lock()
	delete(s.sessions, projectID)
	s.mu.Unlock()
	s.logger.Info("session reset", zap.String("project_id", projectID))
}

func (s *PlanGuardServer) session(projectID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[projectID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[projectID]; ok {
		return sess
	}
	sess = s.newSession(projectID)
	s.sessions[projectID] = sess
	return sess
}

func (s *PlanGuardServer) newSession(projectID string) *session {
	logger := s.logger.With(zap.String("project_id", projectID))
	engOpts := []engine.Option{engine.WithLogger(logger)}
	if s.registry != nil {
		engOpts = append(engOpts, engine.WithSchemaLookup(registry.SchemaLookup(s.registry, projectID)))
	}
	eng := engine.New(s.cfg.Rules, engOpts...)

	runOpts := []sandbox.Option{sandbox.WithLogger(logger)}
	if s.cfg.MaxSteps > 0 {
		runOpts = append(runOpts, sandbox.WithMaxSteps(s.cfg.MaxSteps))
	}
	return &session{engine: eng, runner: sandbox.NewRunner(eng, runOpts...)}
}
