package storage

import (
	"time"

	"go.uber.org/zap"
)

// EventWriter persists run and tool call events.
// Write methods must NEVER block the caller.
type EventWriter interface {
	WritePlanRun(event *PlanRunEvent)
	WriteToolCall(event *ToolCallEvent)
	Close()
}

// PlanRunEvent is one finished plan run.
type PlanRunEvent struct {
	RunID      string
	ProjectID  string
	Timestamp  time.Time
	PlanSHA256 string
	PlanLength int32
	EntryPoint string
	Failed     bool
	ErrorKind  string // "" on success
	Result     string // truncated to MaxStoredResult
	ToolCalls  int32
	LatencyMs  float32
	Source     string // "http" or "cli"
}

// ToolCallEvent is one gateway decision within a run.
type ToolCallEvent struct {
	RunID         string
	ProjectID     string
	Timestamp     time.Time
	ToolName      string
	ArgumentsJSON string
	Outcome       string // "forwarded" or the failure kind
	Error         string
	LatencyMs     float32
}

// MaxStoredResult bounds PlanRunEvent.Result.
const MaxStoredResult = 4096

// Truncate cuts s to MaxStoredResult bytes.
func Truncate(s string) string {
	if len(s) <= MaxStoredResult {
		return s
	}
	return s[:MaxStoredResult]
}

// LogWriter is a fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) WritePlanRun(event *PlanRunEvent) {
	w.logger.Info("plan_run_event",
		zap.String("run_id", event.RunID),
		zap.String("project_id", event.ProjectID),
		zap.String("plan_sha256", event.PlanSHA256),
		zap.Bool("failed", event.Failed),
		zap.String("error_kind", event.ErrorKind),
		zap.Int32("tool_calls", event.ToolCalls),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("source", event.Source),
	)
}

func (w *LogWriter) WriteToolCall(event *ToolCallEvent) {
	w.logger.Info("tool_call_event",
		zap.String("run_id", event.RunID),
		zap.String("project_id", event.ProjectID),
		zap.String("tool_name", event.ToolName),
		zap.String("outcome", event.Outcome),
		zap.String("error", event.Error),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
