package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/triage-ai/palisade/services/plan_guard/internal/gateway"
	"github.com/triage-ai/palisade/services/plan_guard/internal/sandbox"
)

// RunRecorder turns the gateway events and the outcome of one plan run into
// stored events. It is used by a single run, so it holds no lock.
type RunRecorder struct {
	writer    EventWriter
	runID     string
	projectID string
	source    string
	now       func() time.Time
}

// NewRunRecorder binds writer to one run.
func NewRunRecorder(writer EventWriter, runID, projectID, source string) *RunRecorder {
	return &RunRecorder{
		writer:    writer,
		runID:     runID,
		projectID: projectID,
		source:    source,
		now:       time.Now,
	}
}

// Hook is passed to the runner so every gateway decision is stored.
func (r *RunRecorder) Hook(ev gateway.Event) {
	outcome := "forwarded"
	if ev.Kind != "" {
		outcome = string(ev.Kind)
	}
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	argsJSON, err := json.Marshal(ev.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	r.writer.WriteToolCall(&ToolCallEvent{
		RunID:         r.runID,
		ProjectID:     r.projectID,
		Timestamp:     r.now(),
		ToolName:      ev.Tool,
		ArgumentsJSON: Truncate(string(argsJSON)),
		Outcome:       outcome,
		Error:         errText,
		LatencyMs:     millis(ev.Latency),
	})
}

// Finish stores the run itself.
func (r *RunRecorder) Finish(plan, entryPoint string, out sandbox.Outcome) {
	sum := sha256.Sum256([]byte(plan))
	r.writer.WritePlanRun(&PlanRunEvent{
		RunID:      r.runID,
		ProjectID:  r.projectID,
		Timestamp:  r.now(),
		PlanSHA256: hex.EncodeToString(sum[:]),
		PlanLength: int32(len(plan)),
		EntryPoint: entryPoint,
		Failed:     out.Failed,
		ErrorKind:  out.ErrorKind,
		Result:     Truncate(out.Result),
		ToolCalls:  int32(out.ToolCalls),
		LatencyMs:  millis(out.Duration),
		Source:     r.source,
	})
}

func millis(d time.Duration) float32 {
	return float32(float64(d) / float64(time.Millisecond))
}
