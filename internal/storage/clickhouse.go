package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// flushFunc persists one batch. Either slice may be empty.
type flushFunc func(ctx context.Context, runs []*PlanRunEvent, calls []*ToolCallEvent)

// ClickHouseWriter writes events to ClickHouse asynchronously.
// Writes are non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan any // *PlanRunEvent | *ToolCallEvent
	done    chan struct{}
	flushed chan struct{}
	flush   flushFunc
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := newBufferedWriter(nil, logger)
	w.conn = conn
	w.flush = w.insert
	go w.flushLoop()
	return w, nil
}

// newBufferedWriter builds the writer without starting the loop.
func newBufferedWriter(flush flushFunc, logger *zap.Logger) *ClickHouseWriter {
	return &ClickHouseWriter{
		buffer:  make(chan any, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		flush:   flush,
		logger:  logger,
	}
}

// WritePlanRun queues a run event. Drops it if the buffer is full.
func (w *ClickHouseWriter) WritePlanRun(event *PlanRunEvent) {
	w.enqueue(event, event.RunID)
}

// WriteToolCall queues a tool call event. Drops it if the buffer is full.
func (w *ClickHouseWriter) WriteToolCall(event *ToolCallEvent) {
	w.enqueue(event, event.RunID)
}

func (w *ClickHouseWriter) enqueue(event any, runID string) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("run_id", runID),
		)
	}
}

// Close signals the flush loop to drain remaining events.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]any, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flushBatch(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flushBatch(events []any) {
	var runs []*PlanRunEvent
	var calls []*ToolCallEvent
	for _, e := range events {
		switch ev := e.(type) {
		case *PlanRunEvent:
			runs = append(runs, ev)
		case *ToolCallEvent:
			calls = append(calls, ev)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, runs, calls)
}

func (w *ClickHouseWriter) insert(ctx context.Context, runs []*PlanRunEvent, calls []*ToolCallEvent) {
	if len(runs) > 0 {
		w.insertRuns(ctx, runs)
	}
	if len(calls) > 0 {
		w.insertCalls(ctx, calls)
	}
}

func (w *ClickHouseWriter) insertRuns(ctx context.Context, runs []*PlanRunEvent) {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO plan_run_events (
			run_id, project_id, timestamp, plan_sha256, plan_length,
			entry_point, failed, error_kind, result,
			tool_calls, latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.String("table", "plan_run_events"), zap.Error(err))
		return
	}

	for _, e := range runs {
		var failedUint8 uint8
		if e.Failed {
			failedUint8 = 1
		}
		if err := batch.Append(
			e.RunID,
			e.ProjectID,
			e.Timestamp,
			e.PlanSHA256,
			e.PlanLength,
			e.EntryPoint,
			failedUint8,
			e.ErrorKind,
			e.Result,
			e.ToolCalls,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("run_id", e.RunID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.String("table", "plan_run_events"),
			zap.Int("batch_size", len(runs)),
			zap.Error(err),
		)
	}
}

func (w *ClickHouseWriter) insertCalls(ctx context.Context, calls []*ToolCallEvent) {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO tool_call_events (
			run_id, project_id, timestamp, tool_name, arguments_json,
			outcome, error, latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.String("table", "tool_call_events"), zap.Error(err))
		return
	}

	for _, e := range calls {
		if err := batch.Append(
			e.RunID,
			e.ProjectID,
			e.Timestamp,
			e.ToolName,
			e.ArgumentsJSON,
			e.Outcome,
			e.Error,
			e.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("run_id", e.RunID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.String("table", "tool_call_events"),
			zap.Int("batch_size", len(calls)),
			zap.Error(err),
		)
	}
}
