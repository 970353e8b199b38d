package songpath

import (
	"context"
	"log/slog"
	"time"

	"github.com/dan-solli/songpath/pkg/trace"
	"github.com/google/uuid"
)

// Operation names used in metrics labels and trace records.
const (
	OpETL       = "etl"
	OpGraph     = "graph"
	OpPath      = "path"
	OpNeighbors = "neighbors"
	OpFind      = "find"
	OpStats     = "stats"
)

// OperationTrace captures stage timings for one Service call.
type OperationTrace struct {
	OperationID string `json:"operationId"`
	Operation   string `json:"operation"`

	// Spans contains timing data for each stage of the operation
	Spans []Span `json:"spans"`

	// TotalDurationMs is the wall time of the whole call, which includes
	// time not covered by any span (e.g. waiting on another caller's build)
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span represents a single timed stage within an operation.
// Stage names are stable:
//   - "etl-full", "etl-sample": catalog cleaning and sampling
//   - "load-csv": reading the graph sample
//   - "build-graph": normalization, distances and neighbor selection
//   - "save-graph", "load-graph": graph database writes and reads
//   - "search-path", "search-neighbors", "find-songs": queries
type Span struct {
	Name       string           `json:"name"`
	DurationMs int64            `json:"durationMs"`
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// operation ties a trace to the service's metrics, exporter and logger.
type operation struct {
	svc   *Service
	start time.Time
	trace *OperationTrace
	ids   map[string]any
}

func (s *Service) begin(name string) *operation {
	return &operation{
		svc:   s,
		start: time.Now(),
		trace: &OperationTrace{
			OperationID: uuid.New().String(),
			Operation:   name,
			Spans:       make([]Span, 0, 4),
		},
		ids: make(map[string]any),
	}
}

// span starts timing a named stage.
func (op *operation) span(name string) *spanTimer {
	return &spanTimer{name: name, start: time.Now(), op: op}
}

// end records the finished operation. It returns err unchanged so callers
// can write `return op.end(ctx, err)`.
func (op *operation) end(ctx context.Context, err error) error {
	s := op.svc
	t := op.trace
	t.TotalDurationMs = time.Since(op.start).Milliseconds()

	status := "success"
	errType := ""
	if err != nil {
		status = "error"
		errType = ClassifyError(err)
		s.metrics.RecordError(ctx, t.Operation, errType)
	}
	s.metrics.RecordOperation(ctx, t.Operation, status, t.TotalDurationMs)

	record := &trace.TraceRecord{
		Timestamp:   op.start,
		OperationID: t.OperationID,
		Operation:   t.Operation,
		DurationMs:  t.TotalDurationMs,
		Status:      status,
		ErrorType:   errType,
		Spans:       make([]trace.SpanRecord, 0, len(t.Spans)),
	}
	if len(op.ids) > 0 {
		record.IDs = op.ids
	}
	for _, sp := range t.Spans {
		s.metrics.RecordStage(ctx, t.Operation, sp.Name, sp.DurationMs)
		rec := trace.SpanRecord{
			Name:       sp.Name,
			DurationMs: sp.DurationMs,
			OK:         sp.OK,
			Counters:   sp.Counters,
		}
		if !sp.OK {
			rec.ErrorType = errType
		}
		record.Spans = append(record.Spans, rec)
	}
	if exportErr := s.exporter.Export(ctx, record); exportErr != nil {
		s.warn(ctx, "songpath: trace export failed",
			slog.String("operation_id", t.OperationID),
			slog.String("error", exportErr.Error()))
	}

	if err != nil {
		s.warn(ctx, "songpath: operation failed",
			slog.String("operation", t.Operation),
			slog.String("operation_id", t.OperationID),
			slog.String("error_type", errType),
			slog.String("error", err.Error()))
	} else {
		s.debug(ctx, "songpath: operation complete",
			slog.String("operation", t.Operation),
			slog.String("operation_id", t.OperationID),
			slog.Int64("duration_ms", t.TotalDurationMs),
			slog.Int("spans", len(t.Spans)))
	}
	return err
}

// spanTimer is a helper for measuring span duration
type spanTimer struct {
	name  string
	start time.Time
	op    *operation
}

// finish completes the span and records it to the trace
func (st *spanTimer) finish(err error, counters map[string]int64) {
	span := Span{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.Error = err.Error()
	}
	st.op.trace.Spans = append(st.op.trace.Spans, span)
}
