// Package trace exports per-operation timing records as JSON Lines.
package trace

import (
	"context"
	"time"
)

// Exporter receives finished operation traces.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes a trace record to the configured destination.
	Export(ctx context.Context, record *TraceRecord) error

	// Close flushes any buffered records and releases resources.
	Close() error
}

// TraceRecord is one finished operation.
// Records carry identifiers and timings only, never song metadata or feature values.
type TraceRecord struct {
	// Timestamp is the operation start time
	Timestamp time.Time `json:"timestamp"`

	// OperationID correlates log lines, metrics and traces of one call
	OperationID string `json:"operationId"`

	// Operation is one of "etl", "build", "path", "neighbors", "find"
	Operation string `json:"operation"`

	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	Spans []SpanRecord `json:"spans"`

	// ErrorType is set when Status == "error".
	// Values: not_found, configuration, database, validation, unknown
	ErrorType string `json:"errorType,omitempty"`

	// IDs holds operation-specific identifiers such as source and target song IDs
	IDs map[string]any `json:"ids,omitempty"`
}

// SpanRecord is a single stage within an operation.
type SpanRecord struct {
	// Name is the stage name (etl-full, etl-sample, load-csv, build-graph,
	// save-graph, load-graph, search-path, search-neighbors, find-songs)
	Name string `json:"name"`

	DurationMs int64 `json:"durationMs"`
	OK         bool  `json:"ok"`

	ErrorType string `json:"errorType,omitempty"`

	// Counters holds stage-specific counts (e.g. nodes, edges, pathLength)
	Counters map[string]int64 `json:"counters,omitempty"`
}
