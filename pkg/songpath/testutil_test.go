package songpath

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dan-solli/songpath/pkg/trace"
	"github.com/stretchr/testify/require"
)

// Two tight pairs far apart: with K=1 every song links only to its partner.
const twoClustersCSV = `track_id,track_name,artists,energy,valence
a,Alpha,X,0.0,0.0
b,Beta,Y,0.1,0.1
c,Gamma,Z,1.0,1.0
d,Delta,Z,0.9,0.9
`

const fourSongsCSV = `track_id,track_name,artists,danceability,energy,valence,tempo,acousticness,instrumentalness
1,SongA,Artist1,0.5,0.8,0.3,120,0.1,0.0
2,SongB,Artist2,0.6,0.7,0.4,130,0.2,0.0
3,SongC,Artist3,0.7,0.6,0.5,110,0.3,0.1
4,SongD,Artist4,0.8,0.5,0.6,140,0.4,0.2
`

// newTestService writes sample as the graph sample CSV and returns a service over it.
func newTestService(t *testing.T, k int, sample string) *Service {
	t.Helper()
	cfg := Config{DataDir: t.TempDir(), K: k}
	svc, err := New(cfg)
	require.NoError(t, err)
	if sample != "" {
		writeFile(t, svc.Config().SampleCSVPath(), sample)
	}
	return svc
}

// scratchFiles lists leftover scratch databases in the processed directory.
func scratchFiles(t *testing.T, svc *Service) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(svc.Config().ProcessedDir(), "*.tmp"))
	require.NoError(t, err)
	return matches
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// captureHandler is a slog.Handler that captures log records for test assertions
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *captureHandler) hasMessage(level slog.Level, msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

// captureExporter keeps exported trace records in memory.
type captureExporter struct {
	mu      sync.Mutex
	records []*trace.TraceRecord
}

func (e *captureExporter) Export(_ context.Context, record *trace.TraceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record)
	return nil
}

func (e *captureExporter) Close() error { return nil }

func (e *captureExporter) last() *trace.TraceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.records) == 0 {
		return nil
	}
	return e.records[len(e.records)-1]
}

func spanNames(record *trace.TraceRecord) []string {
	names := make([]string, 0, len(record.Spans))
	for _, sp := range record.Spans {
		names = append(names, sp.Name)
	}
	return names
}
