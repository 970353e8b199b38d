package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeBytes    = 10 * 1024 * 1024
	defaultMaxRotatedFiles = 5
)

// ErrExporterClosed is returned by Export after Close.
var ErrExporterClosed = errors.New("trace exporter closed")

// FileExporter appends traces to a JSON Lines file and rotates it by size.
// Rotated files are named <path>.1 (newest) through <path>.N (oldest).
type FileExporter struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the file size that triggers rotation (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) {
		if bytes > 0 {
			fe.maxSizeBytes = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) {
		if count > 0 {
			fe.maxRotatedFiles = count
		}
	}
}

// NewFileExporter opens filePath for appending, creating parent directories.
// An empty path yields a NoopExporter so callers can pass configuration through unchanged.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	if filePath == "" {
		return NewNoopExporter(), nil
	}

	fe := &FileExporter{
		filePath:        filePath,
		maxSizeBytes:    defaultMaxSizeBytes,
		maxRotatedFiles: defaultMaxRotatedFiles,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}

// Export writes record as one JSON line, rotating afterwards if the file grew past the limit.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return ErrExporterClosed
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	if err := fe.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return nil
}

// Close syncs and closes the trace file. Calling it twice is safe.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

// rotateIfNeeded must be called with fe.mu held.
func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxSizeBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file for rotation: %w", err)
	}
	if err := fe.shiftRotated(); err != nil {
		return err
	}
	return fe.open()
}

// shiftRotated drops the oldest file, renames .i to .i+1 and moves the live file to .1.
func (fe *FileExporter) shiftRotated() error {
	oldest := rotatedName(fe.filePath, fe.maxRotatedFiles)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove oldest rotated file: %w", err)
	}

	for i := fe.maxRotatedFiles - 1; i >= 1; i-- {
		from, to := rotatedName(fe.filePath, i), rotatedName(fe.filePath, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shift rotated file %s -> %s: %w", from, to, err)
		}
	}

	if err := os.Rename(fe.filePath, rotatedName(fe.filePath, 1)); err != nil {
		return fmt.Errorf("rotate current file: %w", err)
	}
	return nil
}

func rotatedName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
