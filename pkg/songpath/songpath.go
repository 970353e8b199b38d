// Package songpath ties the catalog ETL, the similarity graph and the
// path engine together behind a single cached service.
package songpath

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dan-solli/songpath/pkg/catalog"
	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/dan-solli/songpath/pkg/metrics"
	"github.com/dan-solli/songpath/pkg/similarity"
	"github.com/dan-solli/songpath/pkg/store"
	"github.com/dan-solli/songpath/pkg/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDataDir         = "data"
	DefaultGraphDBName     = "graph.db"
	DefaultK               = 50
	DefaultSamplesPerGenre = 1250
)

// Config holds configuration for the songpath service
type Config struct {
	// DataDir is the project data root. Raw input lives in <DataDir>/raw,
	// derived files in <DataDir>/processed (default: "data")
	DataDir string

	// RawCSV is the raw catalog export (default: <DataDir>/raw/dataset.csv)
	RawCSV string

	// FullCSVName is the cleaned full catalog (default: "songs_full.csv")
	FullCSVName string

	// SampleCSVName is the genre-balanced sample the graph is built from (default: "songs.csv")
	SampleCSVName string

	// GraphDBName is the SQLite graph database (default: "graph.db")
	GraphDBName string

	// K is the number of outgoing edges per song (default: 50)
	K int

	// SamplesPerGenre bounds the sample size per target genre (default: 1250)
	SamplesPerGenre int

	// Features optionally narrows the canonical feature list
	Features []string
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.RawCSV == "" {
		c.RawCSV = filepath.Join(c.DataDir, "raw", "dataset.csv")
	}
	if c.FullCSVName == "" {
		c.FullCSVName = catalog.DefaultFullFilename
	}
	if c.SampleCSVName == "" {
		c.SampleCSVName = catalog.DefaultSampleFilename
	}
	if c.GraphDBName == "" {
		c.GraphDBName = DefaultGraphDBName
	}
	if c.K == 0 {
		c.K = DefaultK
	}
	if c.SamplesPerGenre == 0 {
		c.SamplesPerGenre = DefaultSamplesPerGenre
	}
	return c
}

// ProcessedDir is where ETL output and the graph database are written.
func (c Config) ProcessedDir() string {
	return filepath.Join(c.DataDir, "processed")
}

// SampleCSVPath is the CSV the graph is built from.
func (c Config) SampleCSVPath() string {
	return filepath.Join(c.ProcessedDir(), c.SampleCSVName)
}

// GraphDBPath is the persisted graph database.
func (c Config) GraphDBPath() string {
	return filepath.Join(c.ProcessedDir(), c.GraphDBName)
}

// Service is the main entry point. It owns the graph cache; graphs it hands
// out are shared and must not be modified.
type Service struct {
	config   Config
	logger   *slog.Logger
	metrics  metrics.Collector
	exporter trace.Exporter

	// featureFilter is Features in canonical form; nil means every feature
	featureFilter []string

	mu        sync.RWMutex
	cached    *graph.Graph
	graphInfo store.GraphInfo

	builds  singleflight.Group
	buildMu sync.Mutex // guards graph database writes
}

// New creates a service. Zero-valued fields of cfg take their defaults.
func New(cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.K < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", similarity.ErrConfiguration, cfg.K)
	}
	if cfg.SamplesPerGenre < 1 {
		return nil, fmt.Errorf("%w: samples per genre must be at least 1, got %d", similarity.ErrConfiguration, cfg.SamplesPerGenre)
	}

	filter, err := similarity.CanonicalNames(cfg.Features)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:        cfg,
		featureFilter: filter,
		metrics:       metrics.NewNoopCollector(),
		exporter:      trace.NewNoopExporter(),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// WithLogger sets the logger. A nil logger disables logging.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithMetrics sets the metrics collector. Nil restores the no-op collector.
func (s *Service) WithMetrics(c metrics.Collector) *Service {
	if c == nil {
		c = metrics.NewNoopCollector()
	}
	s.metrics = c
	return s
}

// WithTraceExporter sets the trace exporter. Nil restores the no-op exporter.
// The service does not close the exporter.
func (s *Service) WithTraceExporter(e trace.Exporter) *Service {
	if e == nil {
		e = trace.NewNoopExporter()
	}
	s.exporter = e
	return s
}

func (s *Service) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
	}
}

func (s *Service) info(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}

func (s *Service) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
	}
}
