package songpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dan-solli/songpath/pkg/catalog"
	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/dan-solli/songpath/pkg/similarity"
	"github.com/dan-solli/songpath/pkg/store"
)

// ETLResult lists the files written by RunETL.
type ETLResult struct {
	FullCSV   string
	SampleCSV string
}

// RunETL cleans the raw catalog into the full CSV and the genre-balanced
// sample, then drops the cached and persisted graph since they describe
// the previous sample.
func (s *Service) RunETL(ctx context.Context) (ETLResult, error) {
	op := s.begin(OpETL)
	op.ids["samplesPerGenre"] = s.config.SamplesPerGenre

	processor := catalog.NewProcessor(s.config.RawCSV, s.config.ProcessedDir()).WithLogger(s.logger)

	span := op.span("etl-full")
	full, err := processor.ProcessFull(ctx, s.config.FullCSVName)
	span.finish(err, nil)
	if err != nil {
		return ETLResult{}, op.end(ctx, fmt.Errorf("etl full dataset: %w", err))
	}

	span = op.span("etl-sample")
	sample, err := processor.ProcessSample(ctx, s.config.SampleCSVName, s.config.SamplesPerGenre)
	span.finish(err, nil)
	if err != nil {
		return ETLResult{}, op.end(ctx, fmt.Errorf("etl graph sample: %w", err))
	}

	s.buildMu.Lock()
	s.invalidate()
	err = os.Remove(s.config.GraphDBPath())
	s.buildMu.Unlock()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ETLResult{}, op.end(ctx, fmt.Errorf("remove stale graph database: %w", err))
	}

	s.info(ctx, "songpath: etl complete",
		slog.String("full_csv", full),
		slog.String("sample_csv", sample))
	return ETLResult{FullCSV: full, SampleCSV: sample}, op.end(ctx, nil)
}

// Graph returns the similarity graph: from the cache, else from the graph
// database, else built from the sample CSV and saved. force skips both the
// cache and the database. A database that fails to load, or was built with a
// different K or feature narrowing, is rebuilt.
func (s *Service) Graph(ctx context.Context, force bool) (*graph.Graph, error) {
	op := s.begin(OpGraph)
	op.ids["force"] = force
	g, err := s.graph(ctx, op, force)
	return g, op.end(ctx, err)
}

// Rebuild discards the cached and persisted graph and builds a new one.
func (s *Service) Rebuild(ctx context.Context) (*graph.Graph, error) {
	return s.Graph(ctx, true)
}

func (s *Service) graph(ctx context.Context, op *operation, force bool) (*graph.Graph, error) {
	if !force {
		if g := s.cachedGraph(); g != nil {
			return g, nil
		}
	}

	// Loads and rebuilds are deduplicated separately so a forced rebuild
	// never returns a graph read from the database. Both run under buildMu,
	// so only one of them touches the graph database at a time.
	key := "load"
	if force {
		key = "rebuild"
	}
	v, err, shared := s.builds.Do(key, func() (any, error) {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()

		if force {
			s.invalidate()
		} else {
			if g := s.cachedGraph(); g != nil {
				return g, nil
			}
			g, info, err := s.loadGraph(ctx, op)
			switch {
			case err == nil && s.reusable(info):
				s.setCache(g, info)
				return g, nil
			case err == nil:
				s.info(ctx, "songpath: saved graph built with different settings, rebuilding",
					slog.Int("saved_k", info.K),
					slog.Int("k", s.config.K),
					slog.Any("saved_features", info.FeatureFilter),
					slog.Any("features", s.featureFilter))
			case errors.Is(err, store.ErrNotFound):
				s.debug(ctx, "songpath: no saved graph", slog.String("path", s.config.GraphDBPath()))
			default:
				s.warn(ctx, "songpath: failed to load saved graph, rebuilding", slog.String("error", err.Error()))
			}
		}

		g, info, err := s.buildGraph(ctx, op)
		if err != nil {
			return nil, err
		}
		s.setCache(g, info)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.debug(ctx, "songpath: joined in-flight graph "+key)
	}
	return v.(*graph.Graph), nil
}

// reusable reports whether a saved graph was built with the current K and
// feature narrowing.
func (s *Service) reusable(info store.GraphInfo) bool {
	return info.K == s.config.K && slices.Equal(info.FeatureFilter, s.featureFilter)
}

func (s *Service) loadGraph(ctx context.Context, op *operation) (*graph.Graph, store.GraphInfo, error) {
	span := op.span("load-graph")

	st, err := store.OpenExisting(s.config.GraphDBPath())
	if err != nil {
		// A graph that was never saved is not a failed stage.
		if !errors.Is(err, store.ErrNotFound) {
			span.finish(err, nil)
		}
		return nil, store.GraphInfo{}, err
	}
	defer st.Close()

	g, info, err := st.LoadGraph(ctx)
	if err != nil {
		span.finish(err, nil)
		return nil, store.GraphInfo{}, err
	}

	span.finish(nil, graphCounters(g))
	s.info(ctx, "songpath: graph loaded",
		slog.String("path", s.config.GraphDBPath()),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()))
	return g, info, nil
}

func (s *Service) buildGraph(ctx context.Context, op *operation) (*graph.Graph, store.GraphInfo, error) {
	source := s.config.SampleCSVPath()

	span := op.span("load-csv")
	table, err := catalog.LoadCSV(source)
	if err != nil {
		span.finish(err, nil)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, store.GraphInfo{}, fmt.Errorf("graph sample missing, run etl first: %w", err)
		}
		return nil, store.GraphInfo{}, err
	}
	span.finish(nil, map[string]int64{"rows": int64(table.Len())})

	span = op.span("build-graph")
	features, err := similarity.SelectFeatures(table, s.config.Features)
	if err != nil {
		span.finish(err, nil)
		return nil, store.GraphInfo{}, err
	}
	g, err := similarity.NewBuilder(similarity.Options{K: s.config.K, Features: s.config.Features}).
		WithLogger(s.logger).
		Build(table)
	if err != nil {
		span.finish(err, nil)
		return nil, store.GraphInfo{}, err
	}
	span.finish(nil, graphCounters(g))

	info := store.GraphInfo{
		K:             s.config.K,
		Features:      features,
		FeatureFilter: s.featureFilter,
		Source:        source,
		BuiltAt:       time.Now().UTC(),
	}

	span = op.span("save-graph")
	if err := s.saveGraph(ctx, g, info); err != nil {
		span.finish(err, nil)
		return nil, store.GraphInfo{}, fmt.Errorf("save graph: %w", err)
	}
	span.finish(nil, nil)

	s.info(ctx, "songpath: graph built",
		slog.String("source", source),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("k", s.config.K))
	return g, info, nil
}

// saveGraph writes to a fresh scratch database in the processed directory
// and renames it over the live one, so readers see either the old graph or
// the new one. Callers hold buildMu.
func (s *Service) saveGraph(ctx context.Context, g *graph.Graph, info store.GraphInfo) error {
	dir := s.config.ProcessedDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, s.config.GraphDBName+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	st, err := store.NewSQLiteGraphStore(tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := st.SaveGraph(ctx, g, info); err != nil {
		st.Close()
		os.Remove(tmp)
		return err
	}
	if err := st.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.config.GraphDBPath()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Service) cachedGraph() *graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

func (s *Service) setCache(g *graph.Graph, info store.GraphInfo) {
	s.mu.Lock()
	s.cached = g
	s.graphInfo = info
	s.mu.Unlock()

	ctx := context.Background()
	s.metrics.SetGraphSize(ctx, "nodes", int64(g.NodeCount()))
	s.metrics.SetGraphSize(ctx, "edges", int64(g.EdgeCount()))
}

func (s *Service) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.graphInfo = store.GraphInfo{}
}

func graphCounters(g *graph.Graph) map[string]int64 {
	return map[string]int64{
		"nodes": int64(g.NodeCount()),
		"edges": int64(g.EdgeCount()),
	}
}
