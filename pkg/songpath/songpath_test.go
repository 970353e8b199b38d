package songpath

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dan-solli/songpath/pkg/catalog"
	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/dan-solli/songpath/pkg/metrics"
	"github.com/dan-solli/songpath/pkg/search"
	"github.com/dan-solli/songpath/pkg/similarity"
	"github.com/dan-solli/songpath/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawDatasetCSV = `track_id,track_name,artists,track_genre,tempo,danceability,energy,valence,acousticness,instrumentalness
t1,One,A,pop,120,0.5,0.5,0.5,0.1,0.0
t2,Two,B,pop,125,0.6,0.4,0.5,0.2,0.0
t3,Three,C,rock,140,0.3,0.9,0.2,0.0,0.1
t1,One,A,pop,120,0.5,0.5,0.5,0.1,0.0
t4,Four,D,rock,,0.3,0.9,0.2,0.0,0.1
`

func TestNew_Defaults(t *testing.T) {
	svc, err := New(Config{})
	require.NoError(t, err)

	cfg := svc.Config()
	assert.Equal(t, DefaultK, cfg.K)
	assert.Equal(t, DefaultSamplesPerGenre, cfg.SamplesPerGenre)
	assert.Equal(t, filepath.Join("data", "raw", "dataset.csv"), cfg.RawCSV)
	assert.Equal(t, filepath.Join("data", "processed", "songs.csv"), cfg.SampleCSVPath())
	assert.Equal(t, filepath.Join("data", "processed", "graph.db"), cfg.GraphDBPath())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{K: -1})
	assert.ErrorIs(t, err, similarity.ErrConfiguration)

	_, err = New(Config{SamplesPerGenre: -5})
	assert.ErrorIs(t, err, similarity.ErrConfiguration)

	_, err = New(Config{Features: []string{"energy", "loudness"}})
	assert.ErrorIs(t, err, similarity.ErrConfiguration)
}

func TestGraph_BuildsSavesAndCaches(t *testing.T) {
	svc := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()

	g, err := svc.Graph(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, 8, g.EdgeCount())

	_, err = os.Stat(svc.Config().GraphDBPath())
	require.NoError(t, err, "graph database should be written after a build")
	assert.Empty(t, scratchFiles(t, svc), "scratch database should be renamed away")

	again, err := svc.Graph(ctx, false)
	require.NoError(t, err)
	assert.Same(t, g, again)
}

func TestGraph_LoadsSavedGraph(t *testing.T) {
	first := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()

	built, err := first.Graph(ctx, false)
	require.NoError(t, err)

	// Without the sample CSV the only way to get a graph is the database.
	require.NoError(t, os.Remove(first.Config().SampleCSVPath()))

	exporter := &captureExporter{}
	second, err := New(first.Config())
	require.NoError(t, err)
	second.WithTraceExporter(exporter)

	loaded, err := second.Graph(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, built.NodeIDs(), loaded.NodeIDs())
	assert.Equal(t, built.Edges(), loaded.Edges())
	assert.Equal(t, []string{"load-graph"}, spanNames(exporter.last()))
}

func TestGraph_SavedGraphWithDifferentKIsRebuilt(t *testing.T) {
	first := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()
	_, err := first.Graph(ctx, false)
	require.NoError(t, err)

	cfg := first.Config()
	cfg.K = 1
	second, err := New(cfg)
	require.NoError(t, err)

	g, err := second.Graph(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 4, g.EdgeCount())
}

func TestGraph_SavedGraphWithDifferentFeaturesIsRebuilt(t *testing.T) {
	first := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()
	_, err := first.Graph(ctx, false)
	require.NoError(t, err)

	cfg := first.Config()
	cfg.Features = []string{"Tempo"}
	handler := &captureHandler{}
	second, err := New(cfg)
	require.NoError(t, err)
	second.WithLogger(slog.New(handler))

	stats, err := second.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tempo"}, stats.Features)
	assert.True(t, handler.hasMessage(slog.LevelInfo, "songpath: saved graph built with different settings, rebuilding"))

	// An alias of the same feature matches the saved narrowing, so the
	// database is reused even without the sample CSV.
	require.NoError(t, os.Remove(cfg.SampleCSVPath()))
	cfg.Features = []string{"bpm"}
	third, err := New(cfg)
	require.NoError(t, err)

	stats, err = third.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tempo"}, stats.Features)
	assert.Equal(t, 4, stats.Nodes)
}

func TestGraph_CorruptDatabaseIsRebuilt(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)
	writeFile(t, svc.Config().GraphDBPath(), "this is not a sqlite database, just text padding it out")

	handler := &captureHandler{}
	svc.WithLogger(slog.New(handler))

	g, err := svc.Graph(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, g.NodeCount())
	assert.True(t, handler.hasMessage(slog.LevelWarn, "songpath: failed to load saved graph, rebuilding"))

	// The rebuilt database replaced the corrupt file.
	st, err := store.OpenExisting(svc.Config().GraphDBPath())
	require.NoError(t, err)
	defer st.Close()
	count, err := st.NodeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestGraph_MissingSample(t *testing.T) {
	svc := newTestService(t, 2, "")

	_, err := svc.Graph(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, ErrTypeNotFound, ClassifyError(err))
}

func TestGraph_UnusableFeatures(t *testing.T) {
	svc := newTestService(t, 2, "id,name,artist,loudness\na,A,X,1\nb,B,Y,2\n")

	_, err := svc.Graph(context.Background(), false)
	assert.ErrorIs(t, err, similarity.ErrConfiguration)
	assert.Equal(t, ErrTypeConfiguration, ClassifyError(err))
}

func TestRebuild_SkipsCacheAndDatabase(t *testing.T) {
	svc := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()

	g, err := svc.Graph(ctx, false)
	require.NoError(t, err)

	exporter := &captureExporter{}
	svc.WithTraceExporter(exporter)

	rebuilt, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.NotSame(t, g, rebuilt)
	assert.Equal(t, g.Edges(), rebuilt.Edges(), "rebuild is deterministic")
	assert.Equal(t, []string{"load-csv", "build-graph", "save-graph"}, spanNames(exporter.last()))
}

func TestGraph_ConcurrentCallersShareOneGraph(t *testing.T) {
	svc := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()

	const workers = 8
	graphs := make([]*graph.Graph, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			graphs[i], errs[i] = svc.Graph(ctx, false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, graphs[0], graphs[i])
	}
}

func TestGraph_ConcurrentLoadAndRebuild(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 6; round++ {
		svc := newTestService(t, 2, fourSongsCSV)
		if round%2 == 1 {
			// Odd rounds race against a saved graph, even rounds against none.
			seed, err := New(svc.Config())
			require.NoError(t, err)
			_, err = seed.Graph(ctx, false)
			require.NoError(t, err)
		}

		var (
			wg       sync.WaitGroup
			loaded   *graph.Graph
			rebuilt  *graph.Graph
			loadErr  error
			buildErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			loaded, loadErr = svc.Graph(ctx, false)
		}()
		go func() {
			defer wg.Done()
			rebuilt, buildErr = svc.Rebuild(ctx)
		}()
		wg.Wait()

		require.NoError(t, loadErr, "round %d", round)
		require.NoError(t, buildErr, "round %d", round)
		assert.Equal(t, 4, loaded.NodeCount())

		current, err := svc.Graph(ctx, false)
		require.NoError(t, err)
		assert.Same(t, rebuilt, current, "round %d: the rebuilt graph must stay cached", round)
		assert.Empty(t, scratchFiles(t, svc), "round %d", round)

		fresh, err := New(svc.Config())
		require.NoError(t, err)
		stats, err := fresh.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.SavedNodes, "round %d", round)
		assert.Equal(t, int64(8), stats.SavedEdges, "round %d", round)
	}
}

func TestRunETL(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(Config{DataDir: dir, K: 1, SamplesPerGenre: 1})
	require.NoError(t, err)
	ctx := context.Background()

	// A graph from an older sample must not survive the ETL.
	writeFile(t, svc.Config().SampleCSVPath(), fourSongsCSV)
	old, err := svc.Graph(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 4, old.NodeCount())

	writeFile(t, svc.Config().RawCSV, rawDatasetCSV)
	result, err := svc.RunETL(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processed", "songs_full.csv"), result.FullCSV)
	assert.Equal(t, filepath.Join(dir, "processed", "songs.csv"), result.SampleCSV)

	full, err := catalog.LoadCSV(result.FullCSV)
	require.NoError(t, err)
	assert.Equal(t, 3, full.Len(), "duplicate and incomplete rows are dropped")

	_, err = os.Stat(svc.Config().GraphDBPath())
	assert.True(t, os.IsNotExist(err), "stale graph database should be removed")

	g, err := svc.Graph(ctx, false)
	require.NoError(t, err)
	assert.NotSame(t, old, g)
	assert.Equal(t, 2, g.NodeCount(), "one song per genre for pop and rock")
}

func TestRunETL_MissingRawDataset(t *testing.T) {
	svc := newTestService(t, 1, "")

	_, err := svc.RunETL(context.Background())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestShortestPath(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)
	ctx := context.Background()

	result, err := svc.ShortestPath(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	assert.Equal(t, []string{"a", "b"}, result.Path)
	assert.InDelta(t, math.Sqrt(0.02), result.Distance, 1e-12)

	self, err := svc.ShortestPath(ctx, "c", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, self.Path)
	assert.Equal(t, 0.0, self.Distance)
}

func TestShortestPath_Unreachable(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)

	result, err := svc.ShortestPath(context.Background(), "a", "c")
	require.NoError(t, err)
	assert.False(t, result.Reachable)
	assert.Nil(t, result.Path)
	assert.True(t, math.IsInf(result.Distance, 1))
}

func TestShortestPath_UnknownSong(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)

	result, err := svc.ShortestPath(context.Background(), "a", "zzz")
	assert.ErrorIs(t, err, search.ErrNodeNotFound)
	assert.False(t, result.Reachable)
	assert.Equal(t, ErrTypeNotFound, ClassifyError(err))
}

func TestShortestPath_MatchesEngineOnBuiltGraph(t *testing.T) {
	svc := newTestService(t, 2, fourSongsCSV)
	ctx := context.Background()

	g, err := svc.Graph(ctx, false)
	require.NoError(t, err)

	for _, src := range g.NodeIDs() {
		for _, dst := range g.NodeIDs() {
			want, err := search.ShortestPath(g, src, dst)
			require.NoError(t, err)
			got, err := svc.ShortestPath(ctx, src, dst)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%s -> %s", src, dst)
		}
	}
}

func TestNeighbors(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)

	neighbors, err := svc.Neighbors(context.Background(), "c", 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "d", neighbors[0].NodeID)
	assert.Equal(t, "Delta", neighbors[0].Meta.Name)

	_, err = svc.Neighbors(context.Background(), "c", 0)
	assert.ErrorIs(t, err, search.ErrInvalidDepth)
	assert.Equal(t, ErrTypeValidation, ClassifyError(err))
}

func TestFindSongs(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)
	ctx := context.Background()

	byArtist, err := svc.FindSongs(ctx, "z")
	require.NoError(t, err)
	require.Len(t, byArtist, 2)
	assert.Equal(t, "c", byArtist[0].ID)
	assert.Equal(t, "d", byArtist[1].ID)

	byName, err := svc.FindSongs(ctx, "BETA")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "b", byName[0].ID)

	none, err := svc.FindSongs(ctx, "nothing like this")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.FindSongs(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestResolve(t *testing.T) {
	svc := newTestService(t, 1, "id,name,artist,energy\na,Alpha,X,0\nb,Twin,Y,1\nc,twin,Z,2\n")
	ctx := context.Background()

	id, err := svc.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = svc.Resolve(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = svc.Resolve(ctx, "Twin")
	assert.ErrorIs(t, err, store.ErrAmbiguousNode)

	_, err = svc.Resolve(ctx, "Omega")
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
	assert.Equal(t, ErrTypeNotFound, ClassifyError(err))
}

func TestStats(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Nodes)
	assert.Equal(t, 4, stats.Edges)
	assert.Equal(t, int64(4), stats.SavedNodes)
	assert.Equal(t, int64(4), stats.SavedEdges)
	assert.Equal(t, 1, stats.MaxOutDegree)
	assert.Equal(t, 1, stats.K)
	assert.Equal(t, []string{"energy", "valence"}, stats.Features)
	assert.Equal(t, svc.Config().SampleCSVPath(), stats.Source)
	assert.False(t, stats.BuiltAt.IsZero())
}

func TestWithLogger_NilSafe(t *testing.T) {
	svc := newTestService(t, 1, twoClustersCSV)
	svc.WithLogger(nil).WithMetrics(nil).WithTraceExporter(nil)

	_, err := svc.ShortestPath(context.Background(), "a", "b")
	require.NoError(t, err)
}

func TestMetricsAndTraces(t *testing.T) {
	collector := metrics.NewCollector()
	exporter := &captureExporter{}
	svc := newTestService(t, 1, twoClustersCSV)
	svc.WithMetrics(collector).WithTraceExporter(exporter)
	ctx := context.Background()

	_, err := svc.ShortestPath(ctx, "a", "b")
	require.NoError(t, err)

	record := exporter.last()
	require.NotNil(t, record)
	assert.Equal(t, OpPath, record.Operation)
	assert.Equal(t, "success", record.Status)
	assert.NotEmpty(t, record.OperationID)
	assert.Equal(t, []string{"load-csv", "build-graph", "save-graph", "search-path"}, spanNames(record))
	assert.Equal(t, "a", record.IDs["source"])
	assert.Equal(t, int64(2), record.Spans[3].Counters["pathLength"])

	_, err = svc.ShortestPath(ctx, "a", "missing")
	require.Error(t, err)

	record = exporter.last()
	assert.Equal(t, "error", record.Status)
	assert.Equal(t, ErrTypeNotFound, record.ErrorType)
	assert.Equal(t, []string{"search-path"}, spanNames(record), "second call hits the cache")
	assert.False(t, record.Spans[0].OK)

	ops, err := testutil.GatherAndCount(collector.Registry(), "songpath_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, ops, "path/success and path/error series")

	errs, err := testutil.GatherAndCount(collector.Registry(), "songpath_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, errs)

	size, err := testutil.GatherAndCount(collector.Registry(), "songpath_graph_size")
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}
