// Package similarity builds the directed K-nearest-neighbor song graph from
// numeric audio features.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dan-solli/songpath/pkg/catalog"
	"github.com/dan-solli/songpath/pkg/graph"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrConfiguration indicates a build precondition failure, such as a table
// without any usable feature column or a neighbor count below one.
var ErrConfiguration = errors.New("configuration error")

// CanonicalFeatures lists the features the builder understands, in the
// order they form the feature vector.
var CanonicalFeatures = []string{
	"danceability",
	"energy",
	"valence",
	"tempo",
	"acousticness",
	"instrumentalness",
}

// FeatureAliases lists the column names accepted for a canonical feature, in
// order of preference. Only the first present column is used.
var FeatureAliases = map[string][]string{
	"tempo": {"tempo", "bpm"},
}

// DefaultK is the neighbor count used when Options.K is zero.
const DefaultK = 5

// Options configures a build.
type Options struct {
	// K is the number of outgoing edges per song (default: DefaultK).
	K int

	// Features optionally narrows CanonicalFeatures. Empty means all.
	Features []string
}

// Builder turns song tables into similarity graphs. A Builder holds no
// per-build state and may be used from several goroutines.
type Builder struct {
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a builder with the given options.
func NewBuilder(opts Options) *Builder {
	if opts.K == 0 {
		opts.K = DefaultK
	}
	return &Builder{opts: opts}
}

// WithLogger sets the logger. A nil logger disables logging.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build builds the graph for table with k neighbors per song.
func Build(table *catalog.Table, k int) (*graph.Graph, error) {
	return BuildWithOptions(table, Options{K: k})
}

// BuildWithOptions builds the graph for table using opts.
func BuildWithOptions(table *catalog.Table, opts Options) (*graph.Graph, error) {
	if opts.K == 0 {
		return nil, fmt.Errorf("%w: k must be at least 1, got 0", ErrConfiguration)
	}
	return NewBuilder(opts).Build(table)
}

// BuildFromCSV loads the CSV at path and builds its graph.
// A missing file yields an error wrapping catalog.ErrNotFound.
func BuildFromCSV(path string, k int) (*graph.Graph, error) {
	table, err := catalog.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	return Build(table, k)
}

// Build builds the similarity graph:
//  1. select the canonical features present in the table
//  2. drop rows missing any selected feature
//  3. min-max normalize every feature column to [0, 1]
//  4. compute all pairwise Euclidean distances
//  5. connect every song to its K nearest other songs
func (b *Builder) Build(table *catalog.Table) (*graph.Graph, error) {
	if b.opts.K < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", ErrConfiguration, b.opts.K)
	}

	features, err := SelectFeatures(table, b.opts.Features)
	if err != nil {
		return nil, err
	}

	songs := completeRows(table.Songs, features)
	b.debug("similarity: features selected",
		slog.Any("features", features),
		slog.Int("rows", len(table.Songs)),
		slog.Int("complete_rows", len(songs)))

	g := graph.New()
	if len(songs) == 0 {
		return g, nil
	}

	m := featureMatrix(songs, features)
	Normalize(m)
	dist := DistanceMatrix(m)

	for _, s := range songs {
		g.AddNode(s.ID, graph.NodeMeta{Name: s.Name, Artist: s.Artist})
	}
	for i, s := range songs {
		for _, j := range NearestNeighbors(dist, i, b.opts.K) {
			if err := g.AddEdge(s.ID, songs[j].ID, dist.At(i, j)); err != nil {
				return nil, fmt.Errorf("failed to connect %s: %w", s.ID, err)
			}
		}
	}

	b.debug("similarity: graph built",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("k", b.opts.K))
	return g, nil
}

// CanonicalNames validates want and maps it to canonical feature names,
// resolving aliases, dropping duplicates and keeping canonical order.
// An empty want yields nil, meaning every feature.
func CanonicalNames(want []string) ([]string, error) {
	if len(want) == 0 {
		return nil, nil
	}

	byName := make(map[string]string)
	for _, f := range CanonicalFeatures {
		for _, col := range columnsFor(f) {
			byName[col] = f
		}
	}

	requested := make(map[string]bool, len(want))
	for _, name := range want {
		f, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported feature %q", ErrConfiguration, name)
		}
		requested[f] = true
	}

	names := make([]string, 0, len(requested))
	for _, f := range CanonicalFeatures {
		if requested[f] {
			names = append(names, f)
		}
	}
	return names, nil
}

// SelectFeatures returns the table columns that make up the feature vector:
// for each canonical feature (optionally narrowed by want) the first of its
// column names present in the table, in canonical order.
func SelectFeatures(table *catalog.Table, want []string) ([]string, error) {
	names, err := CanonicalNames(want)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = CanonicalFeatures
	}

	var selected []string
	for _, f := range names {
		for _, col := range columnsFor(f) {
			if table.HasColumn(col) {
				selected = append(selected, col)
				break
			}
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no usable numeric features", ErrConfiguration)
	}
	return selected, nil
}

func columnsFor(feature string) []string {
	if cols, ok := FeatureAliases[feature]; ok {
		return cols
	}
	return []string{feature}
}

// completeRows keeps the songs that have a value for every feature.
func completeRows(songs []catalog.Song, features []string) []catalog.Song {
	kept := make([]catalog.Song, 0, len(songs))
	for _, s := range songs {
		ok := true
		for _, f := range features {
			if _, present := s.Feature(f); !present {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, s)
		}
	}
	return kept
}

func featureMatrix(songs []catalog.Song, features []string) *mat.Dense {
	m := mat.NewDense(len(songs), len(features), nil)
	for i, s := range songs {
		for j, f := range features {
			m.Set(i, j, s.Features[f])
		}
	}
	return m
}

// Normalize rescales every column of m in place to [0, 1] using the column's
// minimum and maximum. Constant columns become 0.
func Normalize(m *mat.Dense) {
	rows, cols := m.Dims()
	if rows == 0 {
		return
	}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		for i := 0; i < rows; i++ {
			if span == 0 {
				m.Set(i, j, 0)
				continue
			}
			m.Set(i, j, (col[i]-lo)/span)
		}
	}
}

// DistanceMatrix returns the pairwise Euclidean distances between the rows
// of m.
func DistanceMatrix(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		a := m.RawRowView(i)
		for j := i + 1; j < n; j++ {
			dist.SetSym(i, j, floats.Distance(a, m.RawRowView(j), 2))
		}
	}
	return dist
}

// NearestNeighbors returns the indices of the k rows closest to row i,
// nearest first. Row i itself is never returned. Equal distances keep
// ascending index order.
func NearestNeighbors(dist mat.Symmetric, i, k int) []int {
	n := dist.SymmetricDim()
	candidates := make([]int, 0, n-1)
	for j := 0; j < n; j++ {
		if j != i {
			candidates = append(candidates, j)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return dist.At(i, candidates[a]) < dist.At(i, candidates[b])
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

func (b *Builder) debug(msg string, attrs ...slog.Attr) {
	if b.logger != nil {
		b.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
