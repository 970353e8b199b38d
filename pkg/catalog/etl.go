package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RequiredColumns are the raw dataset columns kept by the ETL, in output order.
var RequiredColumns = []string{
	"track_id",
	"track_name",
	"artists",
	"track_genre",
	"tempo",
	"danceability",
	"energy",
	"valence",
	"acousticness",
	"instrumentalness",
}

// TargetGenres are the genres collected into the graph sample.
var TargetGenres = []string{
	"pop", "rock", "metal", "classical", "acoustic",
	"piano", "dance", "brazil", "jazz", "hip-hop",
	"electronic", "reggae",
}

// SampleSeed seeds every sampling draw so repeated runs select the same rows.
const SampleSeed = 42

// Default output file names.
const (
	DefaultFullFilename   = "songs_full.csv"
	DefaultSampleFilename = "songs.csv"
)

// Processor cleans the raw catalog CSV and writes the datasets consumed by
// the graph builder.
type Processor struct {
	InputPath string
	OutputDir string

	logger *slog.Logger
}

// NewProcessor creates a processor reading inputPath and writing into outputDir.
func NewProcessor(inputPath, outputDir string) *Processor {
	return &Processor{InputPath: inputPath, OutputDir: outputDir}
}

// WithLogger sets the logger. A nil logger disables logging.
func (p *Processor) WithLogger(logger *slog.Logger) *Processor {
	p.logger = logger
	return p
}

// rawTable is the cleaned, column-projected raw dataset.
type rawTable struct {
	header []string
	rows   [][]string
}

func (t *rawTable) index(name string) int {
	for i, h := range t.header {
		if h == name {
			return i
		}
	}
	return -1
}

// ProcessFull writes the full cleaned dataset and returns its path.
func (p *Processor) ProcessFull(ctx context.Context, filename string) (string, error) {
	if filename == "" {
		filename = DefaultFullFilename
	}
	table, err := p.loadAndFilter(ctx)
	if err != nil {
		return "", err
	}
	path, err := p.write(filename, table)
	if err != nil {
		return "", err
	}
	p.info(ctx, "etl: full dataset written", slog.String("path", path), slog.Int("rows", len(table.rows)))
	return path, nil
}

// ProcessSample writes a genre-balanced sample of up to samplesPerGenre rows
// for each target genre and returns its path. Without a genre column, a plain
// sample of samplesPerGenre*len(TargetGenres) rows is taken instead.
func (p *Processor) ProcessSample(ctx context.Context, filename string, samplesPerGenre int) (string, error) {
	if filename == "" {
		filename = DefaultSampleFilename
	}
	if samplesPerGenre < 1 {
		return "", fmt.Errorf("samples per genre must be at least 1, got %d", samplesPerGenre)
	}

	table, err := p.loadAndFilter(ctx)
	if err != nil {
		return "", err
	}

	sampled := &rawTable{header: table.header}
	genreIdx := table.index("track_genre")
	if genreIdx >= 0 {
		for _, genre := range TargetGenres {
			var rows [][]string
			for _, row := range table.rows {
				if row[genreIdx] == genre {
					rows = append(rows, row)
				}
			}
			sampled.rows = append(sampled.rows, sampleRows(rows, samplesPerGenre)...)
		}
	} else {
		p.warn(ctx, "etl: genre column not found, taking a simple sample")
		sampled.rows = sampleRows(table.rows, samplesPerGenre*len(TargetGenres))
	}

	path, err := p.write(filename, sampled)
	if err != nil {
		return "", err
	}
	p.info(ctx, "etl: graph sample written",
		slog.String("path", path),
		slog.Int("rows", len(sampled.rows)),
		slog.Int("samples_per_genre", samplesPerGenre))
	return path, nil
}

// sampleRows draws n rows without replacement, keeping their original order.
func sampleRows(rows [][]string, n int) [][]string {
	if len(rows) <= n {
		return rows
	}
	rng := rand.New(rand.NewPCG(SampleSeed, 0))
	picked := rng.Perm(len(rows))[:n]
	sort.Ints(picked)

	out := make([][]string, 0, n)
	for _, i := range picked {
		out = append(out, rows[i])
	}
	return out
}

// loadAndFilter reads the raw CSV, keeps the required columns that exist,
// drops rows with missing values and de-duplicates on track_id.
func (p *Processor) loadAndFilter(ctx context.Context) (*rawTable, error) {
	f, err := os.Open(p.InputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("raw dataset %s: %w", p.InputPath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open raw dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &rawTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read raw header: %w", err)
	}
	header = normalizeHeader(header)

	var keep []int
	var kept []string
	var missing []string
	for _, col := range RequiredColumns {
		idx := -1
		for i, h := range header {
			if h == col {
				idx = i
				break
			}
		}
		if idx < 0 {
			missing = append(missing, col)
			continue
		}
		keep = append(keep, idx)
		kept = append(kept, col)
	}
	if len(missing) > 0 {
		p.warn(ctx, "etl: columns missing from raw dataset", slog.Any("columns", missing))
	}

	table := &rawTable{header: kept}
	idIdx := table.index("track_id")
	seen := make(map[string]bool)
	total := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read raw row %d: %w", total, err)
		}
		total++

		row := make([]string, len(keep))
		complete := true
		for j, idx := range keep {
			v := cell(record, idx)
			if isMissing(v) {
				complete = false
				break
			}
			row[j] = v
		}
		if !complete {
			continue
		}
		if idIdx >= 0 {
			if seen[row[idIdx]] {
				continue
			}
			seen[row[idIdx]] = true
		}
		table.rows = append(table.rows, row)
	}

	p.info(ctx, "etl: raw dataset cleaned", slog.Int("input_rows", total), slog.Int("valid_rows", len(table.rows)))
	return table, nil
}

func (p *Processor) write(filename string, table *rawTable) (string, error) {
	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(p.OutputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(table.header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(table.rows); err != nil {
		return "", fmt.Errorf("failed to write rows: %w", err)
	}
	return path, f.Sync()
}

// isMissing mirrors the usual CSV null markers.
func isMissing(v string) bool {
	switch strings.ToLower(v) {
	case "", "nan", "na", "n/a", "null", "none":
		return true
	}
	return false
}

func (p *Processor) info(ctx context.Context, msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}

func (p *Processor) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
	}
}
