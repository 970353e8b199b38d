package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dan-solli/songpath/pkg/config"
	"github.com/dan-solli/songpath/pkg/metrics"
	"github.com/dan-solli/songpath/pkg/songpath"
	"github.com/dan-solli/songpath/pkg/trace"
	"github.com/spf13/cobra"
)

// app carries flag values and the service shared by all subcommands.
type app struct {
	dataDir         string
	rawCSV          string
	k               int
	samplesPerGenre int
	features        []string
	traceFile       string
	metricsFile     string
	verbose         bool

	svc       *songpath.Service
	collector *metrics.MetricsCollector
	exporter  trace.Exporter
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "songpath",
		Short: "Find smooth transitions between songs",
		Long: `songpath links every song to its K most similar songs by audio features
(danceability, energy, valence, tempo, acousticness, instrumentalness) and
finds the path of least total dissimilarity between two songs.

Typical use:
  songpath etl                      # clean data/raw/dataset.csv
  songpath build                    # build and save the similarity graph
  songpath path "Song A" "Song B"   # shortest transition path`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.dataDir, "data-dir", "", "data root holding raw/ and processed/ (env SONGPATH_DATA_DIR, default \"data\")")
	flags.StringVar(&a.rawCSV, "raw-csv", "", "raw catalog CSV (env SONGPATH_RAW_CSV)")
	flags.IntVar(&a.k, "k", 0, "neighbors per song (env SONGPATH_K, default 50)")
	flags.IntVar(&a.samplesPerGenre, "samples-per-genre", 0, "sample size per genre for the graph (env SONGPATH_SAMPLES_PER_GENRE, default 1250)")
	flags.StringSliceVar(&a.features, "features", nil, "restrict the audio features used (env SONGPATH_FEATURES)")
	flags.StringVar(&a.traceFile, "trace-file", "", "append JSON Lines operation traces to this file (env SONGPATH_TRACE_FILE)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit (env SONGPATH_METRICS)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.etlCmd(),
		a.buildCmd(),
		a.pathCmd(),
		a.neighborsCmd(),
		a.findCmd(),
		a.statsCmd(),
	)
	return root
}

// setup merges .env, environment and flags, then wires the service.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Service.DataDir = a.dataDir
	}
	if flags.Changed("raw-csv") {
		cfg.Service.RawCSV = a.rawCSV
	}
	if flags.Changed("k") {
		cfg.Service.K = a.k
	}
	if flags.Changed("samples-per-genre") {
		cfg.Service.SamplesPerGenre = a.samplesPerGenre
	}
	if flags.Changed("features") {
		cfg.Service.Features = config.NormalizeFeatures(a.features)
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = a.traceFile
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.metricsFile
	}
	a.metricsFile = cfg.MetricsFile

	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	svc, err := songpath.New(cfg.Service)
	if err != nil {
		return err
	}

	exporter, err := trace.NewFileExporter(cfg.TraceFile)
	if err != nil {
		return err
	}
	a.exporter = exporter

	a.svc = svc.WithLogger(logger).WithTraceExporter(exporter)
	if cfg.MetricsFile != "" {
		a.collector = metrics.NewCollector()
		a.svc.WithMetrics(a.collector)
	}
	return nil
}

// close flushes traces and writes the metrics textfile.
func (a *app) close() error {
	var errs []error
	if a.exporter != nil {
		errs = append(errs, a.exporter.Close())
	}
	if a.collector != nil {
		errs = append(errs, a.collector.WriteTextfile(a.metricsFile))
	}
	return errors.Join(errs...)
}
