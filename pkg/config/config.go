// Package config reads songpath settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dan-solli/songpath/pkg/songpath"
	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDataDir         = "SONGPATH_DATA_DIR"
	EnvRawCSV          = "SONGPATH_RAW_CSV"
	EnvGraphDB         = "SONGPATH_GRAPH_DB"
	EnvK               = "SONGPATH_K"
	EnvSamplesPerGenre = "SONGPATH_SAMPLES_PER_GENRE"
	EnvFeatures        = "SONGPATH_FEATURES"
	EnvTraceFile       = "SONGPATH_TRACE_FILE"
	EnvMetricsFile     = "SONGPATH_METRICS"
)

// Config holds the service configuration plus the observability outputs.
type Config struct {
	Service songpath.Config

	// TraceFile receives JSON Lines operation traces; empty disables tracing
	TraceFile string

	// MetricsFile receives a Prometheus textfile on exit; empty disables it
	MetricsFile string
}

// Load reads the configuration from environment variables. Unset variables
// leave the corresponding field zero so songpath defaults apply.
func Load() (Config, error) {
	cfg := Config{
		Service: songpath.Config{
			DataDir:     os.Getenv(EnvDataDir),
			RawCSV:      os.Getenv(EnvRawCSV),
			GraphDBName: os.Getenv(EnvGraphDB),
			Features:    splitList(os.Getenv(EnvFeatures)),
		},
		TraceFile:   os.Getenv(EnvTraceFile),
		MetricsFile: os.Getenv(EnvMetricsFile),
	}

	var err error
	if cfg.Service.K, err = intEnv(EnvK); err != nil {
		return Config{}, err
	}
	if cfg.Service.SamplesPerGenre, err = intEnv(EnvSamplesPerGenre); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv loads environment variables from a .env file, searching up the directory tree.
// Variables already set in the environment win over the file.
func LoadEnv() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return godotenv.Load(envPath)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// Not found is fine
	return nil
}

func intEnv(name string) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	return n, nil
}

func splitList(v string) []string {
	return NormalizeFeatures(strings.Split(v, ","))
}

// NormalizeFeatures trims and lowercases feature names and drops empty ones.
func NormalizeFeatures(names []string) []string {
	var out []string
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, name)
		}
	}
	return out
}
