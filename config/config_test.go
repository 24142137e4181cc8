package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"traceproc/constants"
	"traceproc/sorter"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traceproc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, constants.DefaultSortWindow.Nanoseconds(), cfg.WindowNs())
	require.Len(t, cfg.SorterOptions(), 4)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
sorter:
  mode: full_sort
  window: 5s
ingest:
  format: json
  compact: true
export:
  compression: zstd
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	mode, err := cfg.SortingMode()
	require.NoError(t, err)
	require.Equal(t, sorter.SortingFullSort, mode)
	require.Equal(t, 5*time.Second, cfg.Sorter.Window)
	require.Equal(t, "json", cfg.Ingest.Format)
	require.True(t, cfg.Ingest.Compact)
	require.Equal(t, "zstd", cfg.Export.Compression)
	require.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	require.Equal(t, constants.ChunkSize, cfg.Ingest.ChunkSize)
	require.Equal(t, constants.ArenaBlockSize, cfg.Arena.BlockSize)
}

func TestLoadEmptyFileAndPath(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default().Sorter, cfg.Sorter)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "sorter:\n  windw: 1s\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRACEPROC_LOG_LEVEL", "warn")
	t.Setenv("TRACEPROC_SORT_WINDOW", "250ms")
	t.Setenv("TRACEPROC_COMPACT", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, 250*time.Millisecond, cfg.Sorter.Window)
	require.True(t, cfg.Ingest.Compact)

	t.Setenv("TRACEPROC_COMPACT", "maybe")
	_, err = Load("")
	require.Error(t, err)
}

func TestFlushPeriodOverridesWindow(t *testing.T) {
	cfg := Default()
	cfg.Sorter.FlushPeriodMs = 100
	require.Equal(t, int64(200_000_000), cfg.WindowNs())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":        func(c *Config) { c.Sorter.Mode = "eventually" },
		"handling":    func(c *Config) { c.Sorter.Handling = "keep" },
		"window":      func(c *Config) { c.Sorter.Window = 0 },
		"block size":  func(c *Config) { c.Arena.BlockSize = 1001 },
		"format":      func(c *Config) { c.Ingest.Format = "proto" },
		"chunk size":  func(c *Config) { c.Ingest.ChunkSize = 0 },
		"ring size":   func(c *Config) { c.Ingest.RingSize = 12 },
		"ring of one": func(c *Config) { c.Ingest.RingSize = 1 },
		"compression": func(c *Config) { c.Export.Compression = "brotli" },
		"row group":   func(c *Config) { c.Export.RowGroupSize = -1 },
		"log level":   func(c *Config) { c.Log.Level = "loud" },
		"log format":  func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
