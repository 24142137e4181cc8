// Package config loads runtime settings for ingest, sorting and export.
// Priority: defaults < file < env < flags.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"traceproc/constants"
	"traceproc/sorter"
)

// Config holds all traceproc configuration.
type Config struct {
	Sorter SorterConfig `yaml:"sorter"`
	Arena  ArenaConfig  `yaml:"arena"`
	Ingest IngestConfig `yaml:"ingest"`
	Export ExportConfig `yaml:"export"`
	Log    LogConfig    `yaml:"log"`
}

// SorterConfig controls the windowed sorter.
type SorterConfig struct {
	Mode     string        `yaml:"mode"`     // default | full_sort
	Handling string        `yaml:"handling"` // push | sort_and_drop | drop
	Window   time.Duration `yaml:"window"`
	// FlushPeriodMs, when set, derives the window from the producer's
	// flush period and overrides Window.
	FlushPeriodMs uint32 `yaml:"flush_period_ms"`
}

// ArenaConfig controls the sort arena.
type ArenaConfig struct {
	BlockSize int `yaml:"block_size"`
}

// IngestConfig controls the reader and tokenizers.
type IngestConfig struct {
	Format    string `yaml:"format"` // auto | systrace | json
	ChunkSize int    `yaml:"chunk_size"`
	RingSize  int    `yaml:"ring_size"`
	// Compact decodes sched_switch/sched_waking at tokenize time.
	Compact bool `yaml:"compact"`
}

// ExportConfig controls Parquet output.
type ExportConfig struct {
	Dir          string `yaml:"dir"`
	Compression  string `yaml:"compression"` // snappy | zstd | gzip | none
	RowGroupSize int64  `yaml:"row_group_size"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // logfmt | json
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Sorter: SorterConfig{
			Mode:     "default",
			Handling: "push",
			Window:   constants.DefaultSortWindow,
		},
		Arena: ArenaConfig{
			BlockSize: constants.ArenaBlockSize,
		},
		Ingest: IngestConfig{
			Format:    "auto",
			ChunkSize: constants.ChunkSize,
			RingSize:  constants.RingSize,
		},
		Export: ExportConfig{
			Dir:          "out",
			Compression:  "snappy",
			RowGroupSize: 128 << 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: open")
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("TRACEPROC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TRACEPROC_SORT_MODE"); v != "" {
		c.Sorter.Mode = v
	}
	if v := os.Getenv("TRACEPROC_EXPORT_DIR"); v != "" {
		c.Export.Dir = v
	}
	if v := os.Getenv("TRACEPROC_SORT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "config: TRACEPROC_SORT_WINDOW")
		}
		c.Sorter.Window = d
	}
	if v := os.Getenv("TRACEPROC_COMPACT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "config: TRACEPROC_COMPACT")
		}
		c.Ingest.Compact = b
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.SortingMode(); err != nil {
		return err
	}
	if _, err := c.EventHandling(); err != nil {
		return err
	}
	if c.Sorter.Window <= 0 && c.Sorter.FlushPeriodMs == 0 {
		return errors.New("config: sorter.window must be positive")
	}
	if bs := c.Arena.BlockSize; bs < constants.ArenaHeaderSize*2 || bs >= 1<<30 || bs%constants.ArenaRecordAlign != 0 {
		return errors.Newf("config: arena.block_size %d must be a multiple of %d below 1 GiB",
			bs, constants.ArenaRecordAlign)
	}
	switch c.Ingest.Format {
	case "auto", "systrace", "json":
	default:
		return errors.Newf("config: unknown ingest.format %q", c.Ingest.Format)
	}
	if c.Ingest.ChunkSize <= 0 {
		return errors.New("config: ingest.chunk_size must be positive")
	}
	if c.Ingest.RingSize < 2 || c.Ingest.RingSize&(c.Ingest.RingSize-1) != 0 {
		return errors.Newf("config: ingest.ring_size %d must be a power of two >= 2", c.Ingest.RingSize)
	}
	switch strings.ToLower(c.Export.Compression) {
	case "snappy", "zstd", "gzip", "none", "":
	default:
		return errors.Newf("config: unknown export.compression %q", c.Export.Compression)
	}
	if c.Export.RowGroupSize <= 0 {
		return errors.New("config: export.row_group_size must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("config: unknown log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "logfmt", "json":
	default:
		return errors.Newf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SortingMode maps sorter.mode onto the sorter enum.
func (c *Config) SortingMode() (sorter.SortingMode, error) {
	switch strings.ToLower(c.Sorter.Mode) {
	case "", "default":
		return sorter.SortingDefault, nil
	case "full_sort", "full":
		return sorter.SortingFullSort, nil
	}
	return 0, errors.Newf("config: unknown sorter.mode %q", c.Sorter.Mode)
}

// EventHandling maps sorter.handling onto the sorter enum.
func (c *Config) EventHandling() (sorter.EventHandling, error) {
	switch strings.ToLower(c.Sorter.Handling) {
	case "", "push":
		return sorter.SortAndPush, nil
	case "sort_and_drop":
		return sorter.SortAndDrop, nil
	case "drop":
		return sorter.Drop, nil
	}
	return 0, errors.Newf("config: unknown sorter.handling %q", c.Sorter.Handling)
}

// WindowNs is the effective sort window in nanoseconds.
func (c *Config) WindowNs() int64 {
	if c.Sorter.FlushPeriodMs > 0 {
		return sorter.WindowFromFlushPeriod(c.Sorter.FlushPeriodMs)
	}
	return c.Sorter.Window.Nanoseconds()
}

// SorterOptions converts the config into sorter options. It assumes a
// validated config.
func (c *Config) SorterOptions() []sorter.Option {
	mode, _ := c.SortingMode()
	handling, _ := c.EventHandling()
	return []sorter.Option{
		sorter.WithSortingMode(mode),
		sorter.WithEventHandling(handling),
		sorter.WithWindow(c.WindowNs()),
		sorter.WithBlockSize(c.Arena.BlockSize),
	}
}
