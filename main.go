// ════════════════════════════════════════════════════════════════════════════════════════════════
// traceproc - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: CLI & process lifecycle
//
// Description:
//   Loads a trace (ftrace text or JSON Trace Event Format), sorts it, builds the
//   trace tables and runs one command over them.
//
// Commands:
//   - query:     SQL over the trace tables (interval_intersect with -tags sqlite_vtable)
//   - export:    every table to Parquet
//   - stats:     import anomaly counters
//   - intersect: n-way interval intersection of tables or query results
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"traceproc/config"
	"traceproc/control"
	"traceproc/debug"
)

var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		debug.DropError("traceproc", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "traceproc",
		Short:         "Sort, import and query kernel and userspace traces",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug | info | warn | error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "logfmt | json (overrides config)")

	cmd.AddCommand(
		newQueryCmd(opts),
		newExportCmd(opts),
		newStatsCmd(opts),
		newIntersectCmd(opts),
	)
	return cmd
}

// setup loads the config and installs the process logger.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := debug.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	debug.SetLogger(logger)
	o.cfg = cfg
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// setupSignalHandling stops readers at their next chunk and cancels ctx on
// the first interrupt; a second interrupt exits immediately.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")
		control.Shutdown()
		cancel()

		<-sigChan
		debug.DropMessage("SIGNAL", "Second interrupt, exiting")
		os.Exit(130)
	}()
}
