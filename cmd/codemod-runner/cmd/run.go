package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/config"
	"github.com/bianoble/codemod-runner/internal/engine"
	"github.com/bianoble/codemod-runner/internal/scheduler"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

var (
	runInclude       []string
	runExclude       []string
	runArgs          []string
	runWorkers       int
	runWorkerMode    string
	runWorkerTimeout time.Duration
	runStalePolicy   string
	runMaxAttempts   int
	runDryRun        bool
	runFormat        bool
	runLogDir        string
	runMetricsAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run [codemod] [target]",
	Short: "Apply a codemod to a target directory or file",
	Long: `Runs a codemod over the target and records every applied change in a
run-log under the log directory. Tree codemods run in one traversal of the
whole target; per-file codemods are fanned out to a pool of workers.

The codemod and target default to the values in codemod-runner.yaml. Without
--config the nearest codemod-runner.yaml above the target is used, searching
no further than the root of the checkout. Flags override the configuration. Use --dry-run to stage the new content next to
the run-log instead of writing it.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var start string
		if len(args) > 1 {
			start = args[1]
		}
		cfg, layers, err := loadConfig(start)
		if err != nil {
			return err
		}
		opts, mode, err := runOptions(cmd, cfg, layers, args)
		if err != nil {
			return err
		}

		factory, err := engine.WorkerFactory(mode, slog.Default())
		if err != nil {
			return err
		}
		eng := &engine.RunEngine{
			Registry: codemods.Builtin(),
			Factory:  factory,
		}

		if runMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			eng.Metrics = scheduler.NewMetrics(reg)
			stop := serveMetrics(runMetricsAddr, reg)
			defer stop()
		}

		opts.OnProgress = func(e filemod.ProgressEvent) {
			if e.Path != "" {
				detail("[%d/%d] %s", e.Processed, e.Total, e.Path)
			}
		}

		result, err := eng.Run(commandContext(cmd), opts)
		if err != nil {
			return err
		}

		if result.DryRun {
			info("Dry run: target untouched, new content staged in %s", result.RunDir)
		}
		for _, a := range result.Applied {
			if a.NewPath != "" {
				info("  %-10s %s -> %s", a.Kind, a.Path, a.NewPath)
				continue
			}
			info("  %-10s %s", a.Kind, a.Path)
		}
		for _, e := range result.Errors {
			errorf("%s: %s", e.Path, e.Message)
		}

		info("")
		info("Run complete: %d files processed, %d changes, %d errors.",
			result.Processed, len(result.Applied), len(result.Errors))
		info("Run log: %s", result.LogPath)

		if result.Failed() {
			return fmt.Errorf("%d file(s) failed", len(result.Errors))
		}
		return nil
	},
}

// runOptions merges the config with positional arguments and changed flags.
// It returns the options and the worker mode.
func runOptions(cmd *cobra.Command, cfg *config.Config, layers []config.ConfigLayerInfo, args []string) (engine.RunOptions, string, error) {
	opts, err := engine.RunOptionsFromConfig(cfg)
	if err != nil {
		return engine.RunOptions{}, "", err
	}

	// A target from the config is relative to the project config.
	if cfg.Target != "" && !filepath.IsAbs(cfg.Target) {
		root, err := projectRoot(layers)
		if err != nil {
			return engine.RunOptions{}, "", err
		}
		opts.Target = filepath.Join(root, cfg.Target)
	}
	if len(args) > 0 {
		opts.Codemod = args[0]
	}
	if len(args) > 1 {
		opts.Target = args[1]
	}
	if opts.Codemod == "" {
		return engine.RunOptions{}, "", errors.New("no codemod given (pass one or set 'codemod' in the config; see 'codemod-runner list')")
	}

	flags := cmd.Flags()
	if flags.Changed("include") {
		opts.Include = runInclude
	}
	if flags.Changed("exclude") {
		opts.Exclude = runExclude
	}
	if flags.Changed("arg") {
		extra, err := parseArguments(runArgs)
		if err != nil {
			return engine.RunOptions{}, "", err
		}
		merged := filemod.Options{}
		for k, v := range opts.Arguments {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		opts.Arguments = merged
	}
	if flags.Changed("workers") {
		opts.Workers = runWorkers
	}
	if flags.Changed("worker-timeout") {
		opts.StaleTimeout = runWorkerTimeout
	}
	if flags.Changed("stale-policy") {
		policy, err := scheduler.ParseStalePolicy(runStalePolicy)
		if err != nil {
			return engine.RunOptions{}, "", err
		}
		opts.StalePolicy = policy
	}
	if flags.Changed("max-attempts") {
		opts.MaxAttempts = runMaxAttempts
	}
	if flags.Changed("dry-run") {
		opts.DryRun = runDryRun
	}
	if flags.Changed("format") {
		opts.Format = runFormat
	}
	if flags.Changed("log-dir") {
		opts.LogDir = runLogDir
	}

	mode := cfg.WorkerMode
	if flags.Changed("worker-mode") {
		mode = runWorkerMode
	}
	return opts, mode, nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	runCmd.Flags().StringSliceVar(&runInclude, "include", nil, "glob patterns selecting files (per-file codemods)")
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "glob patterns excluding files (per-file codemods)")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "codemod argument as key=value (repeatable)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "number of workers (default: number of CPUs)")
	runCmd.Flags().StringVar(&runWorkerMode, "worker-mode", config.WorkerModeInProcess, "worker mode: inprocess or process")
	runCmd.Flags().DurationVar(&runWorkerTimeout, "worker-timeout", scheduler.DefaultStaleTimeout, "replace a worker busy on one file for longer than this")
	runCmd.Flags().StringVar(&runStalePolicy, "stale-policy", string(scheduler.StaleRetry), "what to do with a timed-out file: retry or report")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", scheduler.DefaultMaxAttempts, "attempts per file under the retry policy")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "stage new content instead of writing it")
	runCmd.Flags().BoolVar(&runFormat, "format", false, "format changed files before applying them")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "parent directory of run directories")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	rootCmd.AddCommand(runCmd)
}
