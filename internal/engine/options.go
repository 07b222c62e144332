package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bianoble/codemod-runner/internal/config"
	"github.com/bianoble/codemod-runner/internal/scheduler"
	"github.com/bianoble/codemod-runner/internal/worker"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// WorkerCommand is the hidden subcommand a process worker runs.
const WorkerCommand = "worker"

// RunOptionsFromConfig builds run options from a merged, validated config.
// Callers override individual fields afterwards.
func RunOptionsFromConfig(cfg *config.Config) (RunOptions, error) {
	policy, err := scheduler.ParseStalePolicy(cfg.StalePolicy)
	if err != nil {
		return RunOptions{}, err
	}

	opts := RunOptions{
		Codemod:      cfg.Codemod,
		Target:       cfg.Target,
		Include:      cfg.Include,
		Exclude:      cfg.Exclude,
		Workers:      cfg.Workers,
		StaleTimeout: cfg.WorkerTimeout.Std(),
		ScanInterval: cfg.ScanInterval.Std(),
		StalePolicy:  policy,
		MaxAttempts:  cfg.MaxAttempts,
		DryRun:       config.IsSet(cfg.DryRun),
		Format:       config.IsSet(cfg.Format),
		LogDir:       cfg.LogDir,
	}
	if len(cfg.Arguments) > 0 {
		opts.Arguments = filemod.Options(cfg.Arguments)
	}
	if opts.Target == "" {
		opts.Target = "."
	}
	return opts, nil
}

// WorkerFactory returns the factory for a worker mode. In-process mode
// returns nil so the engine builds its own. Process mode re-executes the
// running binary's worker subcommand.
func WorkerFactory(mode string, logger *slog.Logger) (worker.Factory, error) {
	switch mode {
	case "", config.WorkerModeInProcess:
		return nil, nil
	case config.WorkerModeProcess:
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker executable: %w", err)
		}
		return worker.ProcessFactory(self, []string{WorkerCommand}, logger), nil
	default:
		return nil, fmt.Errorf("unknown worker mode %q", mode)
	}
}
