// Package codemodrunner provides the public Go library API for codemod-runner.
//
// codemod-runner applies codemods to a file tree through a virtual overlay,
// fans per-file codemods out to a pool of workers and records every applied
// change in an append-only run-log. This package exposes a Client for
// embedding the runner in other Go programs.
//
// # Basic Usage
//
//	client, err := codemodrunner.New(codemodrunner.Options{
//	    ProjectRoot: "/path/to/project",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Preview a codemod; nothing in the target changes.
//	result, err := client.Run(ctx, codemodrunner.RunOptions{
//	    Codemod:   "replace",
//	    Arguments: map[string]any{"from": "oldName", "to": "newName"},
//	    DryRun:    true,
//	})
//
//	// Read back what the run recorded.
//	log, err := client.Inspect(ctx, codemodrunner.InspectOptions{Path: result.RunDir})
//
// Codemods written against pkg/filemod can be registered next to the
// built-in ones through Options.Codemods.
package codemodrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/config"
	"github.com/bianoble/codemod-runner/internal/engine"
	"github.com/bianoble/codemod-runner/internal/scheduler"
	"github.com/bianoble/codemod-runner/internal/worker"
)

// Runner applies a codemod to a target.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
}

// Inspector decodes a run-log.
type Inspector interface {
	Inspect(ctx context.Context, opts InspectOptions) (*InspectResult, error)
}

// Options configures a codemod-runner client.
type Options struct {
	// ProjectRoot is the base for a relative target and where the search
	// for codemod-runner.yaml starts. Default: the directory of the project
	// config.
	ProjectRoot string

	// ConfigPath names the project config, relative to ProjectRoot. Empty
	// means the nearest codemod-runner.yaml at or above ProjectRoot (or the
	// working directory), searching no further than the checkout root. A
	// missing file is not an error.
	ConfigPath string

	// SystemConfigPath and UserConfigPath override the OS defaults. Set
	// them to a nonexistent path to skip a layer.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit reads only the project config.
	NoInherit bool

	// Codemods are registered on top of the built-in ones. They only run in
	// in-process workers.
	Codemods []Codemod

	// WorkerCommand runs a process worker, e.g. {"codemod-runner", "worker"}.
	// Required when the config selects process workers.
	WorkerCommand []string

	// Metrics, when set, receives the scheduler's collectors.
	Metrics prometheus.Registerer
	Logger  *slog.Logger
}

// Client is the main entry point for the codemod-runner library.
// It implements Runner and Inspector.
type Client struct {
	registry      *codemods.Registry
	custom        bool
	projectRoot   string
	discover      config.DiscoverOptions
	noInherit     bool
	workerCommand []string
	metrics       *scheduler.Metrics
	logger        *slog.Logger
}

// New creates a new codemod-runner Client.
func New(opts Options) (*Client, error) {
	configPath := opts.ConfigPath
	if configPath != "" && !filepath.IsAbs(configPath) && opts.ProjectRoot != "" {
		configPath = filepath.Join(opts.ProjectRoot, configPath)
	}
	discover := config.DiscoverOptions{
		ProjectPath:      configPath,
		Start:            opts.ProjectRoot,
		SystemConfigPath: opts.SystemConfigPath,
		UserConfigPath:   opts.UserConfigPath,
	}
	project, err := config.ResolveProject(discover)
	if err != nil {
		return nil, err
	}
	discover.ProjectPath = project.Path

	root := opts.ProjectRoot
	if root == "" {
		abs, err := filepath.Abs(project.Dir())
		if err != nil {
			return nil, fmt.Errorf("resolving project root: %w", err)
		}
		root = abs
	}

	all := codemods.Builtin().List()
	all = append(all, opts.Codemods...)
	for _, c := range opts.Codemods {
		if c.Name == "" || c.Runnable == nil {
			return nil, errors.New("custom codemods need a name and a runnable")
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		registry:      codemods.NewRegistry(all...),
		custom:        len(opts.Codemods) > 0,
		projectRoot:   root,
		discover:      discover,
		noInherit:     opts.NoInherit || config.EnvNoInherit(),
		workerCommand: opts.WorkerCommand,
		logger:        logger,
	}
	if opts.Metrics != nil {
		c.metrics = scheduler.NewMetrics(opts.Metrics)
	}
	return c, nil
}

func (c *Client) loadConfig() (*config.Config, error) {
	cfg, _, err := config.LoadLayers(c.discover, c.noInherit)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Codemods lists every codemod the client can run, sorted by name.
func (c *Client) Codemods() []Codemod {
	return c.registry.List()
}

// Run applies a codemod. Options left at their zero value fall back to the
// layered configuration.
func (c *Client) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	runOpts, err := engine.RunOptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.apply(&runOpts)
	if _, err := scheduler.ParseStalePolicy(string(runOpts.StalePolicy)); err != nil {
		return nil, err
	}
	if runOpts.Codemod == "" {
		return nil, errors.New("no codemod selected")
	}
	if !filepath.IsAbs(runOpts.Target) {
		runOpts.Target = filepath.Join(c.projectRoot, runOpts.Target)
	}

	factory, err := c.workerFactory(cfg.WorkerMode)
	if err != nil {
		return nil, err
	}

	eng := &engine.RunEngine{
		Registry: c.registry,
		Factory:  factory,
		Metrics:  c.metrics,
		Logger:   c.logger,
	}
	return eng.Run(ctx, runOpts)
}

func (c *Client) workerFactory(mode string) (worker.Factory, error) {
	switch mode {
	case "", config.WorkerModeInProcess:
		return nil, nil
	case config.WorkerModeProcess:
		if c.custom {
			return nil, errors.New("custom codemods cannot run in process workers")
		}
		if len(c.workerCommand) == 0 {
			return nil, errors.New("process workers need Options.WorkerCommand")
		}
		return worker.ProcessFactory(c.workerCommand[0], c.workerCommand[1:], c.logger), nil
	default:
		return nil, fmt.Errorf("unknown worker mode %q", mode)
	}
}

// Inspect decodes the run-log in a run directory or at a log path.
func (c *Client) Inspect(ctx context.Context, opts InspectOptions) (*InspectResult, error) {
	eng := &engine.InspectEngine{Logger: c.logger}
	return eng.Inspect(ctx, opts)
}
