package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/digest"
	"github.com/bianoble/codemod-runner/internal/filecmd"
	"github.com/bianoble/codemod-runner/internal/fsys"
	"github.com/bianoble/codemod-runner/internal/producer"
	"github.com/bianoble/codemod-runner/internal/runlog"
	"github.com/bianoble/codemod-runner/internal/scheduler"
	"github.com/bianoble/codemod-runner/internal/staging"
	"github.com/bianoble/codemod-runner/internal/vfs"
	"github.com/bianoble/codemod-runner/internal/worker"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

const tracerName = "github.com/bianoble/codemod-runner/internal/engine"

// LogFileName is the run-log file inside a run directory.
const LogFileName = "case.data"

// RunEngine runs one codemod over a target and records what it did.
type RunEngine struct {
	Registry *codemods.Registry
	// FS is the target tree. Nil means the real filesystem confined to the
	// target root.
	FS fsys.FileSystem
	// Factory starts per-file workers. Nil means in-process workers sharing
	// Registry, FS and Formatter.
	Factory   worker.Factory
	Formatter filecmd.Formatter
	Metrics   *scheduler.Metrics
	Logger    *slog.Logger
	// Now stamps the case. Nil means time.Now.
	Now func() time.Time
}

// RunOptions controls a run.
type RunOptions struct {
	Codemod string
	// Target is the directory or file the codemod starts from.
	Target string
	// Include and Exclude select the files of a per-file codemod. Tree
	// codemods choose their own files.
	Include   []string
	Exclude   []string
	Arguments filemod.Options

	Workers      int
	StaleTimeout time.Duration
	ScanInterval time.Duration
	StalePolicy  scheduler.StalePolicy
	MaxAttempts  int

	DryRun bool
	Format bool
	// LogDir is the parent of the run directory. Empty means
	// staging.DefaultLogDir().
	LogDir string

	OnProgress func(filemod.ProgressEvent)
}

type runState struct {
	opts      RunOptions
	fs        fsys.FileSystem
	formatter filecmd.Formatter
	applier   filecmd.Applier
	log       *runlog.Writer
	logger    *slog.Logger
	result    *RunResult
}

// Run executes the codemod named by opts. Failures confined to a file are
// collected in the result; anything else aborts the run and leaves the
// run-log unsealed.
func (e *RunEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("codemod", opts.Codemod),
		attribute.String("target", opts.Target),
		attribute.Bool("dry_run", opts.DryRun),
	)

	result, err := e.run(ctx, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("applied", len(result.Applied)), attribute.Int("errors", len(result.Errors)))
	return result, nil
}

func (e *RunEngine) run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if e.Registry == nil {
		return nil, errors.New("run engine has no codemod registry")
	}
	c, ok := e.Registry.Lookup(opts.Codemod)
	if !ok {
		return nil, fmt.Errorf("unknown codemod %q", opts.Codemod)
	}

	stat := os.Stat
	if e.FS != nil {
		stat = e.FS.Stat
	}
	target, root, err := resolveTarget(opts.Target, stat)
	if err != nil {
		return nil, err
	}
	opts.Target = target

	tree := e.FS
	if tree == nil {
		osfs, err := fsys.NewOS(root)
		if err != nil {
			return nil, fmt.Errorf("opening target root: %w", err)
		}
		tree = osfs
	}
	formatter := e.Formatter
	if formatter == nil {
		formatter = filecmd.NewSourceFormatter(0)
	}

	logDir := opts.LogDir
	if logDir == "" {
		logDir = staging.DefaultLogDir()
	}
	caseDigest := newCaseDigest()
	runDir := filepath.Join(logDir, caseDigest.String())
	store, err := staging.New(runDir)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(runDir, LogFileName)
	f, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating run-log: %w", err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	w := runlog.NewWriter(f)
	if err := w.WriteCase(runlog.Case{
		CaseDigest:    caseDigest,
		CodemodDigest: codemodDigest(c),
		CreatedAt:     now().UnixMilli(),
		TargetPath:    target,
		Arguments:     opts.Arguments,
	}); err != nil {
		return nil, fmt.Errorf("writing case: %w", err)
	}

	var applier filecmd.Applier = filecmd.WetApplier{FS: tree}
	if opts.DryRun {
		applier = filecmd.DryApplier{Store: store}
	}

	st := &runState{
		opts:      opts,
		fs:        tree,
		formatter: formatter,
		applier:   applier,
		log:       w,
		logger:    logger.With("codemod", c.Name),
		result: &RunResult{
			CaseDigest: caseDigest,
			RunDir:     runDir,
			LogPath:    logPath,
			DryRun:     opts.DryRun,
		},
	}
	st.logger.Info("Starting run", "target", target, "mode", c.Mode, "dry_run", opts.DryRun, "run_dir", runDir)

	switch c.Mode {
	case codemods.ModeTree:
		err = e.runTree(ctx, st, c)
	default:
		err = e.runPerFile(ctx, st, c, root)
	}
	if err != nil {
		_ = w.Abort()
		return nil, err
	}
	if err := w.Finish(); err != nil {
		return nil, fmt.Errorf("sealing run-log: %w", err)
	}

	st.logger.Info("Run finished",
		"applied", len(st.result.Applied),
		"errors", len(st.result.Errors),
		"processed", st.result.Processed,
		"total", st.result.Total)
	return st.result, nil
}

// runTree runs the codemod once over the whole target in this process.
func (e *RunEngine) runTree(ctx context.Context, st *runState, c codemods.Codemod) error {
	overlay := vfs.New(st.fs, vfs.WithLogger(st.logger))
	progress := filemod.NewProgress()

	exts, err := c.Runnable.Run(ctx, overlay, filemod.Config{
		Target:   st.opts.Target,
		Options:  st.opts.Arguments,
		Progress: progress,
		Logger:   st.logger,
	}, filemod.Callbacks{
		OnError: func(path, message string) {
			st.result.Errors = append(st.result.Errors, filemod.PathError{Path: path, Message: message})
		},
		OnProgress: st.opts.OnProgress,
	})
	if err != nil {
		return fmt.Errorf("running %s: %w", c.Name, err)
	}

	cmds := make([]filecmd.Command, 0, len(exts))
	for _, ext := range exts {
		cmd, err := filecmd.FromExternal(st.fs, ext, st.opts.Format)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	cmds, err = filecmd.FormatAll(ctx, st.formatter, cmds, st.logger)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := st.apply(ctx, cmd); err != nil {
			return err
		}
	}

	st.result.Processed, st.result.Total = progress.Counts()
	if st.opts.OnProgress != nil {
		st.opts.OnProgress(filemod.ProgressEvent{
			Processed: st.result.Processed,
			Total:     st.result.Total,
			Finished:  true,
		})
	}
	return nil
}

// runPerFile fans the matching files out to a worker pool.
func (e *RunEngine) runPerFile(ctx context.Context, st *runState, c codemods.Codemod, root string) error {
	paths, err := producer.NewGlob(st.opts.Target, st.opts.Include, st.opts.Exclude)
	if err != nil {
		return err
	}
	defer paths.Close()

	factory := e.Factory
	if factory == nil {
		factory = worker.InProcessFactory(e.Registry,
			worker.WithFileSystem(st.fs),
			worker.WithFormatter(st.formatter))
	}
	workers := st.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &scheduler.Scheduler{
		Workers: workers,
		Factory: factory,
		Init:    worker.Initialization(c.Name, root, st.opts.Arguments, st.opts.Format),
		ReadFile: func(path string) (string, error) {
			data, err := st.fs.ReadFile(path)
			return string(data), err
		},
		OnCommand:    st.apply,
		OnProgress:   st.opts.OnProgress,
		StaleTimeout: st.opts.StaleTimeout,
		ScanInterval: st.opts.ScanInterval,
		StalePolicy:  st.opts.StalePolicy,
		MaxAttempts:  st.opts.MaxAttempts,
		Metrics:      e.Metrics,
		Logger:       st.logger,
	}
	res, err := s.Run(ctx, paths)
	if err != nil {
		return fmt.Errorf("running %s: %w", c.Name, err)
	}

	st.result.Errors = append(st.result.Errors, res.Errors...)
	st.result.Processed = res.Processed
	st.result.Total = res.Total
	st.result.Replacements = res.Replacements
	return nil
}

// apply carries out one command and records it. A command that cannot be
// applied is a per-file error; a run-log that cannot be written aborts.
func (st *runState) apply(ctx context.Context, c filecmd.Command) error {
	applied, err := st.applier.Apply(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.logger.Warn("Failed to apply command", "kind", c.Kind, "path", c.Path(), "error", err)
		st.result.Errors = append(st.result.Errors, filemod.PathError{Path: c.Path(), Message: err.Error(), Err: err})
		return nil
	}
	if err := st.log.WriteJob(applied.Job()); err != nil {
		return fmt.Errorf("recording %s: %w", c.Path(), err)
	}
	st.logger.Debug("Applied command", "kind", c.Kind, "path", c.Path(), "data_ref", applied.DataRef)
	st.result.Applied = append(st.result.Applied, FileAction{
		Kind:    c.Kind.String(),
		Path:    c.Path(),
		NewPath: movedTo(c),
		DataRef: applied.DataRef,
	})
	return nil
}

func movedTo(c filecmd.Command) string {
	if c.Kind == filecmd.MoveFile || c.Kind == filecmd.CopyFile {
		return c.NewPath
	}
	return ""
}

// resolveTarget returns the absolute target and the directory writes are
// confined to: the target itself, or its parent when it is a file.
func resolveTarget(target string, stat func(string) (os.FileInfo, error)) (string, string, error) {
	if target == "" {
		return "", "", errors.New("no target given")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", "", fmt.Errorf("resolving target %s: %w", target, err)
	}
	info, err := stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("target %s: %w", target, err)
	}
	if info.IsDir() {
		return abs, abs, nil
	}
	return abs, filepath.Dir(abs), nil
}

func newCaseDigest() digest.Digest {
	id := uuid.New()
	return digest.Sum(id[:])
}

func codemodDigest(c codemods.Codemod) digest.Digest {
	return digest.Concat([]byte(c.Name), []byte{0}, []byte(c.Mode))
}
