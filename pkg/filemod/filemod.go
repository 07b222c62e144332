// Package filemod drives a codemod's handlers over a virtual file tree.
//
// A codemod is a Filemod: a set of optional handlers for directories, files
// and file data, plus optional state initialization and a finish handler.
// Handlers never touch the disk; they return Commands which the engine
// dispatches depth-first against a vfs.Overlay. When the finish handler asks
// for a restart, the whole tree is traversed again with the accumulated state,
// so multi-pass codemods never manage recursion themselves.
package filemod

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bianoble/codemod-runner/internal/vfs"
)

const tracerName = "github.com/bianoble/codemod-runner/pkg/filemod"

// Filemod is a codemod. State S is opaque to the engine; handlers receive a
// pointer to the value returned by InitializeState (nil when absent) and may
// mutate it to carry facts between passes.
type Filemod[S any] struct {
	// IncludePatterns, when set, selects the files to handle by glob instead
	// of walking directories, and disables the default directory handler.
	IncludePatterns []string
	ExcludePatterns []string

	// InitializeState runs at the start of every pass with the previous
	// pass's state (nil on the first) and the globbed paths, if any.
	InitializeState func(ctx context.Context, opts Options, prev *S, api FileAPI, paths []string) (*S, error)

	HandleDirectory func(ctx context.Context, api DirectoryAPI, path string, opts Options, state *S) ([]Command, error)
	HandleFile      func(ctx context.Context, api FileAPI, path string, opts Options, state *S) ([]Command, error)
	// HandleData returns exactly one disposition for the data of path,
	// usually UpsertData or Noop.
	HandleData func(ctx context.Context, api DataAPI, path, data string, opts Options, state *S) (Command, error)

	// HandleFinish runs after each pass. FinishRestart starts another pass.
	HandleFinish func(ctx context.Context, opts Options, state *S) (FinishCommand, error)
}

// Callbacks observe a traversal. Every field is optional.
type Callbacks struct {
	// OnCommandExecuted fires after a command completes. Directories and files
	// complete after everything they emitted.
	OnCommandExecuted func(CommandEvent)
	// OnError reports a failure confined to one path. The traversal continues.
	OnError func(path, message string)
	// OnProgress fires whenever a file handler completes.
	OnProgress func(ProgressEvent)
}

// Config carries the run context Execute needs besides the codemod.
type Config struct {
	// Target is the directory or file the run starts from.
	Target  string
	Options Options
	// Progress accumulates across runs when shared; nil creates a fresh one.
	Progress *Progress
	Logger   *slog.Logger
}

// Runnable is a codemod with its state type erased, so codemods of
// different state types can share a registry.
type Runnable interface {
	Run(ctx context.Context, overlay *vfs.Overlay, cfg Config, cb Callbacks) ([]vfs.ExternalFileCommand, error)
}

// Run implements Runnable.
func (fm *Filemod[S]) Run(ctx context.Context, overlay *vfs.Overlay, cfg Config, cb Callbacks) ([]vfs.ExternalFileCommand, error) {
	return Execute(ctx, fm, overlay, cfg, cb)
}

func defaultHandleDirectory(_ context.Context, api DirectoryAPI, path string) ([]Command, error) {
	children, err := api.ReadDirectory(path)
	if err != nil {
		return nil, err
	}
	cmds := make([]Command, 0, len(children))
	for _, child := range children {
		if api.IsDirectory(child) {
			cmds = append(cmds, HandleDirectory(child))
		} else {
			cmds = append(cmds, HandleFile(child))
		}
	}
	return cmds, nil
}

// Execute runs fm over cfg.Target until its finish handler returns
// FinishNoop, then returns the overlay's final commands. A target that does
// not exist yields no commands.
func Execute[S any](ctx context.Context, fm *Filemod[S], overlay *vfs.Overlay, cfg Config, cb Callbacks) ([]vfs.ExternalFileCommand, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "filemod.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("target", cfg.Target))

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NewProgress()
	}

	entry, ok, err := overlay.UpsertEntry(cfg.Target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolving target %s: %w", cfg.Target, err)
	}
	if !ok {
		logger.Debug("Target does not exist", "target", cfg.Target)
		return nil, nil
	}

	t := &traversal[S]{
		fm:       fm,
		overlay:  overlay,
		api:      &api{overlay: overlay, target: cfg.Target, logger: logger},
		cb:       cb,
		progress: progress,
	}

	globbed := len(fm.IncludePatterns) > 0 && entry.Kind == vfs.KindDirectory

	var state *S
	for pass := 1; ; pass++ {
		span.AddEvent("pass", trace.WithAttributes(attribute.Int("pass", pass)))
		logger.Debug("Starting pass", "pass", pass, "target", cfg.Target)

		var paths []string
		if globbed {
			paths, err = overlay.FilePaths(cfg.Target, fm.IncludePatterns, fm.ExcludePatterns)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("expanding include patterns: %w", err)
			}
			progress.Discover(paths...)
		}

		if fm.InitializeState != nil {
			state, err = fm.InitializeState(ctx, cfg.Options, state, t.api, paths)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("initializing state: %w", err)
			}
		}
		t.state = state

		var roots []Command
		switch {
		case globbed:
			for _, p := range paths {
				roots = append(roots, HandleFile(p))
			}
		case entry.Kind == vfs.KindDirectory:
			roots = []Command{HandleDirectory(cfg.Target)}
		default:
			roots = []Command{HandleFile(cfg.Target)}
		}

		if err := t.dispatch(ctx, roots, cfg.Options); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		finish := FinishCommand{Kind: FinishNoop}
		if fm.HandleFinish != nil {
			finish, err = fm.HandleFinish(ctx, cfg.Options, state)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("finishing pass %d: %w", pass, err)
			}
		}
		if finish.Kind == FinishNoop {
			break
		}
	}

	return overlay.BuildExternalFileCommands()
}
