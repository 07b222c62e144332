package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/bianoble/codemod-runner/internal/runlog"
	"github.com/bianoble/codemod-runner/internal/staging"
)

// diffContext is the number of unchanged lines around each hunk.
const diffContext = 3

// InspectEngine decodes run-logs.
type InspectEngine struct {
	Logger *slog.Logger
}

// InspectOptions controls an inspection.
type InspectOptions struct {
	// Path is a run directory or a run-log file.
	Path string
	// Follow tails a log that is still being written until it is sealed or
	// the context is done.
	Follow bool
	// Diff renders a unified diff for every job that carries new content.
	Diff bool
	// OnCase and OnJob, when set, see each record as soon as it is decoded.
	OnCase func(CaseView)
	OnJob  func(JobView)
}

// Inspect reads the run-log at opts.Path. Integrity failures are returned as
// errors and no partial result is produced, except that a followed log
// interrupted by ctx returns what was read so far with Sealed unset.
func (e *InspectEngine) Inspect(ctx context.Context, opts InspectOptions) (*InspectResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path, err := logPath(opts.Path)
	if err != nil {
		return nil, err
	}

	r, err := runlog.Open(ctx, path, opts.Follow)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	c, err := r.Case()
	if err != nil {
		if opts.Follow && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading case: %w", err)
	}
	var store *staging.Store
	if opts.Diff {
		if store, err = staging.Open(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	result := &InspectResult{Case: caseView(c)}
	if opts.OnCase != nil {
		opts.OnCase(result.Case)
	}

	for {
		j, err := r.Next()
		if errors.Is(err, io.EOF) {
			result.Sealed = true
			break
		}
		if err != nil {
			if opts.Follow && ctx.Err() != nil {
				logger.Debug("Stopped following run-log", "path", path, "jobs", len(result.Jobs))
				break
			}
			return nil, fmt.Errorf("reading job %d: %w", len(result.Jobs)+1, err)
		}

		view := jobView(j)
		if opts.Diff {
			view.Diff, err = jobDiff(store, j)
			if err != nil {
				logger.Warn("Cannot render diff", "path", j.Path, "error", err)
			}
		}
		result.Jobs = append(result.Jobs, view)
		if opts.OnJob != nil {
			opts.OnJob(view)
		}
	}
	return result, nil
}

// logPath accepts a run directory or the log file itself.
func logPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("no run-log given")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("run-log %s: %w", path, err)
	}
	if info.IsDir() {
		return filepath.Join(path, LogFileName), nil
	}
	return path, nil
}

func caseView(c runlog.Case) CaseView {
	return CaseView{
		CaseDigest:    c.CaseDigest.String(),
		CodemodDigest: c.CodemodDigest.String(),
		CreatedAt:     time.UnixMilli(c.CreatedAt).UTC().Format(time.RFC3339),
		TargetPath:    c.TargetPath,
		Arguments:     normalize(c.Arguments),
	}
}

// normalize round-trips arguments through JSON so they print the same
// whether they came from a decoded log or from memory.
func normalize(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return args
	}
	return out
}

func jobView(j runlog.Job) JobView {
	return JobView{
		Kind:       j.Kind.String(),
		Digest:     j.Digest.String(),
		Path:       j.Path,
		TargetPath: j.TargetPath,
		DataRef:    j.DataRef,
	}
}

// jobDiff compares the file as it is now with the content the job recorded.
// Staged content is looked up by name in the run directory the log sits in,
// so a moved run directory still diffs. Wet runs record the file itself, so
// their diffs are empty.
func jobDiff(store *staging.Store, j runlog.Job) (string, error) {
	var from, to, toName string
	switch j.Kind {
	case runlog.JobCreateFile, runlog.JobUpdateFile, runlog.JobMoveAndUpdateFile:
		if j.DataRef == j.Path {
			return "", nil
		}
		name := filepath.Base(j.DataRef)
		if !store.Has(name) {
			return "", fmt.Errorf("staged data %s is missing from %s", name, store.Dir())
		}
		data, _, err := store.Get(name)
		if err != nil {
			return "", err
		}
		if from, err = readOptional(j.Path); err != nil {
			return "", err
		}
		to, toName = string(data), store.Path(name)
	case runlog.JobDeleteFile:
		var err error
		if from, err = readOptional(j.Path); err != nil {
			return "", err
		}
		toName = "/dev/null"
	default:
		return "", nil
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(from),
		B:        splitLines(to),
		FromFile: j.Path,
		ToFile:   toName,
		Context:  diffContext,
	})
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
