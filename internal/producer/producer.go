// Package producer yields the paths a per-file run visits, one at a time.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob walks a directory lazily, yielding absolute paths of regular files
// matching any include pattern and no exclude pattern. Patterns are
// doublestar globs relative to the root.
type Glob struct {
	root    string
	include []string
	exclude []string

	started bool
	out     chan result
	cancel  context.CancelFunc
}

type result struct {
	path string
	err  error
}

// NewGlob validates the patterns and prepares a walk of root. An empty
// include list matches every file. If root is a file it is the only path.
func NewGlob(root string, include, exclude []string) (*Glob, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(clean(p)) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	if len(include) == 0 {
		include = []string{"**"}
	}
	return &Glob{root: abs, include: include, exclude: exclude}, nil
}

func clean(pattern string) string {
	return strings.TrimPrefix(filepath.ToSlash(pattern), "./")
}

// Next returns the next path, or io.EOF when the walk is over.
func (g *Glob) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !g.started {
		g.start()
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-g.out:
		if !ok {
			return "", io.EOF
		}
		return r.path, r.err
	}
}

// Close stops the walk early.
func (g *Glob) Close() {
	if g.cancel != nil {
		g.cancel()
	}
}

func (g *Glob) start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.started, g.cancel = true, cancel
	g.out = make(chan result)

	go func() {
		defer close(g.out)
		if err := g.walk(ctx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case g.out <- result{err: err}:
			case <-ctx.Done():
			}
		}
	}()
}

func (g *Glob) walk(ctx context.Context) error {
	info, err := os.Stat(g.root)
	if err != nil {
		return fmt.Errorf("reading target: %w", err)
	}
	emit := func(path string) error {
		select {
		case g.out <- result{path: path}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !info.IsDir() {
		return emit(g.root)
	}

	fsys := os.DirFS(g.root)
	seen := make(map[string]struct{})
	for _, pattern := range g.include {
		err := doublestar.GlobWalk(fsys, clean(pattern), func(rel string, d fs.DirEntry) error {
			if !d.Type().IsRegular() || g.excluded(rel) {
				return nil
			}
			if _, dup := seen[rel]; dup {
				return nil
			}
			seen[rel] = struct{}{}
			return emit(filepath.Join(g.root, filepath.FromSlash(rel)))
		}, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("walking %s: %w", pattern, err)
		}
	}
	return nil
}

func (g *Glob) excluded(rel string) bool {
	for _, p := range g.exclude {
		if ok, _ := doublestar.Match(clean(p), rel); ok {
			return true
		}
	}
	return false
}

// Slice yields a fixed list of paths.
type Slice struct {
	paths []string
}

func NewSlice(paths ...string) *Slice { return &Slice{paths: paths} }

func (s *Slice) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.paths) == 0 {
		return "", io.EOF
	}
	p := s.paths[0]
	s.paths = s.paths[1:]
	return p, nil
}
