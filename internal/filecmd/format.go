package filecmd

import (
	"context"
	"go/format"
	"log/slog"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/codemod-runner/internal/digest"
)

// DefaultFormatCacheSize bounds how many formatted results are memoized.
const DefaultFormatCacheSize = 4096

// Formatter rewrites content into its canonical form. It must be a pure
// function of path and content.
type Formatter interface {
	Format(path, content string) (string, error)
}

// SourceFormatter runs gofmt on Go files and leaves other text files with a
// single trailing newline. Results are memoized.
type SourceFormatter struct {
	cache *lru.Cache[digest.Digest, string]
}

// NewSourceFormatter returns a SourceFormatter memoizing up to size results.
func NewSourceFormatter(size int) *SourceFormatter {
	if size <= 0 {
		size = DefaultFormatCacheSize
	}
	cache, err := lru.New[digest.Digest, string](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &SourceFormatter{cache: cache}
}

func (f *SourceFormatter) Format(path, content string) (string, error) {
	key := digest.Concat([]byte(path), []byte{0}, []byte(content))
	if out, ok := f.cache.Get(key); ok {
		return out, nil
	}

	var out string
	if filepath.Ext(path) == ".go" {
		src, err := format.Source([]byte(content))
		if err != nil {
			return "", err
		}
		out = string(src)
	} else {
		out = normalizeTrailingNewline(content)
	}

	f.cache.Add(key, out)
	return out, nil
}

func normalizeTrailingNewline(s string) string {
	if s == "" {
		return s
	}
	trimmed := strings.TrimRight(s, "\r\n")
	if trimmed == "" {
		return "\n"
	}
	return trimmed + "\n"
}

// Format applies f to c's new content when c asks for formatting. A
// formatter error keeps the unformatted content. ok is false when c is an
// update whose result equals the old content and should be dropped.
func Format(f Formatter, c Command, logger *slog.Logger) (out Command, ok bool) {
	if c.Format && f != nil && (c.Kind == CreateFile || c.Kind == UpdateFile) {
		formatted, err := f.Format(c.Path(), c.NewData)
		if err != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Debug("Formatting failed, keeping original content", "path", c.Path(), "error", err)
		} else {
			c.NewData = formatted
		}
	}

	if c.Kind == UpdateFile && c.NewData == c.OldData {
		return Command{}, false
	}
	return c, true
}

// FormatAll formats commands concurrently, preserving order and dropping
// collapsed updates.
func FormatAll(ctx context.Context, f Formatter, cmds []Command, logger *slog.Logger) ([]Command, error) {
	results := make([]Command, len(cmds))
	keep := make([]bool, len(cmds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range cmds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], keep[i] = Format(f, c, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Command, 0, len(cmds))
	for i, c := range results {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out, nil
}
