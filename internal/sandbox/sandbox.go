// Package sandbox confines file mutations to a target directory.
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscape is returned for paths that resolve outside the root.
var ErrEscape = errors.New("path escapes the target root")

// Root is a directory that every mutation must stay within. Symlinks are
// resolved before the containment check, so a link pointing outside the root
// is rejected even when its own path looks contained.
type Root struct {
	dir string
}

// New resolves dir to its real absolute path.
func New(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving target root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving target root symlinks: %w", err)
	}
	return &Root{dir: real}, nil
}

// Dir returns the resolved root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve returns the real path for p. Absolute paths must already lie under
// the root; relative paths are joined onto it. The path need not exist.
func (r *Root) Resolve(p string) (string, error) {
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.dir, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}

	if resolved != r.dir && !strings.HasPrefix(resolved, r.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s' resolves to '%s', outside '%s'", ErrEscape, p, resolved, r.dir)
	}
	return resolved, nil
}

// resolveExistingPath resolves symlinks for the longest existing prefix of
// path and appends the part that does not exist yet.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}

	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(path)), nil
}

// WriteFile atomically replaces p with content. Parent directories must exist.
func (r *Root) WriteFile(p string, content []byte, perm os.FileMode) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return writeAtomic(resolved, perm, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
}

// CopyFile atomically copies src onto dst, keeping the source permissions.
func (r *Root) CopyFile(src, dst string) error {
	from, err := r.Resolve(src)
	if err != nil {
		return err
	}
	to, err := r.Resolve(dst)
	if err != nil {
		return err
	}

	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	return writeAtomic(to, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// Remove removes a file within the root.
func (r *Root) Remove(p string) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return os.Remove(resolved)
}

// MkdirAll creates p and any missing parents within the root.
func (r *Root) MkdirAll(p string, perm os.FileMode) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}

// writeAtomic writes through a temp file in the destination directory and
// renames it into place.
func writeAtomic(dst string, perm os.FileMode, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".codemod-runner-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", dst, err)
	}

	success = true
	return nil
}
