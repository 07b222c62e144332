// Package staging stores the content a dry run would have written.
//
// Entries live flat in a run directory under names derived from the command
// that produced them, so staging the same command twice is a no-op.
package staging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Store is a directory of staged files.
type Store struct {
	dir string
}

// New creates a Store at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Open returns the Store at an existing dir.
func Open(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening staging directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("staging directory %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// DefaultLogDir returns the default parent of run directories.
// Uses XDG_STATE_HOME if set, otherwise ~/.local/state/codemod-runner.
func DefaultLogDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "codemod-runner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "codemod-runner")
		}
		return filepath.Join("/tmp", "codemod-runner")
	}
	return filepath.Join(home, ".local", "state", "codemod-runner")
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns where name is (or would be) staged.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Put stages content under name and returns the staged path. Putting the
// same content again is a no-op; different content under an existing name is
// an error.
func (s *Store) Put(name string, content []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid staging name %q", name)
	}
	path := s.Path(name)

	existing, err := os.ReadFile(path)
	if err == nil {
		if !bytes.Equal(existing, content) {
			return "", fmt.Errorf("staging %s: different content already staged under this name", name)
		}
		return path, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading staged file %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating staging temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("writing staging temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing staging temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing staging temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("renaming staging temp file: %w", err)
	}

	success = true
	return path, nil
}

// Get returns staged content. found is false when nothing is staged under name.
func (s *Store) Get(name string) (content []byte, found bool, err error) {
	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading staged file %s: %w", name, err)
	}
	return data, true, nil
}

// Has reports whether name is staged.
func (s *Store) Has(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Size returns the total size of staged files in bytes.
func (s *Store) Size() (int64, error) {
	var total int64
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
