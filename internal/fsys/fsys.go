// Package fsys is the boundary between the runner and the real file tree.
//
// Paths are absolute. The overlay and the wet applier only talk to a
// FileSystem, so tests can run whole codemods against NewMemory.
package fsys

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/bianoble/codemod-runner/internal/sandbox"
)

// Default permissions for files and directories the runner creates.
const (
	FilePerm os.FileMode = 0o644
	DirPerm  os.FileMode = 0o755
)

// FileSystem abstracts the file operations codemods and appliers need.
type FileSystem interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	CopyFile(src, dst string) error
	// ReadDir lists a directory sorted by name.
	ReadDir(path string) ([]os.FileInfo, error)
}

// OS is the real filesystem with every mutation confined to a target root.
type OS struct {
	root *sandbox.Root
}

// NewOS returns a FileSystem whose writes must stay under target.
func NewOS(target string) (*OS, error) {
	root, err := sandbox.New(target)
	if err != nil {
		return nil, err
	}
	return &OS{root: root}, nil
}

// Root returns the resolved target directory.
func (o *OS) Root() string { return o.root.Dir() }

func (o *OS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (o *OS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }

func (o *OS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return o.root.WriteFile(path, data, perm)
}

func (o *OS) MkdirAll(path string, perm os.FileMode) error { return o.root.MkdirAll(path, perm) }
func (o *OS) Remove(path string) error                     { return o.root.Remove(path) }
func (o *OS) CopyFile(src, dst string) error               { return o.root.CopyFile(src, dst) }

func (o *OS) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry vanished between listing and stat.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Memory is an in-memory FileSystem backed by afero.
type Memory struct {
	fs afero.Fs
}

// NewMemory returns an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{fs: afero.NewMemMapFs()}
}

// Seed writes each file, creating parent directories as needed.
func (m *Memory) Seed(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := m.fs.MkdirAll(filepath.Dir(p), DirPerm); err != nil {
			return fmt.Errorf("seeding %s: %w", p, err)
		}
		if err := afero.WriteFile(m.fs, p, []byte(files[p]), FilePerm); err != nil {
			return fmt.Errorf("seeding %s: %w", p, err)
		}
	}
	return nil
}

func (m *Memory) Stat(path string) (os.FileInfo, error) { return m.fs.Stat(path) }
func (m *Memory) ReadFile(path string) ([]byte, error)  { return afero.ReadFile(m.fs, path) }

func (m *Memory) WriteFile(path string, data []byte, perm os.FileMode) error {
	if _, err := m.fs.Stat(filepath.Dir(path)); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, path, data, perm)
}

func (m *Memory) MkdirAll(path string, perm os.FileMode) error { return m.fs.MkdirAll(path, perm) }
func (m *Memory) Remove(path string) error                     { return m.fs.Remove(path) }

func (m *Memory) CopyFile(src, dst string) error {
	info, err := m.fs.Stat(src)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(m.fs, src)
	if err != nil {
		return err
	}
	return m.WriteFile(dst, data, info.Mode().Perm())
}

func (m *Memory) ReadDir(path string) ([]os.FileInfo, error) {
	return afero.ReadDir(m.fs, path)
}
