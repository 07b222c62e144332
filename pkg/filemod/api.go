package filemod

import (
	"log/slog"
	"path/filepath"

	"github.com/bianoble/codemod-runner/internal/vfs"
)

// PathAPI offers path helpers relative to the run target.
type PathAPI interface {
	Dirname(path string) string
	Basename(path string) string
	Join(elem ...string) string
	WorkingDirectory() string
	// Logger forwards codemod output to the host.
	Logger() *slog.Logger
}

// DirectoryAPI is handed to directory handlers.
type DirectoryAPI interface {
	PathAPI
	ReadDirectory(path string) ([]string, error)
	IsDirectory(path string) bool
	Exists(path string) bool
	FilePaths(dir string, include, exclude []string) ([]string, error)
}

// FileAPI is handed to file handlers and InitializeState.
type FileAPI interface {
	PathAPI
	IsDirectory(path string) bool
	Exists(path string) bool
	ReadFile(path string) (string, error)
	FilePaths(dir string, include, exclude []string) ([]string, error)
}

// DataAPI is handed to data handlers.
type DataAPI interface {
	PathAPI
}

// api implements every capability over one overlay; handlers only see the
// interface matching their command.
type api struct {
	overlay *vfs.Overlay
	target  string
	logger  *slog.Logger
}

func (a *api) Dirname(path string) string  { return filepath.Dir(path) }
func (a *api) Basename(path string) string { return filepath.Base(path) }
func (a *api) Join(elem ...string) string  { return filepath.Join(elem...) }
func (a *api) WorkingDirectory() string    { return a.target }
func (a *api) Logger() *slog.Logger        { return a.logger }

func (a *api) ReadDirectory(path string) ([]string, error) { return a.overlay.ReadDirectory(path) }
func (a *api) IsDirectory(path string) bool                { return a.overlay.IsDirectory(path) }
func (a *api) Exists(path string) bool                     { return a.overlay.Exists(path) }
func (a *api) ReadFile(path string) (string, error)        { return a.overlay.ReadFile(path) }

func (a *api) FilePaths(dir string, include, exclude []string) ([]string, error) {
	return a.overlay.FilePaths(dir, include, exclude)
}
