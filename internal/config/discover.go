package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// FileName is the project config file name.
const FileName = "codemod-runner.yaml"

const configDirName = "codemod-runner"

// checkoutMarkers end the upward search for a project config. A target
// inside a checkout never picks up a config from outside it.
var checkoutMarkers = []string{".git", ".hg", ".svn"}

// ConfigLevel is the precedence of a config layer, lowest first.
type ConfigLevel string

const (
	LevelSystem  ConfigLevel = "system"
	LevelUser    ConfigLevel = "user"
	LevelProject ConfigLevel = "project"
)

// ConfigLayerInfo is one config layer and what loading it did.
type ConfigLayerInfo struct {
	Level ConfigLevel
	Path  string
	// Searched marks a project layer found by walking up from the target
	// rather than named explicitly.
	Searched bool
	Loaded   bool
	Err      error // the file exists but failed to load
}

// Dir is the directory relative paths in the layer resolve against.
func (l ConfigLayerInfo) Dir() string {
	return filepath.Dir(l.Path)
}

// DiscoverOptions controls where config layers are looked for.
type DiscoverOptions struct {
	// ProjectPath names the project config. Empty means search upward
	// from Start.
	ProjectPath string

	// Start is the run target, a file or a directory, the search begins
	// at. Empty means the working directory.
	Start string

	// SystemConfigPath and UserConfigPath replace the OS defaults. Point
	// them at a nonexistent file to skip a layer.
	SystemConfigPath string
	UserConfigPath   string
}

// FindProjectConfig looks for FileName in dir and then in each parent,
// stopping after the first directory that holds a checkout marker. When
// nothing is found it returns false and the path a config for dir would
// have: at the checkout root, or in dir itself outside any checkout.
func FindProjectConfig(dir string) (string, bool) {
	fallback := filepath.Join(dir, FileName)
	for cur := dir; ; {
		candidate := filepath.Join(cur, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		if isCheckoutRoot(cur) {
			return candidate, false
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return fallback, false
		}
		cur = parent
	}
}

func isCheckoutRoot(dir string) bool {
	for _, m := range checkoutMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

// searchDir turns a run target into the directory the search starts in.
func searchDir(start string) (string, error) {
	if start == "" {
		start = "."
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", start, err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return abs, nil
	case err != nil:
		return "", fmt.Errorf("target %s: %w", start, err)
	case info.IsDir():
		return abs, nil
	default:
		return filepath.Dir(abs), nil
	}
}

// ResolveProject returns the project layer for opts. An explicit
// ProjectPath is used as given; otherwise the nearest config above Start
// is, and the layer is marked Searched.
func ResolveProject(opts DiscoverOptions) (ConfigLayerInfo, error) {
	if opts.ProjectPath != "" {
		return ConfigLayerInfo{Level: LevelProject, Path: opts.ProjectPath}, nil
	}
	dir, err := searchDir(opts.Start)
	if err != nil {
		return ConfigLayerInfo{}, err
	}
	path, _ := FindProjectConfig(dir)
	return ConfigLayerInfo{Level: LevelProject, Path: path, Searched: true}, nil
}

// DiscoverPaths returns the config layers from lowest precedence (system)
// to highest (project). A file reachable through several layers is kept
// only at its highest one.
func DiscoverPaths(opts DiscoverOptions) ([]ConfigLayerInfo, error) {
	project, err := ResolveProject(opts)
	if err != nil {
		return nil, err
	}

	system := opts.SystemConfigPath
	if system == "" {
		system = defaultSystemConfigPath()
	}
	user := opts.UserConfigPath
	if user == "" {
		user = defaultUserConfigPath()
	}
	candidates := []ConfigLayerInfo{
		{Level: LevelSystem, Path: system},
		{Level: LevelUser, Path: user},
		project,
	}

	seen := make(map[string]bool)
	var layers []ConfigLayerInfo
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if c.Path == "" {
			continue
		}
		key, err := filepath.Abs(c.Path)
		if err != nil {
			key = c.Path
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		layers = append([]ConfigLayerInfo{c}, layers...)
	}
	return layers, nil
}

// Project returns the project layer of layers.
func Project(layers []ConfigLayerInfo) (ConfigLayerInfo, bool) {
	for _, l := range layers {
		if l.Level == LevelProject {
			return l, true
		}
	}
	return ConfigLayerInfo{}, false
}

func defaultSystemConfigPath() string {
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, configDirName, FileName)
	}
	return filepath.Join("/etc", configDirName, FileName)
}

func defaultUserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, FileName)
}

// EnvNoInherit reports whether CODEMOD_RUNNER_NO_INHERIT is "1" or "true".
func EnvNoInherit() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CODEMOD_RUNNER_NO_INHERIT")))
	return v == "1" || v == "true"
}
