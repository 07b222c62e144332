package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a codemod-runner.yaml configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &cfg, nil
}

// LoadLayers loads every discovered layer that exists and merges them,
// lowest precedence first. Missing files are skipped. With noInherit only
// the project layer is read. The returned infos record what happened to
// each file and always include the project layer, loaded or not.
func LoadLayers(opts DiscoverOptions, noInherit bool) (*Config, []ConfigLayerInfo, error) {
	layers, err := DiscoverPaths(opts)
	if err != nil {
		return nil, nil, err
	}
	if noInherit {
		project, _ := Project(layers)
		layers = []ConfigLayerInfo{project}
	}

	var loaded []*Config
	for i := range layers {
		cfg, err := Load(layers[i].Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			layers[i].Err = err
			return nil, layers, err
		}
		layers[i].Loaded = true
		loaded = append(loaded, cfg)
	}

	if len(loaded) == 0 {
		return &Config{Version: 1}, layers, nil
	}
	merged, err := MergeAll(loaded)
	if err != nil {
		return nil, layers, err
	}
	return merged, layers, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", cfg.Version))
	}

	for i, p := range cfg.Include {
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "./")) {
			errs = append(errs, fmt.Sprintf("include[%d]: invalid glob pattern '%s'", i, p))
		}
	}
	for i, p := range cfg.Exclude {
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "./")) {
			errs = append(errs, fmt.Sprintf("exclude[%d]: invalid glob pattern '%s'", i, p))
		}
	}

	if cfg.Workers < 0 {
		errs = append(errs, fmt.Sprintf("workers: must not be negative, got %d", cfg.Workers))
	}
	switch cfg.WorkerMode {
	case "", WorkerModeInProcess, WorkerModeProcess:
	default:
		errs = append(errs, fmt.Sprintf("worker_mode: invalid mode '%s' — must be one of: inprocess, process", cfg.WorkerMode))
	}
	if cfg.WorkerTimeout < 0 {
		errs = append(errs, "worker_timeout: must not be negative")
	}
	if cfg.ScanInterval < 0 {
		errs = append(errs, "scan_interval: must not be negative")
	}
	switch cfg.StalePolicy {
	case "", "retry", "report":
	default:
		errs = append(errs, fmt.Sprintf("stale_policy: invalid policy '%s' — must be one of: retry, report", cfg.StalePolicy))
	}
	if cfg.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("max_attempts: must not be negative, got %d", cfg.MaxAttempts))
	}

	return errs
}
