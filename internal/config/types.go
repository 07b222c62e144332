package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a codemod-runner.yaml configuration file. Every field
// is optional in a single layer; command-line flags override the merged
// result.
type Config struct {
	Version int `yaml:"version"`

	// Codemod names the registered codemod to run.
	Codemod string `yaml:"codemod,omitempty"`
	// Target is the directory or file the run starts from.
	Target  string   `yaml:"target,omitempty"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
	// Arguments are handed to the codemod as its options.
	Arguments map[string]any `yaml:"arguments,omitempty"`

	Workers       int      `yaml:"workers,omitempty"`
	WorkerMode    string   `yaml:"worker_mode,omitempty"` // "inprocess", "process"
	WorkerTimeout Duration `yaml:"worker_timeout,omitempty"`
	ScanInterval  Duration `yaml:"scan_interval,omitempty"`
	StalePolicy   string   `yaml:"stale_policy,omitempty"` // "retry", "report"
	MaxAttempts   int      `yaml:"max_attempts,omitempty"`

	// DryRun and Format are pointers so a higher layer can switch them off.
	DryRun *bool `yaml:"dry_run,omitempty"`
	Format *bool `yaml:"format,omitempty"`

	// LogDir is where run directories are created.
	LogDir string `yaml:"log_dir,omitempty"`
}

// Worker modes.
const (
	WorkerModeInProcess = "inprocess"
	WorkerModeProcess   = "process"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10s\"", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Bool returns a pointer to b, for building configs in code.
func Bool(b bool) *bool { return &b }

// IsSet reports whether p is non-nil and true.
func IsSet(p *bool) bool { return p != nil && *p }
