package engine

import (
	"github.com/bianoble/codemod-runner/internal/digest"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// FileAction represents one command carried out during a run.
type FileAction struct {
	Kind string // "createFile", "updateFile", "deleteFile", "moveFile", "copyFile"
	Path string
	// NewPath is set for moves and copies.
	NewPath string
	// DataRef is the target path on wet runs and the staged file on dry runs.
	DataRef string
}

// RunResult holds the outcome of a run.
type RunResult struct {
	CaseDigest digest.Digest
	// RunDir holds the run-log and, on dry runs, the staged files.
	RunDir  string
	LogPath string
	DryRun  bool

	Applied []FileAction
	Errors  []filemod.PathError

	// Processed and Total count files handled by per-file codemods, or
	// handled by the traversal for tree codemods.
	Processed    int
	Total        int
	Replacements int
}

// Failed reports whether any file failed.
func (r *RunResult) Failed() bool {
	return len(r.Errors) > 0
}

// JobView is a run-log job prepared for display.
type JobView struct {
	Kind       string `yaml:"kind"`
	Digest     string `yaml:"digest"`
	Path       string `yaml:"path"`
	TargetPath string `yaml:"target_path,omitempty"`
	DataRef    string `yaml:"data_ref,omitempty"`
	// Diff is a unified diff from the current file to the job's data.
	Diff string `yaml:"diff,omitempty"`
}

// CaseView is a run-log case prepared for display.
type CaseView struct {
	CaseDigest    string         `yaml:"case_digest"`
	CodemodDigest string         `yaml:"codemod_digest"`
	CreatedAt     string         `yaml:"created_at"`
	TargetPath    string         `yaml:"target_path"`
	Arguments     map[string]any `yaml:"arguments,omitempty"`
}

// InspectResult holds the decoded contents of a run-log.
type InspectResult struct {
	Case CaseView  `yaml:"case"`
	Jobs []JobView `yaml:"jobs"`
	// Sealed is false when a followed log was cut short by cancellation.
	Sealed bool `yaml:"sealed"`
}
