package codemodrunner

import (
	"time"

	"github.com/bianoble/codemod-runner/internal/codemods"
	"github.com/bianoble/codemod-runner/internal/engine"
	"github.com/bianoble/codemod-runner/internal/scheduler"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// Type aliases re-export engine types as the public API.
// Users import "github.com/bianoble/codemod-runner/pkg/codemodrunner" and use
// codemodrunner.RunResult, codemodrunner.InspectResult, etc.

type Codemod = codemods.Codemod
type Mode = codemods.Mode
type FileAction = engine.FileAction
type RunResult = engine.RunResult
type InspectOptions = engine.InspectOptions
type InspectResult = engine.InspectResult
type JobView = engine.JobView
type CaseView = engine.CaseView

// Codemod modes.
const (
	ModeTree    = codemods.ModeTree
	ModePerFile = codemods.ModePerFile
)

// RunOptions selects and configures a run. Zero values keep whatever the
// configuration says.
type RunOptions struct {
	Codemod string
	// Target is resolved against the client's project root when relative.
	Target    string
	Include   []string
	Exclude   []string
	Arguments map[string]any

	Workers      int
	StaleTimeout time.Duration
	// StalePolicy is "retry" or "report".
	StalePolicy string

	// DryRun and Format switch the behavior on; the configuration cannot
	// switch them back off.
	DryRun bool
	Format bool
	LogDir string

	OnProgress func(filemod.ProgressEvent)
}

func (o RunOptions) apply(dst *engine.RunOptions) {
	if o.Codemod != "" {
		dst.Codemod = o.Codemod
	}
	if o.Target != "" {
		dst.Target = o.Target
	}
	if len(o.Include) > 0 {
		dst.Include = o.Include
	}
	if len(o.Exclude) > 0 {
		dst.Exclude = o.Exclude
	}
	if len(o.Arguments) > 0 {
		merged := filemod.Options{}
		for k, v := range dst.Arguments {
			merged[k] = v
		}
		for k, v := range o.Arguments {
			merged[k] = v
		}
		dst.Arguments = merged
	}
	if o.Workers > 0 {
		dst.Workers = o.Workers
	}
	if o.StaleTimeout > 0 {
		dst.StaleTimeout = o.StaleTimeout
	}
	if o.StalePolicy != "" {
		dst.StalePolicy = scheduler.StalePolicy(o.StalePolicy)
	}
	dst.DryRun = dst.DryRun || o.DryRun
	dst.Format = dst.Format || o.Format
	if o.LogDir != "" {
		dst.LogDir = o.LogDir
	}
	if o.OnProgress != nil {
		dst.OnProgress = o.OnProgress
	}
}
