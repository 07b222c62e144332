// Package codemods holds the codemods the runner ships with.
package codemods

import (
	"sort"

	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// Mode says how a codemod is run.
type Mode string

const (
	// ModeTree runs the codemod once over the whole target in one traversal,
	// so handlers can see sibling files and use several passes.
	ModeTree Mode = "tree"
	// ModePerFile fans files out to workers, one file per run.
	ModePerFile Mode = "per-file"
)

// Codemod is a registered codemod.
type Codemod struct {
	Name        string
	Description string
	Mode        Mode
	// Arguments documents the options the codemod reads.
	Arguments map[string]string
	Runnable  filemod.Runnable
}

// Registry looks codemods up by name.
type Registry struct {
	byName map[string]Codemod
}

// NewRegistry returns a registry of cs. Later entries replace earlier ones
// with the same name.
func NewRegistry(cs ...Codemod) *Registry {
	r := &Registry{byName: make(map[string]Codemod, len(cs))}
	for _, c := range cs {
		r.byName[c.Name] = c
	}
	return r
}

// Builtin returns a registry of every built-in codemod.
func Builtin() *Registry {
	return NewRegistry(
		Template(),
		Replace(),
		Append(),
		Prepend(),
		RenameExt(),
		RemoveEmpty(),
	)
}

func (r *Registry) Lookup(name string) (Codemod, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Runnable makes Registry usable by workers.
func (r *Registry) Runnable(name string) (filemod.Runnable, bool) {
	c, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return c.Runnable, true
}

// List returns every codemod sorted by name.
func (r *Registry) List() []Codemod {
	out := make([]Codemod, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
