// Package filecmd is the vocabulary of finished file mutations and their
// application to the real tree, either directly (wet run) or into a staging
// directory (dry run).
package filecmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bianoble/codemod-runner/internal/digest"
	"github.com/bianoble/codemod-runner/internal/fsys"
	"github.com/bianoble/codemod-runner/internal/runlog"
	"github.com/bianoble/codemod-runner/internal/staging"
	"github.com/bianoble/codemod-runner/internal/vfs"
)

// Kind identifies a Command.
type Kind int

const (
	CreateFile Kind = iota + 1
	UpdateFile
	DeleteFile
	MoveFile
	CopyFile
)

var kindNames = map[Kind]string{
	CreateFile: "createFile",
	UpdateFile: "updateFile",
	DeleteFile: "deleteFile",
	MoveFile:   "moveFile",
	CopyFile:   "copyFile",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText encodes the kind by name for the worker wire protocol.
func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown file command kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown file command kind %q", b)
}

// Command is one mutation of the real tree.
//
// Field usage per kind:
//
//	createFile  NewPath, NewData
//	updateFile  OldPath, OldData, NewData
//	deleteFile  OldPath
//	moveFile    OldPath, NewPath
//	copyFile    OldPath, NewPath
type Command struct {
	Kind    Kind   `json:"kind"`
	OldPath string `json:"oldPath,omitempty"`
	NewPath string `json:"newPath,omitempty"`
	OldData string `json:"oldData,omitempty"`
	NewData string `json:"newData,omitempty"`
	Format  bool   `json:"format,omitempty"`
}

// Path returns the path the command writes or removes.
func (c Command) Path() string {
	if c.Kind == CreateFile {
		return c.NewPath
	}
	return c.OldPath
}

// FromExternal turns an overlay result into a Command. An upsert becomes an
// update when the path exists on fs and a create otherwise.
func FromExternal(tree fsys.FileSystem, ext vfs.ExternalFileCommand, format bool) (Command, error) {
	switch ext.Kind {
	case vfs.ExternalDelete:
		return Command{Kind: DeleteFile, OldPath: ext.Path}, nil
	case vfs.ExternalUpsert:
		_, err := tree.Stat(ext.Path)
		switch {
		case err == nil:
			return Command{Kind: UpdateFile, OldPath: ext.Path, OldData: ext.OldData, NewData: ext.NewData, Format: format}, nil
		case errors.Is(err, fs.ErrNotExist):
			return Command{Kind: CreateFile, NewPath: ext.Path, NewData: ext.NewData, Format: format}, nil
		default:
			return Command{}, fmt.Errorf("stat %s: %w", ext.Path, err)
		}
	default:
		return Command{}, fmt.Errorf("unknown external command kind %d", ext.Kind)
	}
}

// Applied is a command that has been carried out.
type Applied struct {
	Command
	// DataRef locates the new content: the target path on wet runs, the
	// staged file on dry runs. Empty for kinds without new content.
	DataRef string
}

// Job returns the run-log record for a.
func (a Applied) Job() runlog.Job {
	switch a.Kind {
	case CreateFile:
		return runlog.NewJob(runlog.JobCreateFile, a.NewPath, "", a.DataRef)
	case UpdateFile:
		return runlog.NewJob(runlog.JobUpdateFile, a.OldPath, "", a.DataRef)
	case DeleteFile:
		return runlog.NewJob(runlog.JobDeleteFile, a.OldPath, "", "")
	case MoveFile:
		return runlog.NewJob(runlog.JobMoveFile, a.OldPath, a.NewPath, "")
	default:
		return runlog.NewJob(runlog.JobCopyFile, a.OldPath, a.NewPath, "")
	}
}

// Applier carries out commands.
type Applier interface {
	Apply(ctx context.Context, c Command) (Applied, error)
}

// WetApplier mutates the target tree.
type WetApplier struct {
	FS fsys.FileSystem
}

func (a WetApplier) Apply(ctx context.Context, c Command) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}

	applied := Applied{Command: c}
	switch c.Kind {
	case CreateFile:
		if err := a.FS.MkdirAll(filepath.Dir(c.NewPath), fsys.DirPerm); err != nil {
			return Applied{}, fmt.Errorf("creating parent of %s: %w", c.NewPath, err)
		}
		if err := a.FS.WriteFile(c.NewPath, []byte(c.NewData), fsys.FilePerm); err != nil {
			return Applied{}, fmt.Errorf("creating %s: %w", c.NewPath, err)
		}
		applied.DataRef = c.NewPath

	case UpdateFile:
		perm := fsys.FilePerm
		if info, err := a.FS.Stat(c.OldPath); err == nil {
			perm = info.Mode().Perm()
		}
		if err := a.FS.WriteFile(c.OldPath, []byte(c.NewData), perm); err != nil {
			return Applied{}, fmt.Errorf("updating %s: %w", c.OldPath, err)
		}
		applied.DataRef = c.OldPath

	case DeleteFile:
		if err := a.FS.Remove(c.OldPath); err != nil {
			return Applied{}, fmt.Errorf("deleting %s: %w", c.OldPath, err)
		}

	case MoveFile:
		if err := a.FS.MkdirAll(filepath.Dir(c.NewPath), fsys.DirPerm); err != nil {
			return Applied{}, fmt.Errorf("creating parent of %s: %w", c.NewPath, err)
		}
		if err := a.FS.CopyFile(c.OldPath, c.NewPath); err != nil {
			return Applied{}, fmt.Errorf("moving %s: %w", c.OldPath, err)
		}
		if err := a.FS.Remove(c.OldPath); err != nil {
			return Applied{}, fmt.Errorf("removing moved %s: %w", c.OldPath, err)
		}

	case CopyFile:
		if err := a.FS.MkdirAll(filepath.Dir(c.NewPath), fsys.DirPerm); err != nil {
			return Applied{}, fmt.Errorf("creating parent of %s: %w", c.NewPath, err)
		}
		if err := a.FS.CopyFile(c.OldPath, c.NewPath); err != nil {
			return Applied{}, fmt.Errorf("copying %s: %w", c.OldPath, err)
		}

	default:
		return Applied{}, fmt.Errorf("unknown file command kind %d", c.Kind)
	}
	return applied, nil
}

// DryApplier stages new content and leaves the target untouched.
type DryApplier struct {
	Store *staging.Store
}

func (a DryApplier) Apply(ctx context.Context, c Command) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}

	applied := Applied{Command: c}
	switch c.Kind {
	case CreateFile, UpdateFile:
		path := c.Path()
		staged, err := a.Store.Put(StagingName(c.Kind, path, c.NewData), []byte(c.NewData))
		if err != nil {
			return Applied{}, fmt.Errorf("staging %s: %w", path, err)
		}
		applied.DataRef = staged
	case DeleteFile, MoveFile, CopyFile:
	default:
		return Applied{}, fmt.Errorf("unknown file command kind %d", c.Kind)
	}
	return applied, nil
}

// StagingName is the file name new content is staged under. Identical
// commands always stage to the same name, keeping the path's extension.
func StagingName(kind Kind, path, newData string) string {
	d := digest.Concat([]byte(kind.String()), []byte(path), []byte(newData))
	return d.String() + filepath.Ext(path)
}
