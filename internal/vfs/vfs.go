// Package vfs is the in-memory projection of what a target tree will look
// like once a codemod's pending mutations are applied.
//
// Codemods read and "write" through an Overlay; nothing reaches the real tree.
// Every mutation is appended to an operation log which
// BuildExternalFileCommands replays into the final per-path diff.
//
// An Overlay belongs to a single traversal and is not safe for concurrent use.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bianoble/codemod-runner/internal/digest"
	"github.com/bianoble/codemod-runner/internal/fsys"
)

var (
	// ErrDeleted is returned when reading a path the overlay has deleted.
	ErrDeleted = errors.New("file has already been deleted")

	// ErrNotFound is returned when moving a path the overlay has never seen.
	ErrNotFound = errors.New("file not found")
)

// EntryKind distinguishes files from directories.
type EntryKind int

const (
	KindFile EntryKind = iota + 1
	KindDirectory
)

func (k EntryKind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Entry is one observed node of the real or virtual tree.
type Entry struct {
	Kind EntryKind
	Path string
}

// ExternalKind identifies an ExternalFileCommand.
type ExternalKind int

const (
	ExternalUpsert ExternalKind = iota + 1
	ExternalDelete
)

func (k ExternalKind) String() string {
	if k == ExternalDelete {
		return "deleteFile"
	}
	return "upsertFile"
}

// ExternalFileCommand is the overlay's final output for one path. OldData is
// empty when the path did not exist before the run.
type ExternalFileCommand struct {
	Kind    ExternalKind
	Path    string
	OldData string
	NewData string
}

type opKind int

const (
	opUpsert opKind = iota + 1
	opDelete
)

type op struct {
	kind opKind
	path string
	data string
}

// pending is the current virtual state of a mutated path.
type pending struct {
	deleted bool
	data    string
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *Overlay) { o.logger = l }
}

// Overlay buffers a codemod's mutations over a FileSystem.
type Overlay struct {
	fs      fsys.FileSystem
	logger  *slog.Logger
	entries map[digest.Digest]Entry
	changes map[digest.Digest]pending
	seeded  map[digest.Digest]string
	log     []op
}

// New returns an empty overlay over fs.
func New(fs fsys.FileSystem, opts ...Option) *Overlay {
	o := &Overlay{
		fs:      fs,
		logger:  slog.Default(),
		entries: make(map[digest.Digest]Entry),
		changes: make(map[digest.Digest]pending),
		seeded:  make(map[digest.Digest]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func key(path string) digest.Digest {
	return digest.Of(filepath.Clean(path))
}

// UpsertEntry records the entry at path, trying a directory first. It reports
// false when nothing exists there.
func (o *Overlay) UpsertEntry(path string) (Entry, bool, error) {
	e, ok, err := o.UpsertDirectory(path)
	if err != nil || ok {
		return e, ok, err
	}
	return o.UpsertFile(path)
}

// UpsertDirectory records path if it is a directory.
func (o *Overlay) UpsertDirectory(path string) (Entry, bool, error) {
	return o.upsert(path, KindDirectory)
}

// UpsertFile records path if it is a file.
func (o *Overlay) UpsertFile(path string) (Entry, bool, error) {
	return o.upsert(path, KindFile)
}

func (o *Overlay) upsert(path string, kind EntryKind) (Entry, bool, error) {
	path = filepath.Clean(path)
	k := key(path)

	if e, ok := o.entries[k]; ok {
		return e, e.Kind == kind, nil
	}

	e, ok, err := o.stat(path)
	if err != nil || !ok || e.Kind != kind {
		return Entry{}, false, err
	}
	o.entries[k] = e
	return e, true, nil
}

func (o *Overlay) stat(path string) (Entry, bool, error) {
	info, err := o.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	switch {
	case info.IsDir():
		return Entry{Kind: KindDirectory, Path: path}, true, nil
	case info.Mode().IsRegular():
		return Entry{Kind: KindFile, Path: path}, true, nil
	default:
		return Entry{}, false, fmt.Errorf("%s is neither a directory nor a regular file", path)
	}
}

// ReadDirectory lists the real children of dir, minus anything the overlay
// has deleted. Files created by the overlay are not listed.
func (o *Overlay) ReadDirectory(dir string) ([]string, error) {
	dir = filepath.Clean(dir)
	infos, err := o.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		var kind EntryKind
		switch {
		case info.IsDir():
			kind = KindDirectory
		case info.Mode().IsRegular():
			kind = KindFile
		default:
			continue
		}

		path := filepath.Join(dir, info.Name())
		k := key(path)
		if p, ok := o.changes[k]; ok && p.deleted {
			continue
		}
		o.entries[k] = Entry{Kind: kind, Path: path}
		paths = append(paths, path)
	}
	return paths, nil
}

// ReadFile returns the virtual content of path. A path that exists nowhere
// reads as the empty string.
func (o *Overlay) ReadFile(path string) (string, error) {
	path = filepath.Clean(path)
	k := key(path)

	if p, ok := o.changes[k]; ok {
		if p.deleted {
			return "", fmt.Errorf("reading %s: %w", path, ErrDeleted)
		}
		return p.data, nil
	}
	data, _, err := o.original(path)
	return data, err
}

// original returns the content path had before the run.
func (o *Overlay) original(path string) (string, bool, error) {
	if data, ok := o.seeded[key(path)]; ok {
		return data, true, nil
	}
	data, err := o.fs.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), true, nil
}

// IsDirectory reports whether path has been observed as a directory.
func (o *Overlay) IsDirectory(path string) bool {
	e, ok := o.entries[key(path)]
	return ok && e.Kind == KindDirectory
}

// Exists reports whether path has been observed at all.
func (o *Overlay) Exists(path string) bool {
	_, ok := o.entries[key(path)]
	return ok
}

// FilePaths returns the real files under dir matching any include pattern and
// no exclude pattern, as sorted absolute paths. An empty include list matches
// everything. Patterns are doublestar globs relative to dir. Files the overlay
// has deleted are skipped; files it has created are not visible here.
func (o *Overlay) FilePaths(dir string, include, exclude []string) ([]string, error) {
	dir = filepath.Clean(dir)
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	if len(include) == 0 {
		include = []string{"**"}
	}

	var paths []string
	var walk func(string) error
	walk = func(current string) error {
		infos, err := o.fs.ReadDir(current)
		if err != nil {
			return fmt.Errorf("reading directory %s: %w", current, err)
		}
		for _, info := range infos {
			path := filepath.Join(current, info.Name())
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if info.IsDir() {
				if excludesDir(exclude, rel) {
					continue
				}
				if err := walk(path); err != nil {
					return err
				}
				continue
			}
			if !info.Mode().IsRegular() || matchAny(exclude, rel) || !matchAny(include, rel) {
				continue
			}
			if p, ok := o.changes[key(path)]; ok && p.deleted {
				continue
			}
			paths = append(paths, path)
		}
		return nil
	}
	if err := walk(dir); err != nil {
		return nil, err
	}

	sort.Strings(paths)
	for _, p := range paths {
		o.entries[key(p)] = Entry{Kind: KindFile, Path: p}
	}
	return paths, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "./")
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// excludesDir prunes a directory matched either directly or by a "dir/**"
// pattern.
func excludesDir(patterns []string, rel string) bool {
	if matchAny(patterns, rel) {
		return true
	}
	for _, p := range patterns {
		if base, ok := strings.CutSuffix(p, "/**"); ok && matchAny([]string{base}, rel) {
			return true
		}
	}
	return false
}

// SeedFile supplies the original content of path without touching the
// FileSystem. Workers use it for content shipped by the scheduler.
func (o *Overlay) SeedFile(path, data string) {
	path = filepath.Clean(path)
	k := key(path)
	o.seeded[k] = data
	o.entries[k] = Entry{Kind: KindFile, Path: path}
}

// UpsertData sets the virtual content of path.
func (o *Overlay) UpsertData(path, data string) {
	path = filepath.Clean(path)
	k := key(path)
	o.entries[k] = Entry{Kind: KindFile, Path: path}
	o.changes[k] = pending{data: data}
	o.log = append(o.log, op{kind: opUpsert, path: path, data: data})
}

// DeleteFile marks path deleted.
func (o *Overlay) DeleteFile(path string) {
	path = filepath.Clean(path)
	k := key(path)
	o.entries[k] = Entry{Kind: KindFile, Path: path}
	o.changes[k] = pending{deleted: true}
	o.log = append(o.log, op{kind: opDelete, path: path})
}

// MoveFile deletes oldPath and writes its current content to newPath.
func (o *Overlay) MoveFile(oldPath, newPath string) error {
	if _, ok := o.entries[key(oldPath)]; !ok {
		return fmt.Errorf("moving %s: %w", oldPath, ErrNotFound)
	}
	data, err := o.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("moving %s: %w", oldPath, err)
	}

	o.logger.Debug("Moving file", "from", oldPath, "to", newPath)
	o.DeleteFile(oldPath)
	o.UpsertData(newPath, data)
	return nil
}

// BuildExternalFileCommands replays the operation log into at most one
// command per path, in the order paths were first mutated. A path created and
// later deleted yields nothing.
func (o *Overlay) BuildExternalFileCommands() ([]ExternalFileCommand, error) {
	final := make(map[string]op, len(o.log))
	var order []string
	for _, op := range o.log {
		if _, seen := final[op.path]; !seen {
			order = append(order, op.path)
		}
		final[op.path] = op
	}

	commands := make([]ExternalFileCommand, 0, len(order))
	for _, path := range order {
		old, existed, err := o.original(path)
		if err != nil {
			return nil, err
		}

		last := final[path]
		switch last.kind {
		case opDelete:
			if existed {
				commands = append(commands, ExternalFileCommand{Kind: ExternalDelete, Path: path})
			}
		case opUpsert:
			commands = append(commands, ExternalFileCommand{
				Kind:    ExternalUpsert,
				Path:    path,
				OldData: old,
				NewData: last.data,
			})
		}
	}
	return commands, nil
}
