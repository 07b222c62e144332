package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bianoble/codemod-runner/internal/filecmd"
	"github.com/bianoble/codemod-runner/internal/fsys"
	"github.com/bianoble/codemod-runner/internal/vfs"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// Registry resolves codemods by name.
type Registry interface {
	Runnable(name string) (filemod.Runnable, bool)
}

// Option configures the worker side.
type Option func(*session)

// WithFileSystem sets the tree codemods read from. By default the worker
// opens the real file system rooted at the initialization target.
func WithFileSystem(fs fsys.FileSystem) Option {
	return func(s *session) { s.fs = fs }
}

// WithFormatter replaces the default SourceFormatter.
func WithFormatter(f filecmd.Formatter) Option {
	return func(s *session) { s.formatter = f }
}

// WithConsoleLevel sets the minimum level forwarded as console messages.
func WithConsoleLevel(l slog.Leveler) Option {
	return func(s *session) { s.level = l }
}

// session is the worker-side state shared by Serve and InProcess.
type session struct {
	registry  Registry
	emit      func(Message) error
	fs        fsys.FileSystem
	formatter filecmd.Formatter
	level     slog.Leveler
	logger    *slog.Logger

	codemod filemod.Runnable
	options filemod.Options
	format  bool
	initErr string
}

func newSession(registry Registry, emit func(Message) error, opts ...Option) *session {
	s := &session{registry: registry, emit: emit, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(s)
	}
	if s.formatter == nil {
		s.formatter = filecmd.NewSourceFormatter(filecmd.DefaultFormatCacheSize)
	}
	s.logger = slog.New(newConsoleHandler(s.level, emit))
	return s
}

// handle processes one host message and reports whether the worker should
// stop.
func (s *session) handle(ctx context.Context, m Message) (bool, error) {
	switch m.Kind {
	case KindInitialization:
		s.initialize(m)
		return false, nil
	case KindRunCodemod:
		return false, s.emit(s.run(ctx, m.Path, m.Data))
	case KindExit:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected %s message from host", ErrBadMessage, m.Kind)
	}
}

func (s *session) initialize(m Message) {
	s.codemod, s.initErr = nil, ""
	s.options, s.format = m.Options, m.Format

	runnable, ok := s.registry.Runnable(m.Codemod)
	if !ok {
		s.initErr = fmt.Sprintf("unknown codemod %q", m.Codemod)
		return
	}
	if s.fs == nil {
		root := m.Target
		if root == "" {
			root = "/"
		}
		tree, err := fsys.NewOS(root)
		if err != nil {
			s.initErr = fmt.Sprintf("opening target: %v", err)
			return
		}
		s.fs = tree
	}
	s.codemod = runnable
}

// run executes the codemod on one file and returns the completion message.
func (s *session) run(ctx context.Context, path, data string) Message {
	if s.codemod == nil {
		msg := s.initErr
		if msg == "" {
			msg = "worker is not initialized"
		}
		return Error(path, msg)
	}

	overlay := vfs.New(s.fs, vfs.WithLogger(s.logger))
	overlay.SeedFile(path, data)

	var failures []string
	cb := filemod.Callbacks{
		OnError: func(p, msg string) {
			failures = append(failures, fmt.Sprintf("%s: %s", p, msg))
		},
	}
	exts, err := s.codemod.Run(ctx, overlay, filemod.Config{Target: path, Options: s.options, Logger: s.logger}, cb)
	if err != nil {
		return Error(path, err.Error())
	}
	if len(failures) > 0 {
		return Error(path, strings.Join(failures, "; "))
	}

	cmds := make([]filecmd.Command, 0, len(exts))
	for _, ext := range exts {
		c, err := filecmd.FromExternal(s.fs, ext, s.format)
		if err != nil {
			return Error(path, err.Error())
		}
		if c, ok := filecmd.Format(s.formatter, c, s.logger); ok {
			cmds = append(cmds, c)
		}
	}
	return Commands(path, cmds)
}

// Serve runs the worker side of the protocol over r and w until the host
// sends exit or closes r.
func Serve(ctx context.Context, r io.Reader, w io.Writer, registry Registry, opts ...Option) error {
	dec := NewDecoder(r)
	enc := NewEncoder(w)
	s := newSession(registry, enc.Encode, opts...)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading from host: %w", err)
		}
		exit, err := s.handle(ctx, m)
		if err != nil {
			return err
		}
		if exit {
			return nil
		}
	}
}
