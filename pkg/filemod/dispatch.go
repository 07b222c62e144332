package filemod

import (
	"context"
	"fmt"

	"github.com/bianoble/codemod-runner/internal/vfs"
)

// PathError is a failure confined to one path. Err, when set, is the
// sentinel behind Message.
type PathError struct {
	Path    string
	Message string
	Err     error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *PathError) Unwrap() error { return e.Err }

type traversal[S any] struct {
	fm       *Filemod[S]
	overlay  *vfs.Overlay
	api      *api
	cb       Callbacks
	progress *Progress
	state    *S
}

// frame is one work-stack item. A completion frame fires the command's
// callbacks once everything it emitted has been dispatched.
type frame struct {
	cmd      Command
	complete bool
}

// dispatch runs roots depth-first with sibling order preserved, using an
// explicit stack so deep trees do not grow the goroutine stack.
func (t *traversal[S]) dispatch(ctx context.Context, roots []Command, opts Options) error {
	stack := make([]frame, 0, len(roots))
	stack = pushAll(stack, roots, opts)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.complete {
			t.completed(f.cmd)
			continue
		}

		children, complete := t.step(ctx, f.cmd)
		if complete {
			stack = append(stack, frame{cmd: f.cmd, complete: true})
		}
		stack = pushAll(stack, children, f.cmd.Options)
	}
	return nil
}

// pushAll pushes cmds in reverse so they pop in order.
func pushAll(stack []frame, cmds []Command, inherited Options) []frame {
	for i := len(cmds) - 1; i >= 0; i-- {
		c := cmds[i]
		if c.Options == nil {
			c.Options = inherited
		}
		stack = append(stack, frame{cmd: c})
	}
	return stack
}

// step executes one command and returns what it emitted, and whether a
// completion frame should follow them.
func (t *traversal[S]) step(ctx context.Context, c Command) ([]Command, bool) {
	switch c.Kind {
	case KindHandleDirectory:
		_, ok, err := t.overlay.UpsertDirectory(c.Path)
		if err != nil {
			t.fail(c.Path, err)
			return nil, false
		}
		if !ok {
			return nil, false
		}

		var cmds []Command
		switch {
		case t.fm.HandleDirectory != nil:
			cmds, err = t.fm.HandleDirectory(ctx, t.api, c.Path, c.Options, t.state)
		case len(t.fm.IncludePatterns) == 0:
			cmds, err = defaultHandleDirectory(ctx, t.api, c.Path)
		default:
			return nil, false
		}
		if err != nil {
			t.fail(c.Path, err)
			return nil, true
		}
		return cmds, true

	case KindHandleFile:
		_, ok, err := t.overlay.UpsertFile(c.Path)
		if err != nil {
			t.fail(c.Path, err)
			return nil, false
		}
		if !ok {
			return nil, false
		}

		if t.fm.HandleFile == nil {
			return []Command{UpsertFile(c.Path)}, true
		}
		cmds, err := t.fm.HandleFile(ctx, t.api, c.Path, c.Options, t.state)
		if err != nil {
			t.fail(c.Path, err)
			return nil, true
		}
		return cmds, true

	case KindUpsertFile:
		data, err := t.overlay.ReadFile(c.Path)
		if err != nil {
			t.fail(c.Path, err)
			return nil, true
		}
		if t.fm.HandleData == nil {
			return nil, true
		}
		next, err := t.fm.HandleData(ctx, t.api, c.Path, data, c.Options, t.state)
		if err != nil {
			t.fail(c.Path, err)
			return nil, true
		}
		if next.Kind == KindNoop {
			return nil, true
		}
		return []Command{next}, true

	case KindUpsertData:
		t.overlay.UpsertData(c.Path, c.Data)
		t.completed(c)
		return nil, false

	case KindDeleteFile:
		t.overlay.DeleteFile(c.Path)
		t.completed(c)
		return nil, false

	case KindMoveFile:
		if err := t.overlay.MoveFile(c.Path, c.NewPath); err != nil {
			t.fail(c.Path, err)
			return nil, false
		}
		t.completed(c)
		return nil, false

	case KindNoop:
		return nil, false

	default:
		t.fail(c.Path, fmt.Errorf("unknown command kind %s", c.Kind))
		return nil, false
	}
}

func (t *traversal[S]) completed(c Command) {
	if t.cb.OnCommandExecuted != nil {
		t.cb.OnCommandExecuted(CommandEvent{Kind: c.Kind, Path: c.Path, NewPath: c.NewPath})
	}
	if c.Kind == KindHandleFile {
		event := t.progress.Done(c.Path)
		if t.cb.OnProgress != nil {
			t.cb.OnProgress(event)
		}
	}
}

func (t *traversal[S]) fail(path string, err error) {
	t.api.logger.Debug("Codemod failed for path", "path", path, "error", err)
	if t.cb.OnError != nil {
		t.cb.OnError(path, err.Error())
	}
}
