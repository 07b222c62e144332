package runlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// tailPoll bounds how long a follower sleeps when no write event arrives.
// Some filesystems do not deliver inotify events for appends.
const tailPoll = 250 * time.Millisecond

// tail reads a file that another process is still appending to. Reaching the
// end of the file waits for the next write instead of returning io.EOF.
type tail struct {
	ctx     context.Context
	f       *os.File
	watcher *fsnotify.Watcher
}

func newTail(ctx context.Context, f *os.File) (*tail, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating run-log watcher: %w", err)
	}
	if err := w.Add(f.Name()); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching run-log %s: %w", f.Name(), err)
	}
	return &tail{ctx: ctx, f: f, watcher: w}, nil
}

func (t *tail) Read(p []byte) (int, error) {
	for {
		n, err := t.f.Read(p)
		if n > 0 || (err != nil && !errors.Is(err, io.EOF)) {
			return n, err
		}
		if err := t.wait(); err != nil {
			return 0, err
		}
	}
}

func (t *tail) wait() error {
	timer := time.NewTimer(tailPoll)
	defer timer.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case <-timer.C:
			return nil
		case event, ok := <-t.watcher.Events:
			if !ok {
				return io.EOF
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return fmt.Errorf("run-log %s was removed while following", t.f.Name())
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return io.EOF
			}
			return fmt.Errorf("watching run-log: %w", err)
		}
	}
}

func (t *tail) Close() error {
	werr := t.watcher.Close()
	ferr := t.f.Close()
	return errors.Join(ferr, werr)
}
