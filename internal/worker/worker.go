package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ErrTerminated is returned by Send after Terminate.
var ErrTerminated = errors.New("worker terminated")

// Worker is the host's handle on one worker.
type Worker interface {
	// Send delivers a host message. It does not wait for a reply.
	Send(Message) error
	// Terminate stops the worker without waiting for in-flight work.
	Terminate() error
}

// Factory starts worker id. Every message the worker produces is passed to
// sink, from any goroutine, until the worker is terminated.
type Factory func(id int, sink func(Message)) (Worker, error)

// InProcess is a worker running in a goroutine of the host process. It
// shares nothing with the host except the messages it is sent.
type InProcess struct {
	inbox  chan Message
	cancel context.CancelFunc

	mu         sync.Mutex
	terminated bool
}

// NewInProcess starts an in-process worker.
func NewInProcess(registry Registry, sink func(Message), opts ...Option) *InProcess {
	ctx, cancel := context.WithCancel(context.Background())
	w := &InProcess{inbox: make(chan Message, 4), cancel: cancel}

	emit := func(m Message) error {
		if ctx.Err() != nil {
			return ErrTerminated
		}
		sink(m)
		return nil
	}
	s := newSession(registry, emit, opts...)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-w.inbox:
				exit, err := s.handle(ctx, m)
				if err != nil {
					s.logger.Error("Worker stopped", "error", err)
					return
				}
				if exit {
					return
				}
			}
		}
	}()
	return w
}

func (w *InProcess) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return ErrTerminated
	}
	select {
	case w.inbox <- m:
		return nil
	default:
		return fmt.Errorf("worker inbox full, dropping %s", m.Kind)
	}
}

// Terminate detaches the worker. A codemod stuck in a loop keeps its
// goroutine, but nothing it produces reaches the sink any more.
func (w *InProcess) Terminate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.terminated {
		w.terminated = true
		w.cancel()
	}
	return nil
}

// InProcessFactory builds in-process workers sharing registry and opts.
func InProcessFactory(registry Registry, opts ...Option) Factory {
	return func(_ int, sink func(Message)) (Worker, error) {
		return NewInProcess(registry, sink, opts...), nil
	}
}

// Process is a worker in a child process speaking the protocol over its
// stdin and stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *Encoder
	logger *slog.Logger
	done   chan struct{}

	mu         sync.Mutex
	terminated bool
	// inflight is the path of the runCodemod still waiting for a reply.
	inflight string
	waitErr  error
}

// StartProcess runs name with args and attaches the protocol to it. The
// child's stderr is passed through. If the child exits or garbles its output
// while a file is in flight, sink receives an error message for that file.
func StartProcess(name string, args []string, sink func(Message), logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		enc:    NewEncoder(stdin),
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.read(stdout, sink)
	return p, nil
}

// read delivers the child's messages until its stdout ends, then reaps it.
func (p *Process) read(stdout io.Reader, sink func(Message)) {
	defer close(p.done)
	pid := p.cmd.Process.Pid

	dec := NewDecoder(stdout)
	var readErr error
	for {
		m, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
				_ = p.cmd.Process.Kill()
			}
			break
		}
		if !p.deliverable(m) {
			continue
		}
		sink(m)
	}

	waitErr := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = waitErr
	terminated, path := p.terminated, p.inflight
	p.inflight = ""
	p.mu.Unlock()
	if terminated || (path == "" && readErr == nil && waitErr == nil) {
		return
	}

	reason := "worker exited"
	switch {
	case readErr != nil:
		reason = fmt.Sprintf("worker output unreadable: %v", readErr)
	case waitErr != nil:
		reason = fmt.Sprintf("worker exited: %v", waitErr)
	}
	p.logger.Warn("Worker stopped unexpectedly", "pid", pid, "reason", reason, "path", path)
	if path != "" {
		sink(Error(path, reason))
	}
}

// deliverable reports whether m should reach the sink and clears the
// in-flight path when m answers it.
func (p *Process) deliverable(m Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return false
	}
	if m.Completes() && m.Path == p.inflight {
		p.inflight = ""
	}
	return true
}

func (p *Process) Send(m Message) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return ErrTerminated
	}
	if m.Kind == KindRunCodemod {
		p.inflight = m.Path
	}
	p.mu.Unlock()
	return p.enc.Encode(m)
}

// Terminate kills the child. It does not wait for the child's output to
// drain; the reader reaps the child and closes Done once stdout ends.
// Nothing reaches the sink after Terminate returns, except a message the
// reader was already delivering.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the child's exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// ProcessFactory builds workers by running name with args, typically the
// current executable with its hidden worker subcommand.
func ProcessFactory(name string, args []string, logger *slog.Logger) Factory {
	return func(_ int, sink func(Message)) (Worker, error) {
		return StartProcess(name, args, sink, logger)
	}
}
