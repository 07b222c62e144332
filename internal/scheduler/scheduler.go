// Package scheduler fans files out to a fixed pool of workers.
//
// One goroutine owns all scheduling state: the idle-worker stack, the
// pending-path stack, activity timestamps and the processed/total sets.
// Producer output, worker replies and the stale-scan ticker all arrive as
// channel events on that goroutine, so nothing here needs a lock and the
// OnCommand callback is never called concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/codemod-runner/internal/filecmd"
	"github.com/bianoble/codemod-runner/internal/worker"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

const tracerName = "github.com/bianoble/codemod-runner/internal/scheduler"

// Defaults for zero-valued Scheduler fields.
const (
	DefaultStaleTimeout = 10 * time.Second
	DefaultScanInterval = time.Second
	DefaultMaxAttempts  = 3
)

// ErrWorkerTimeout is reported for a file whose worker went stale and that
// will not be retried.
var ErrWorkerTimeout = errors.New("worker timed out")

// StalePolicy decides what happens to the file of a stale worker.
type StalePolicy string

const (
	// StaleRetry requeues the file until MaxAttempts is reached.
	StaleRetry StalePolicy = "retry"
	// StaleReport reports the file as failed straight away.
	StaleReport StalePolicy = "report"
)

// ParseStalePolicy accepts "retry", "report" or "" (retry).
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch StalePolicy(s) {
	case "", StaleRetry:
		return StaleRetry, nil
	case StaleReport:
		return StaleReport, nil
	default:
		return "", fmt.Errorf("unknown stale policy %q (want retry or report)", s)
	}
}

// Producer yields paths one at a time and io.EOF when exhausted.
type Producer interface {
	Next(ctx context.Context) (string, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context) (string, error)

func (f ProducerFunc) Next(ctx context.Context) (string, error) { return f(ctx) }

// Scheduler runs one codemod over every produced path using Workers
// workers.
type Scheduler struct {
	Workers int
	Factory worker.Factory
	// Init is sent to every worker when it starts, replacements included.
	Init worker.Message

	// ReadFile supplies the content shipped with each file.
	ReadFile func(path string) (string, error)
	// OnCommand receives every command a worker produces. An error aborts
	// the run.
	OnCommand  func(ctx context.Context, c filecmd.Command) error
	OnProgress func(filemod.ProgressEvent)

	StaleTimeout time.Duration
	ScanInterval time.Duration
	StalePolicy  StalePolicy
	MaxAttempts  int

	Metrics *Metrics
	Logger  *slog.Logger
}

// Result summarizes a run.
type Result struct {
	Processed    int
	Total        int
	Commands     int
	Replacements int
	// Errors holds every per-file failure in the order they were reported.
	Errors []filemod.PathError
}

type slot struct {
	w worker.Worker
	// quit is closed when this generation is retired so its sink stops
	// delivering.
	quit   chan struct{}
	gen    int
	busy   bool
	path   string
	since  time.Time
	closed bool
}

type event struct {
	id  int
	gen int
	msg worker.Message
}

type produced struct {
	path string
	err  error
}

type run struct {
	s        *Scheduler
	ctx      context.Context
	span     trace.Span
	logger   *slog.Logger
	events   chan event
	done     chan struct{}
	slots    []*slot
	idle     []int
	pending  []string
	attempts map[string]int
	progress *filemod.Progress
	result   *Result
}

// Run pulls paths from p until it is exhausted and every path has been
// processed. Per-file failures are collected in the Result; producer,
// worker start-up and OnCommand errors abort the run.
func (s *Scheduler) Run(ctx context.Context, p Producer) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.Run")
	defer span.End()

	if s.Workers <= 0 {
		return nil, fmt.Errorf("scheduler needs at least one worker, got %d", s.Workers)
	}
	if s.Factory == nil || s.ReadFile == nil {
		return nil, errors.New("scheduler needs a worker factory and a file reader")
	}
	span.SetAttributes(attribute.Int("workers", s.Workers))

	r := &run{
		s:        s,
		ctx:      ctx,
		span:     span,
		logger:   s.Logger,
		events:   make(chan event, s.Workers),
		done:     make(chan struct{}),
		slots:    make([]*slot, s.Workers),
		attempts: make(map[string]int),
		progress: filemod.NewProgress(),
		result:   &Result{},
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	if err := r.start(); err != nil {
		r.shutdown(false)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := r.loop(p); err != nil {
		r.shutdown(false)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.shutdown(true)

	r.result.Processed, r.result.Total = r.progress.Counts()
	r.emitProgress(filemod.ProgressEvent{
		Processed: r.result.Processed,
		Total:     r.result.Total,
		Finished:  true,
	})
	return r.result, nil
}

// start brings the pool up concurrently.
func (r *run) start() error {
	var g errgroup.Group
	for id := range r.slots {
		g.Go(func() error {
			sl, err := r.spawn(id, 0)
			if err != nil {
				return err
			}
			r.slots[id] = sl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for id := len(r.slots) - 1; id >= 0; id-- {
		r.idle = append(r.idle, id)
	}
	r.s.Metrics.idle(len(r.idle))
	return nil
}

func (r *run) spawn(id, gen int) (*slot, error) {
	quit := make(chan struct{})
	sink := func(m worker.Message) {
		select {
		case r.events <- event{id: id, gen: gen, msg: m}:
		case <-quit:
		case <-r.done:
		}
	}
	w, err := r.s.Factory(id, sink)
	if err != nil {
		return nil, fmt.Errorf("starting worker %d: %w", id, err)
	}
	if err := w.Send(r.s.Init); err != nil {
		close(quit)
		_ = w.Terminate()
		return nil, fmt.Errorf("initializing worker %d: %w", id, err)
	}
	return &slot{w: w, quit: quit, gen: gen}, nil
}

// retire stops delivery from a slot's worker and terminates it. The sink is
// released first because Terminate may wait for the worker's reader, which
// can be blocked delivering to the loop goroutine.
func (r *run) retire(id int, sl *slot) {
	close(sl.quit)
	sl.closed = true
	if err := sl.w.Terminate(); err != nil {
		r.logger.Warn("Terminating worker failed", "worker", id, "error", err)
	}
}

func (r *run) loop(p Producer) error {
	paths := make(chan produced)
	pctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	go func() {
		for {
			path, err := p.Next(pctx)
			select {
			case paths <- produced{path: path, err: err}:
			case <-pctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	interval := r.s.ScanInterval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	exhausted := false
	for !(exhausted && r.settled()) {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()

		case item := <-paths:
			if errors.Is(item.err, io.EOF) {
				r.logger.Debug("No more paths")
				exhausted, paths = true, nil
				continue
			}
			if item.err != nil {
				return fmt.Errorf("producing paths: %w", item.err)
			}
			r.progress.Discover(item.path)
			r.pending = append(r.pending, item.path)
			if err := r.work(); err != nil {
				return err
			}

		case ev := <-r.events:
			if err := r.receive(ev); err != nil {
				return err
			}

		case now := <-ticker.C:
			if err := r.scan(now); err != nil {
				return err
			}
		}
	}
	return nil
}

// settled reports whether every discovered path is processed and every
// worker is idle.
func (r *run) settled() bool {
	processed, total := r.progress.Counts()
	return processed == total && len(r.idle) == len(r.slots) && len(r.pending) == 0
}

// work pairs pending paths with idle workers until one side runs out.
func (r *run) work() error {
	for len(r.pending) > 0 && len(r.idle) > 0 {
		path := r.pending[len(r.pending)-1]
		r.pending = r.pending[:len(r.pending)-1]
		if r.progress.IsDone(path) {
			continue
		}

		data, err := r.s.ReadFile(path)
		if err != nil {
			r.fail(path, fmt.Sprintf("reading file: %v", err), nil)
			r.finish(path)
			continue
		}

		id := r.idle[len(r.idle)-1]
		r.idle = r.idle[:len(r.idle)-1]
		sl := r.slots[id]
		sl.busy, sl.path, sl.since = true, path, time.Now()
		r.attempts[path]++

		if err := sl.w.Send(worker.RunCodemod(path, data)); err != nil {
			r.logger.Warn("Dispatch failed, replacing worker", "worker", id, "path", path, "error", err)
			if err := r.replace(id); err != nil {
				return err
			}
		}
	}
	r.s.Metrics.idle(len(r.idle))
	return nil
}

func (r *run) receive(ev event) error {
	sl := r.slots[ev.id]
	if ev.gen != sl.gen {
		r.logger.Debug("Discarding message from replaced worker", "worker", ev.id, "generation", ev.gen, "kind", ev.msg.Kind)
		return nil
	}

	m := ev.msg
	if m.Kind == worker.KindConsole {
		r.logger.Log(r.ctx, worker.ParseLevel(m.Level), m.Message, "worker", ev.id)
		return nil
	}
	if !m.Completes() {
		r.logger.Warn("Unexpected worker message", "worker", ev.id, "kind", m.Kind)
		return nil
	}
	if !sl.busy {
		r.logger.Warn("Reply from idle worker", "worker", ev.id, "path", m.Path)
		return nil
	}

	path := sl.path
	sl.busy, sl.path = false, ""
	r.idle = append(r.idle, ev.id)

	if m.Kind == worker.KindError {
		r.fail(path, m.Message, nil)
	} else {
		for _, c := range m.Commands {
			if r.s.OnCommand != nil {
				if err := r.s.OnCommand(r.ctx, c); err != nil {
					return fmt.Errorf("applying %s for %s: %w", c.Kind, path, err)
				}
			}
			r.result.Commands++
		}
	}
	r.finish(path)
	return r.work()
}

// scan replaces every worker busy for longer than the stale timeout.
func (r *run) scan(now time.Time) error {
	timeout := r.s.StaleTimeout
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	for id, sl := range r.slots {
		if !sl.busy || now.Sub(sl.since) <= timeout {
			continue
		}
		r.logger.Warn("Worker is stale, replacing it", "worker", id, "path", sl.path, "busy_for", now.Sub(sl.since))
		if err := r.replace(id); err != nil {
			return err
		}
	}
	return r.work()
}

// replace terminates worker id, starts its next generation and decides the
// fate of the file it held.
func (r *run) replace(id int) error {
	sl := r.slots[id]
	path := sl.path
	r.retire(id, sl)

	gen := sl.gen + 1
	next, err := r.spawn(id, gen)
	if err != nil {
		return fmt.Errorf("replacing worker: %w", err)
	}
	r.slots[id] = next
	r.idle = append(r.idle, id)
	r.result.Replacements++
	r.s.Metrics.replaced()
	r.span.AddEvent("worker replaced", trace.WithAttributes(attribute.Int("worker", id), attribute.Int("generation", gen)))

	maxAttempts := r.s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if r.s.StalePolicy != StaleReport && r.attempts[path] < maxAttempts {
		r.pending = append(r.pending, path)
		return nil
	}
	r.fail(path, ErrWorkerTimeout.Error(), ErrWorkerTimeout)
	r.finish(path)
	return nil
}

func (r *run) fail(path, message string, err error) {
	r.logger.Debug("Codemod failed for file", "path", path, "error", message)
	r.result.Errors = append(r.result.Errors, filemod.PathError{Path: path, Message: message, Err: err})
	r.s.Metrics.failed()
}

func (r *run) finish(path string) {
	if r.progress.IsDone(path) {
		return
	}
	r.s.Metrics.processed()
	r.emitProgress(r.progress.Done(path))
}

func (r *run) emitProgress(e filemod.ProgressEvent) {
	if r.s.OnProgress != nil {
		r.s.OnProgress(e)
	}
}

// shutdown stops event delivery, tells workers to exit when graceful, then
// terminates them all.
func (r *run) shutdown(graceful bool) {
	close(r.done)
	for id, sl := range r.slots {
		if sl == nil || sl.closed {
			continue
		}
		if graceful {
			if err := sl.w.Send(worker.Exit()); err != nil {
				r.logger.Debug("Sending exit failed", "worker", id, "error", err)
			}
		}
		if err := sl.w.Terminate(); err != nil {
			r.logger.Debug("Terminating worker failed", "worker", id, "error", err)
		}
		sl.closed = true
	}
}
