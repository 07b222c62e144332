package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/codemod-runner/internal/filecmd"
	"github.com/bianoble/codemod-runner/internal/fsys"
	"github.com/bianoble/codemod-runner/internal/worker"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// replyFunc decides how worker id of generation gen answers a runCodemod.
// Returning false leaves the request unanswered.
type replyFunc func(id, gen int, m worker.Message) (worker.Message, bool)

type stubWorker struct {
	id, gen int
	sink    func(worker.Message)
	reply   replyFunc

	mu         sync.Mutex
	terminated bool
}

func (w *stubWorker) Send(m worker.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return worker.ErrTerminated
	}
	if m.Kind != worker.KindRunCodemod {
		return nil
	}
	go func() {
		if out, ok := w.reply(w.id, w.gen, m); ok {
			w.sink(out)
		}
	}()
	return nil
}

func (w *stubWorker) Terminate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.terminated = true
	return nil
}

type stubPool struct {
	mu      sync.Mutex
	reply   replyFunc
	spawned map[int]int
}

func newStubPool(reply replyFunc) *stubPool {
	return &stubPool{reply: reply, spawned: make(map[int]int)}
}

func (p *stubPool) factory(id int, sink func(worker.Message)) (worker.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen := p.spawned[id]
	p.spawned[id]++
	return &stubWorker{id: id, gen: gen, sink: sink, reply: p.reply}, nil
}

func upper(_, _ int, m worker.Message) (worker.Message, bool) {
	return worker.Commands(m.Path, []filecmd.Command{{
		Kind: filecmd.UpdateFile, OldPath: m.Path, OldData: m.Data, NewData: strings.ToUpper(m.Data),
	}}), true
}

func paths(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/r/f%02d.txt", i)
	}
	return out
}

func sliceProducer(ps []string) Producer {
	i := 0
	return ProducerFunc(func(ctx context.Context) (string, error) {
		if i == len(ps) {
			return "", io.EOF
		}
		i++
		return ps[i-1], nil
	})
}

func readData(path string) (string, error) { return "data of " + path, nil }

type recorder struct {
	commands []filecmd.Command
	progress []filemod.ProgressEvent
}

func (r *recorder) onCommand(_ context.Context, c filecmd.Command) error {
	r.commands = append(r.commands, c)
	return nil
}

func (r *recorder) onProgress(e filemod.ProgressEvent) { r.progress = append(r.progress, e) }

func newScheduler(workers int, f worker.Factory, rec *recorder) *Scheduler {
	return &Scheduler{
		Workers:      workers,
		Factory:      f,
		Init:         worker.Initialization("upper", "/r", nil, false),
		ReadFile:     readData,
		OnCommand:    rec.onCommand,
		OnProgress:   rec.onProgress,
		StaleTimeout: time.Minute,
		ScanInterval: 10 * time.Millisecond,
	}
}

func TestMoreFilesThanWorkers(t *testing.T) {
	const files, workers = 25, 4
	rec := &recorder{}
	s := newScheduler(workers, newStubPool(upper).factory, rec)

	res, err := s.Run(context.Background(), sliceProducer(paths(files)))
	require.NoError(t, err)

	assert.Equal(t, files, res.Processed)
	assert.Equal(t, files, res.Total)
	assert.Equal(t, files, res.Commands)
	assert.Empty(t, res.Errors)
	assert.Len(t, rec.commands, files)

	reachedEnd := 0
	for _, e := range rec.progress {
		assert.LessOrEqual(t, e.Processed, files)
		if e.Processed == files && !e.Finished {
			reachedEnd++
		}
	}
	assert.Equal(t, 1, reachedEnd)

	last := rec.progress[len(rec.progress)-1]
	assert.Equal(t, filemod.ProgressEvent{Processed: files, Total: files, Finished: true}, last)
}

func TestNoFiles(t *testing.T) {
	rec := &recorder{}
	res, err := newScheduler(2, newStubPool(upper).factory, rec).Run(context.Background(), sliceProducer(nil))
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, []filemod.ProgressEvent{{Finished: true}}, rec.progress)
}

func TestErrorsAreAggregated(t *testing.T) {
	reply := func(id, gen int, m worker.Message) (worker.Message, bool) {
		if strings.HasSuffix(m.Path, "3.txt") || strings.HasSuffix(m.Path, "7.txt") {
			return worker.Error(m.Path, "cannot parse"), true
		}
		return upper(id, gen, m)
	}
	rec := &recorder{}
	res, err := newScheduler(3, newStubPool(reply).factory, rec).Run(context.Background(), sliceProducer(paths(10)))
	require.NoError(t, err)

	assert.Equal(t, 10, res.Processed)
	assert.Equal(t, 8, res.Commands)
	require.Len(t, res.Errors, 2)
	var failed []string
	for _, e := range res.Errors {
		assert.Equal(t, "cannot parse", e.Message)
		failed = append(failed, e.Path)
	}
	assert.ElementsMatch(t, []string{"/r/f03.txt", "/r/f07.txt"}, failed)
}

func TestReadErrorsAreReported(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(2, newStubPool(upper).factory, rec)
	s.ReadFile = func(path string) (string, error) {
		if path == "/r/f01.txt" {
			return "", errors.New("permission denied")
		}
		return readData(path)
	}

	res, err := s.Run(context.Background(), sliceProducer(paths(3)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "/r/f01.txt", res.Errors[0].Path)
}

// hangOnce leaves the first request for path unanswered.
func hangOnce(path string) replyFunc {
	var hung atomic.Bool
	return func(id, gen int, m worker.Message) (worker.Message, bool) {
		if m.Path == path && hung.CompareAndSwap(false, true) {
			return worker.Message{}, false
		}
		return upper(id, gen, m)
	}
}

func TestStaleWorkerIsReplacedAndFileRetried(t *testing.T) {
	rec := &recorder{}
	pool := newStubPool(hangOnce("/r/f02.txt"))
	s := newScheduler(2, pool.factory, rec)
	s.StaleTimeout = 50 * time.Millisecond
	reg := prometheus.NewRegistry()
	s.Metrics = NewMetrics(reg)

	res, err := s.Run(context.Background(), sliceProducer(paths(6)))
	require.NoError(t, err)

	assert.Equal(t, 6, res.Processed)
	assert.Equal(t, 6, res.Commands)
	assert.Equal(t, 1, res.Replacements)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.Replacements))
	assert.Equal(t, 6.0, testutil.ToFloat64(s.Metrics.FilesProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Metrics.IdleWorkers))
}

func TestStaleReportPolicy(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(2, newStubPool(hangOnce("/r/f02.txt")).factory, rec)
	s.StaleTimeout = 50 * time.Millisecond
	s.StalePolicy = StaleReport

	res, err := s.Run(context.Background(), sliceProducer(paths(4)))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 3, res.Commands)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "/r/f02.txt", res.Errors[0].Path)
	assert.ErrorIs(t, &res.Errors[0], ErrWorkerTimeout)
}

func TestRetriesStopAtMaxAttempts(t *testing.T) {
	hangAlways := func(id, gen int, m worker.Message) (worker.Message, bool) {
		if m.Path == "/r/f00.txt" {
			return worker.Message{}, false
		}
		return upper(id, gen, m)
	}
	rec := &recorder{}
	s := newScheduler(1, newStubPool(hangAlways).factory, rec)
	s.StaleTimeout = 30 * time.Millisecond
	s.MaxAttempts = 2

	res, err := s.Run(context.Background(), sliceProducer(paths(3)))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Replacements)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, &res.Errors[0], ErrWorkerTimeout)
}

func TestLateReplyFromReplacedWorkerIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	reply := func(id, gen int, m worker.Message) (worker.Message, bool) {
		if m.Path == "/r/f00.txt" && gen == 0 {
			<-release
		}
		return upper(id, gen, m)
	}
	rec := &recorder{}
	s := newScheduler(1, newStubPool(reply).factory, rec)
	s.StaleTimeout = 30 * time.Millisecond
	s.OnProgress = func(e filemod.ProgressEvent) {
		rec.onProgress(e)
		if e.Path == "/r/f00.txt" {
			close(release)
		}
	}

	res, err := s.Run(context.Background(), sliceProducer(paths(3)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Commands)
	for _, e := range rec.progress {
		assert.LessOrEqual(t, e.Processed, 3)
	}
}

func TestProducerErrorAborts(t *testing.T) {
	calls := 0
	p := ProducerFunc(func(context.Context) (string, error) {
		calls++
		if calls > 2 {
			return "", errors.New("disk on fire")
		}
		return fmt.Sprintf("/r/%d.txt", calls), nil
	})
	rec := &recorder{}
	_, err := newScheduler(2, newStubPool(upper).factory, rec).Run(context.Background(), p)
	assert.ErrorContains(t, err, "disk on fire")
}

func TestOnCommandErrorAborts(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(2, newStubPool(upper).factory, rec)
	s.OnCommand = func(context.Context, filecmd.Command) error { return errors.New("log closed") }

	_, err := s.Run(context.Background(), sliceProducer(paths(3)))
	assert.ErrorContains(t, err, "log closed")
}

func TestFactoryErrorAborts(t *testing.T) {
	rec := &recorder{}
	broken := func(int, func(worker.Message)) (worker.Worker, error) { return nil, errors.New("no fork") }
	_, err := newScheduler(2, broken, rec).Run(context.Background(), sliceProducer(paths(3)))
	assert.ErrorContains(t, err, "no fork")
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	never := func(int, int, worker.Message) (worker.Message, bool) {
		cancel()
		return worker.Message{}, false
	}
	rec := &recorder{}
	_, err := newScheduler(1, newStubPool(never).factory, rec).Run(ctx, sliceProducer(paths(2)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := (&Scheduler{}).Run(context.Background(), sliceProducer(nil))
	assert.Error(t, err)
	_, err = (&Scheduler{Workers: 1}).Run(context.Background(), sliceProducer(nil))
	assert.Error(t, err)
}

func TestParseStalePolicy(t *testing.T) {
	p, err := ParseStalePolicy("")
	require.NoError(t, err)
	assert.Equal(t, StaleRetry, p)
	p, err = ParseStalePolicy("report")
	require.NoError(t, err)
	assert.Equal(t, StaleReport, p)
	_, err = ParseStalePolicy("ignore")
	assert.Error(t, err)
}

type registry map[string]filemod.Runnable

func (r registry) Runnable(name string) (filemod.Runnable, bool) {
	fm, ok := r[name]
	return fm, ok
}

func TestInProcessWorkersEndToEnd(t *testing.T) {
	files := map[string]string{}
	for _, p := range paths(12) {
		files[p] = "content of " + p
	}
	tree := fsys.NewMemory()
	require.NoError(t, tree.Seed(files))

	reg := registry{"upper": &filemod.Filemod[struct{}]{
		HandleData: func(_ context.Context, _ filemod.DataAPI, path, data string, _ filemod.Options, _ *struct{}) (filemod.Command, error) {
			return filemod.UpsertData(path, strings.ToUpper(data)), nil
		},
	}}

	rec := &recorder{}
	s := newScheduler(3, worker.InProcessFactory(reg, worker.WithFileSystem(tree)), rec)
	s.ReadFile = func(path string) (string, error) {
		b, err := tree.ReadFile(path)
		return string(b), err
	}
	s.OnCommand = func(ctx context.Context, c filecmd.Command) error {
		rec.commands = append(rec.commands, c)
		_, err := filecmd.WetApplier{FS: tree}.Apply(ctx, c)
		return err
	}

	res, err := s.Run(context.Background(), sliceProducer(paths(12)))
	require.NoError(t, err)
	assert.Equal(t, 12, res.Processed)
	assert.Empty(t, res.Errors)

	for p, content := range files {
		b, err := tree.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(content), string(b))
	}
}
