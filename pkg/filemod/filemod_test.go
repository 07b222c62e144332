package filemod

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/codemod-runner/internal/fsys"
	"github.com/bianoble/codemod-runner/internal/vfs"
)

func overlayOf(t *testing.T, files map[string]string) *vfs.Overlay {
	t.Helper()
	m := fsys.NewMemory()
	require.NoError(t, m.Seed(files))
	return vfs.New(m)
}

func upperCase() *Filemod[struct{}] {
	return &Filemod[struct{}]{
		HandleFile: func(_ context.Context, _ FileAPI, path string, _ Options, _ *struct{}) ([]Command, error) {
			return []Command{UpsertFile(path)}, nil
		},
		HandleData: func(_ context.Context, _ DataAPI, path, data string, _ Options, _ *struct{}) (Command, error) {
			return UpsertData(path, strings.ToUpper(data)), nil
		},
	}
}

func TestExecuteUppercase(t *testing.T) {
	o := overlayOf(t, map[string]string{"/a.txt": "x", "/b.txt": "y"})

	cmds, err := Execute(context.Background(), upperCase(), o, Config{Target: "/"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []vfs.ExternalFileCommand{
		{Kind: vfs.ExternalUpsert, Path: "/a.txt", OldData: "x", NewData: "X"},
		{Kind: vfs.ExternalUpsert, Path: "/b.txt", OldData: "y", NewData: "Y"},
	}, cmds)
}

func TestExecuteDepthFirstOrder(t *testing.T) {
	o := overlayOf(t, map[string]string{
		"/r/a/1.txt": "1",
		"/r/a/2.txt": "2",
		"/r/b.txt":   "b",
	})

	var events []string
	cb := Callbacks{OnCommandExecuted: func(e CommandEvent) {
		events = append(events, e.Kind.String()+" "+e.Path)
	}}

	_, err := Execute(context.Background(), &Filemod[struct{}]{}, o, Config{Target: "/r"}, cb)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"upsertFile /r/a/1.txt",
		"handleFile /r/a/1.txt",
		"upsertFile /r/a/2.txt",
		"handleFile /r/a/2.txt",
		"handleDirectory /r/a",
		"upsertFile /r/b.txt",
		"handleFile /r/b.txt",
		"handleDirectory /r",
	}, events)
}

func TestCommandsForEarlierPathsLandFirst(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/1.txt": "one", "/r/2.txt": "two"})

	fm := &Filemod[struct{}]{
		HandleFile: func(_ context.Context, api FileAPI, path string, _ Options, _ *struct{}) ([]Command, error) {
			if path == "/r/1.txt" {
				return []Command{UpsertData("/r/2.txt", "written by one")}, nil
			}
			data, err := api.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return []Command{UpsertData("/r/seen.txt", data)}, nil
		},
	}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "/r/seen.txt", cmds[1].Path)
	assert.Equal(t, "written by one", cmds[1].NewData)
}

type passState struct {
	passes int
	files  int
}

func TestConvergenceRunsExactlyKPasses(t *testing.T) {
	const k = 3
	o := overlayOf(t, map[string]string{"/r/a.txt": "a", "/r/b/c.txt": "c"})

	var finishCalls, fileCalls int
	fm := &Filemod[passState]{
		InitializeState: func(_ context.Context, _ Options, prev *passState, _ FileAPI, _ []string) (*passState, error) {
			if prev == nil {
				return &passState{passes: 1}, nil
			}
			return &passState{passes: prev.passes + 1}, nil
		},
		HandleFile: func(_ context.Context, _ FileAPI, _ string, _ Options, s *passState) ([]Command, error) {
			fileCalls++
			s.files++
			return nil, nil
		},
		HandleFinish: func(_ context.Context, _ Options, s *passState) (FinishCommand, error) {
			finishCalls++
			assert.Equal(t, 2, s.files, "every file seen in pass %d", s.passes)
			if s.passes < k {
				return FinishCommand{Kind: FinishRestart}, nil
			}
			return FinishCommand{Kind: FinishNoop}, nil
		},
	}

	_, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, k, finishCalls)
	assert.Equal(t, 2*k, fileCalls)
}

func TestStateCarriesFactsBetweenPasses(t *testing.T) {
	o := overlayOf(t, map[string]string{
		"/r/a.txt": "hello",
		"/r/b.txt": "hello world",
	})

	// Pass one finds the longest file; pass two marks it.
	type facts struct {
		pass    int
		longest string
		size    int
	}
	fm := &Filemod[facts]{
		InitializeState: func(_ context.Context, _ Options, prev *facts, _ FileAPI, _ []string) (*facts, error) {
			if prev == nil {
				return &facts{pass: 1}, nil
			}
			prev.pass++
			return prev, nil
		},
		HandleFile: func(_ context.Context, api FileAPI, path string, _ Options, s *facts) ([]Command, error) {
			if s.pass == 1 {
				data, err := api.ReadFile(path)
				if err != nil {
					return nil, err
				}
				if len(data) > s.size {
					s.longest, s.size = path, len(data)
				}
				return nil, nil
			}
			if path == s.longest {
				return []Command{UpsertFile(path)}, nil
			}
			return nil, nil
		},
		HandleData: func(_ context.Context, _ DataAPI, path, data string, _ Options, _ *facts) (Command, error) {
			return UpsertData(path, data+" (longest)"), nil
		},
		HandleFinish: func(_ context.Context, _ Options, s *facts) (FinishCommand, error) {
			if s.pass == 1 {
				return FinishCommand{Kind: FinishRestart}, nil
			}
			return FinishCommand{}, nil
		},
	}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []vfs.ExternalFileCommand{
		{Kind: vfs.ExternalUpsert, Path: "/r/b.txt", OldData: "hello world", NewData: "hello world (longest)"},
	}, cmds)
}

func TestHandlerErrorsAreReportedPerPath(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a", "/r/bad.txt": "b", "/r/c.txt": "c"})

	fm := upperCase()
	fm.HandleData = func(_ context.Context, _ DataAPI, path, data string, _ Options, _ *struct{}) (Command, error) {
		if strings.HasSuffix(path, "bad.txt") {
			return Command{}, errors.New("cannot parse")
		}
		return UpsertData(path, strings.ToUpper(data)), nil
	}

	var failures []PathError
	cb := Callbacks{OnError: func(path, message string) {
		failures = append(failures, PathError{Path: path, Message: message})
	}}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, cb)
	require.NoError(t, err)
	assert.Equal(t, []PathError{{Path: "/r/bad.txt", Message: "cannot parse"}}, failures)
	require.Len(t, cmds, 2)
	assert.Equal(t, "/r/a.txt", cmds[0].Path)
	assert.Equal(t, "/r/c.txt", cmds[1].Path)
}

func TestDirectoryHandlerErrorSkipsSubtree(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/skip/a.txt": "a", "/r/keep/b.txt": "b"})

	fm := upperCase()
	fm.HandleDirectory = func(ctx context.Context, api DirectoryAPI, path string, _ Options, _ *struct{}) ([]Command, error) {
		if path == "/r/skip" {
			return nil, errors.New("no access")
		}
		return defaultHandleDirectory(ctx, api, path)
	}

	var failed []string
	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{
		OnError: func(path, _ string) { failed = append(failed, path) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/skip"}, failed)
	require.Len(t, cmds, 1)
	assert.Equal(t, "/r/keep/b.txt", cmds[0].Path)
}

func TestIncludePatternsDriveTraversal(t *testing.T) {
	o := overlayOf(t, map[string]string{
		"/r/a.go":        "a",
		"/r/sub/b.go":    "b",
		"/r/sub/c.txt":   "c",
		"/r/vendor/d.go": "d",
	})

	fm := upperCase()
	fm.IncludePatterns = []string{"**/*.go"}
	fm.ExcludePatterns = []string{"vendor/**"}

	var seen []string
	fm.InitializeState = func(_ context.Context, _ Options, _ *struct{}, _ FileAPI, paths []string) (*struct{}, error) {
		seen = paths
		return &struct{}{}, nil
	}

	var last ProgressEvent
	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{
		OnProgress: func(e ProgressEvent) { last = e },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.go", "/r/sub/b.go"}, seen)
	assert.Len(t, cmds, 2)
	assert.Equal(t, ProgressEvent{Processed: 2, Total: 2, Path: "/r/sub/b.go"}, last)
}

func TestIncludePatternsDisableDefaultDirectoryHandler(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a"})

	fm := upperCase()
	fm.IncludePatterns = []string{"*.md"}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestSingleFileTarget(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a", "/r/b.txt": "b"})

	fm := upperCase()
	fm.IncludePatterns = []string{"*.txt"}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r/a.txt"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []vfs.ExternalFileCommand{
		{Kind: vfs.ExternalUpsert, Path: "/r/a.txt", OldData: "a", NewData: "A"},
	}, cmds)
}

func TestMissingTargetYieldsNothing(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a"})
	cmds, err := Execute(context.Background(), upperCase(), o, Config{Target: "/nope"}, Callbacks{})
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestMoveAndDeleteCommands(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.js": "a", "/r/b.tmp": "b"})

	fm := &Filemod[struct{}]{
		HandleFile: func(_ context.Context, api FileAPI, path string, _ Options, _ *struct{}) ([]Command, error) {
			switch api.Basename(path) {
			case "a.js":
				return []Command{MoveFile(path, api.Join(api.Dirname(path), "a.ts"))}, nil
			case "b.tmp":
				return []Command{DeleteFile(path)}, nil
			}
			return nil, nil
		},
	}

	cmds, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, []vfs.ExternalFileCommand{
		{Kind: vfs.ExternalDelete, Path: "/r/a.js"},
		{Kind: vfs.ExternalUpsert, Path: "/r/a.ts", NewData: "a"},
		{Kind: vfs.ExternalDelete, Path: "/r/b.tmp"},
	}, cmds)
}

func TestMoveOfUnknownFileIsReported(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a"})

	fm := &Filemod[struct{}]{
		HandleFile: func(_ context.Context, _ FileAPI, _ string, _ Options, _ *struct{}) ([]Command, error) {
			return []Command{MoveFile("/r/ghost.txt", "/r/x.txt")}, nil
		},
	}

	var failed []string
	_, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{
		OnError: func(path, _ string) { failed = append(failed, path) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/ghost.txt"}, failed)
}

func TestOptionsAreInherited(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a"})

	var got string
	fm := &Filemod[struct{}]{
		HandleData: func(_ context.Context, _ DataAPI, path, _ string, opts Options, _ *struct{}) (Command, error) {
			got = opts.GetString("mode", "")
			return Noop(), nil
		},
	}

	_, err := Execute(context.Background(), fm, o, Config{Target: "/r", Options: Options{"mode": "loud"}}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "loud", got)
}

func TestCancellationStopsTraversal(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a", "/r/b.txt": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	fm := &Filemod[struct{}]{
		HandleFile: func(_ context.Context, _ FileAPI, _ string, _ Options, _ *struct{}) ([]Command, error) {
			cancel()
			return nil, nil
		},
	}

	_, err := Execute(ctx, fm, o, Config{Target: "/r"}, Callbacks{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFinishErrorAborts(t *testing.T) {
	o := overlayOf(t, map[string]string{"/r/a.txt": "a"})
	fm := &Filemod[struct{}]{
		HandleFinish: func(context.Context, Options, *struct{}) (FinishCommand, error) {
			return FinishCommand{}, errors.New("boom")
		},
	}
	_, err := Execute(context.Background(), fm, o, Config{Target: "/r"}, Callbacks{})
	assert.ErrorContains(t, err, "boom")
}

func TestRunnableErasesState(t *testing.T) {
	o := overlayOf(t, map[string]string{"/a.txt": "x"})
	var r Runnable = upperCase()

	cmds, err := r.Run(context.Background(), o, Config{Target: "/"}, Callbacks{})
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}
