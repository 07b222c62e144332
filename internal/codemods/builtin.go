package codemods

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// stateless is the state type of codemods that carry nothing between passes.
type stateless = struct{}

// dataCodemod builds a per-file codemod from a content rewrite. Binary
// files and unchanged content are left alone.
func dataCodemod(rewrite func(path, data string, opts filemod.Options) (string, error)) *filemod.Filemod[stateless] {
	return &filemod.Filemod[stateless]{
		HandleData: func(_ context.Context, _ filemod.DataAPI, path, data string, opts filemod.Options, _ *stateless) (filemod.Command, error) {
			if isBinary(data) {
				return filemod.Noop(), nil
			}
			out, err := rewrite(path, data, opts)
			if err != nil {
				return filemod.Command{}, err
			}
			if out == data {
				return filemod.Noop(), nil
			}
			return filemod.UpsertData(path, out), nil
		},
	}
}

func isBinary(data string) bool {
	return !utf8.ValidString(data) || strings.ContainsRune(data, 0)
}

// Template renders every file as a text/template with the run options as
// its data. A reference to a missing option is an error.
func Template() Codemod {
	return Codemod{
		Name:        "template",
		Description: "Render files as Go text/templates using the run arguments as variables",
		Mode:        ModePerFile,
		Arguments:   map[string]string{"<any>": "template variable"},
		Runnable: dataCodemod(func(_, data string, opts filemod.Options) (string, error) {
			tmpl, err := template.New("").Option("missingkey=error").Parse(data)
			if err != nil {
				return "", fmt.Errorf("parsing template: %w", err)
			}
			vars := map[string]any(opts)
			if vars == nil {
				vars = map[string]any{}
			}
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, vars); err != nil {
				return "", fmt.Errorf("executing template: %w", err)
			}
			return buf.String(), nil
		}),
	}
}

// Replace substitutes every occurrence of one literal string.
func Replace() Codemod {
	return Codemod{
		Name:        "replace",
		Description: "Replace every occurrence of a literal string",
		Mode:        ModePerFile,
		Arguments:   map[string]string{"from": "text to find (required)", "to": "replacement"},
		Runnable: dataCodemod(func(_, data string, opts filemod.Options) (string, error) {
			from := opts.GetString("from", "")
			if from == "" {
				return "", errors.New("argument \"from\" is required")
			}
			return strings.ReplaceAll(data, from, opts.GetString("to", "")), nil
		}),
	}
}

// Append adds text to the end of every file, on its own line.
func Append() Codemod {
	return Codemod{
		Name:        "append",
		Description: "Append text to every file",
		Mode:        ModePerFile,
		Arguments:   map[string]string{"text": "text to append (required)"},
		Runnable: dataCodemod(func(_, data string, opts filemod.Options) (string, error) {
			text, err := requiredText(opts)
			if err != nil {
				return "", err
			}
			if strings.HasSuffix(data, text) {
				return data, nil
			}
			return appendContent(data, text), nil
		}),
	}
}

// Prepend adds text to the start of every file, on its own line.
func Prepend() Codemod {
	return Codemod{
		Name:        "prepend",
		Description: "Prepend text to every file",
		Mode:        ModePerFile,
		Arguments:   map[string]string{"text": "text to prepend (required)"},
		Runnable: dataCodemod(func(_, data string, opts filemod.Options) (string, error) {
			text, err := requiredText(opts)
			if err != nil {
				return "", err
			}
			if strings.HasPrefix(data, text) {
				return data, nil
			}
			return prependContent(data, text), nil
		}),
	}
}

func requiredText(opts filemod.Options) (string, error) {
	text := opts.GetString("text", "")
	if text == "" {
		return "", errors.New("argument \"text\" is required")
	}
	return text, nil
}

func appendContent(original, addition string) string {
	if original != "" && !strings.HasSuffix(original, "\n") {
		original += "\n"
	}
	return original + addition
}

func prependContent(original, addition string) string {
	if addition != "" && !strings.HasSuffix(addition, "\n") {
		addition += "\n"
	}
	return addition + original
}

// RenameExt moves files from one extension to another. A rename onto a
// path that already exists is reported and skipped.
func RenameExt() Codemod {
	return Codemod{
		Name:        "rename-ext",
		Description: "Rename files from one extension to another",
		Mode:        ModeTree,
		Arguments:   map[string]string{"from": "extension to rename, e.g. .js (required)", "to": "new extension (required)"},
		Runnable: &filemod.Filemod[stateless]{
			HandleFile: func(_ context.Context, api filemod.FileAPI, path string, opts filemod.Options, _ *stateless) ([]filemod.Command, error) {
				from, to := opts.GetString("from", ""), opts.GetString("to", "")
				if from == "" || to == "" {
					return nil, errors.New("arguments \"from\" and \"to\" are required")
				}
				if filepath.Ext(path) != from {
					return nil, nil
				}
				target := strings.TrimSuffix(path, from) + to
				if api.Exists(target) {
					return nil, fmt.Errorf("cannot rename to %s: file exists", api.Basename(target))
				}
				return []filemod.Command{filemod.MoveFile(path, target)}, nil
			},
		},
	}
}

// emptyState remembers, across passes, which directories lost files.
type emptyState struct {
	pass    int
	removed map[string]int
	dirs    map[string]int
}

// RemoveEmpty deletes files that are empty or whitespace-only. A second
// pass reports directories left without any files.
func RemoveEmpty() Codemod {
	return Codemod{
		Name:        "remove-empty",
		Description: "Delete empty or whitespace-only files",
		Mode:        ModeTree,
		Runnable: &filemod.Filemod[emptyState]{
			InitializeState: func(_ context.Context, _ filemod.Options, prev *emptyState, _ filemod.FileAPI, _ []string) (*emptyState, error) {
				if prev == nil {
					return &emptyState{pass: 1, removed: map[string]int{}, dirs: map[string]int{}}, nil
				}
				prev.pass++
				return prev, nil
			},
			HandleFile: func(_ context.Context, api filemod.FileAPI, path string, _ filemod.Options, s *emptyState) ([]filemod.Command, error) {
				if s.pass > 1 {
					return nil, nil
				}
				dir := api.Dirname(path)
				s.dirs[dir]++
				data, err := api.ReadFile(path)
				if err != nil {
					return nil, err
				}
				if strings.TrimSpace(data) != "" {
					return nil, nil
				}
				s.removed[dir]++
				return []filemod.Command{filemod.DeleteFile(path)}, nil
			},
			HandleFinish: func(_ context.Context, _ filemod.Options, s *emptyState) (filemod.FinishCommand, error) {
				if s.pass == 1 && len(s.removed) > 0 {
					return filemod.FinishCommand{Kind: filemod.FinishRestart}, nil
				}
				return filemod.FinishCommand{Kind: filemod.FinishNoop}, nil
			},
			HandleDirectory: func(ctx context.Context, api filemod.DirectoryAPI, path string, _ filemod.Options, s *emptyState) ([]filemod.Command, error) {
				children, err := api.ReadDirectory(path)
				if err != nil {
					return nil, err
				}
				if s.pass > 1 {
					if n := s.removed[path]; n > 0 && n == s.dirs[path] {
						api.Logger().Info("Directory has no files left", "path", path)
					}
				}
				cmds := make([]filemod.Command, 0, len(children))
				for _, child := range children {
					if api.IsDirectory(child) {
						cmds = append(cmds, filemod.HandleDirectory(child))
					} else {
						cmds = append(cmds, filemod.HandleFile(child))
					}
				}
				return cmds, nil
			},
		},
	}
}
