package filemod

import "fmt"

// CommandKind identifies a pending Command.
type CommandKind int

const (
	KindNoop CommandKind = iota
	KindHandleDirectory
	KindHandleFile
	KindUpsertFile
	KindUpsertData
	KindDeleteFile
	KindMoveFile
)

func (k CommandKind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindHandleDirectory:
		return "handleDirectory"
	case KindHandleFile:
		return "handleFile"
	case KindUpsertFile:
		return "upsertFile"
	case KindUpsertData:
		return "upsertData"
	case KindDeleteFile:
		return "deleteFile"
	case KindMoveFile:
		return "moveFile"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Options is the argument record a codemod runs with.
type Options map[string]any

// GetString returns the option as a string, or def when unset or not a string.
func (o Options) GetString(key, def string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

// Command is an instruction a handler returns to the engine.
//
// Path is the subject of every kind except MoveFile, which moves Path to
// NewPath. Options, when nil, inherits the options of the emitting command.
type Command struct {
	Kind    CommandKind
	Path    string
	NewPath string
	Data    string
	Options Options
}

func HandleDirectory(path string) Command { return Command{Kind: KindHandleDirectory, Path: path} }
func HandleFile(path string) Command      { return Command{Kind: KindHandleFile, Path: path} }

// UpsertFile reads the current data of path and hands it to the data handler.
func UpsertFile(path string) Command { return Command{Kind: KindUpsertFile, Path: path} }

func UpsertData(path, data string) Command {
	return Command{Kind: KindUpsertData, Path: path, Data: data}
}

func DeleteFile(path string) Command { return Command{Kind: KindDeleteFile, Path: path} }

func MoveFile(oldPath, newPath string) Command {
	return Command{Kind: KindMoveFile, Path: oldPath, NewPath: newPath}
}

// Noop is the data handler's "leave the file alone" disposition.
func Noop() Command { return Command{Kind: KindNoop} }

// FinishKind is the outcome of a finish handler.
type FinishKind int

const (
	// FinishNoop ends the run.
	FinishNoop FinishKind = iota
	// FinishRestart runs the whole traversal again with the current state.
	FinishRestart
)

// FinishCommand is returned by HandleFinish.
type FinishCommand struct {
	Kind FinishKind
}

// CommandEvent describes a completed command.
type CommandEvent struct {
	Kind    CommandKind
	Path    string
	NewPath string
}
