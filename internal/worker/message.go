// Package worker runs codemods on single files on behalf of the scheduler.
//
// Host and worker exchange JSON-lines Messages. The host sends
// initialization once, then runCodemod per file, then exit. The worker
// answers every runCodemod with exactly one commands or error message, and
// may send console messages at any time.
package worker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bianoble/codemod-runner/internal/filecmd"
	"github.com/bianoble/codemod-runner/pkg/filemod"
)

// Kind discriminates Messages.
type Kind string

const (
	KindInitialization Kind = "initialization"
	KindRunCodemod     Kind = "runCodemod"
	KindExit           Kind = "exit"
	KindCommands       Kind = "commands"
	KindError          Kind = "error"
	KindConsole        Kind = "console"
)

// ErrBadMessage is returned for messages that fail to decode or validate.
var ErrBadMessage = errors.New("bad worker message")

// Message is one protocol message. Which fields are set depends on Kind.
type Message struct {
	Kind Kind `json:"kind"`

	// initialization
	Codemod string          `json:"codemod,omitempty"`
	Options filemod.Options `json:"options,omitempty"`
	Format  bool            `json:"format,omitempty"`
	Target  string          `json:"target,omitempty"`

	// runCodemod, commands, error
	Path string `json:"path,omitempty"`
	Data string `json:"data,omitempty"`

	Commands []filecmd.Command `json:"commands,omitempty"`

	// error, console
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
}

func Initialization(codemod, target string, opts filemod.Options, format bool) Message {
	return Message{Kind: KindInitialization, Codemod: codemod, Target: target, Options: opts, Format: format}
}

func RunCodemod(path, data string) Message {
	return Message{Kind: KindRunCodemod, Path: path, Data: data}
}

func Exit() Message { return Message{Kind: KindExit} }

func Commands(path string, cmds []filecmd.Command) Message {
	return Message{Kind: KindCommands, Path: path, Commands: cmds}
}

func Error(path, message string) Message {
	return Message{Kind: KindError, Path: path, Message: message}
}

func Console(level, message string) Message {
	return Message{Kind: KindConsole, Level: level, Message: message}
}

// Validate checks that m carries what its kind requires.
func (m Message) Validate() error {
	switch m.Kind {
	case KindInitialization:
		if m.Codemod == "" {
			return fmt.Errorf("%w: initialization without codemod", ErrBadMessage)
		}
	case KindRunCodemod, KindCommands:
		if m.Path == "" {
			return fmt.Errorf("%w: %s without path", ErrBadMessage, m.Kind)
		}
	case KindError:
		if m.Message == "" {
			return fmt.Errorf("%w: error without message", ErrBadMessage)
		}
	case KindExit, KindConsole:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrBadMessage, m.Kind)
	}
	return nil
}

// Completes reports whether m finishes a runCodemod request.
func (m Message) Completes() bool {
	return m.Kind == KindCommands || m.Kind == KindError
}

// Encoder writes messages one per line. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

func (e *Encoder) Encode(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("encoding %s message: %w", m.Kind, err)
	}
	return nil
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(bufio.NewReader(r))}
}

// Decode returns the next message, or io.EOF at a clean end of stream.
func (d *Decoder) Decode() (Message, error) {
	var m Message
	if err := d.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
