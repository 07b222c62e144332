package runlog

import (
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // format-defined digest

	"github.com/bianoble/codemod-runner/internal/digest"
)

type writerState int

const (
	awaitingCase writerState = iota + 1
	awaitingJobs
	ended
)

// Writer appends a case and its jobs to a sink.
//
// It moves through awaiting-case, awaiting-jobs and ended. Calls made in a
// state that does not accept them are ignored and return nil, so a duplicate
// Finish is harmless. Any write or encoding failure closes the sink, ends the
// writer and is reported once through the returned error, Err and Done.
//
// A Writer is not safe for concurrent use; a log has exactly one writer.
type Writer struct {
	sink    io.WriteCloser
	state   writerState
	rolling hash.Hash
	err     error
	done    chan struct{}
}

// NewWriter creates a Writer over sink. The sink is closed by Finish or on
// the first failure.
func NewWriter(sink io.WriteCloser) *Writer {
	return &Writer{
		sink:    sink,
		state:   awaitingCase,
		rolling: ripemd160.New(),
		done:    make(chan struct{}),
	}
}

// WriteCase writes the preamble and the case record.
func (w *Writer) WriteCase(c Case) error {
	if w.state != awaitingCase {
		return nil
	}

	record, err := EncodeCase(c)
	if err != nil {
		return w.fail(fmt.Errorf("encoding case: %w", err))
	}
	if _, err := w.sink.Write(EncodePreamble()); err != nil {
		return w.fail(fmt.Errorf("writing preamble: %w", err))
	}
	if _, err := w.sink.Write(record); err != nil {
		return w.fail(fmt.Errorf("writing case: %w", err))
	}

	w.rolling.Write(record)
	w.state = awaitingJobs
	return nil
}

// WriteJob appends one job record.
func (w *Writer) WriteJob(j Job) error {
	if w.state != awaitingJobs {
		return nil
	}

	record, err := EncodeJob(j)
	if err != nil {
		return w.fail(fmt.Errorf("encoding job: %w", err))
	}
	if _, err := w.sink.Write(record); err != nil {
		return w.fail(fmt.Errorf("writing job: %w", err))
	}

	w.rolling.Write(record)
	return nil
}

// Finish writes the postamble, closes the sink and signals completion.
func (w *Writer) Finish() error {
	if w.state != awaitingJobs {
		return nil
	}
	w.state = ended

	var sum digest.Digest
	copy(sum[:], w.rolling.Sum(nil))

	if _, err := w.sink.Write(EncodePostamble(sum)); err != nil {
		return w.fail(fmt.Errorf("writing postamble: %w", err))
	}
	if err := w.sink.Close(); err != nil {
		w.err = fmt.Errorf("closing run-log: %w", err)
		close(w.done)
		return w.err
	}

	close(w.done)
	return nil
}

// Abort closes the sink without writing a postamble. The log is left
// unsealed and readers will reject it. Abort after Finish is a no-op.
func (w *Writer) Abort() error {
	if w.state == ended {
		return nil
	}
	w.state = ended
	err := w.sink.Close()
	close(w.done)
	return err
}

// Done is closed once the writer has finished or failed.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns the failure that ended the writer, if any.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) fail(err error) error {
	_ = w.sink.Close()
	w.state = ended
	w.err = err
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return err
}
