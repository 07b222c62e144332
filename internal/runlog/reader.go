package runlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // format-defined digest

	"github.com/bianoble/codemod-runner/internal/digest"
	"github.com/bianoble/codemod-runner/internal/ringbuf"
)

// BufferSize is the ring buffer capacity used by readers. It holds the largest
// possible record header and payload.
const BufferSize = 128 * 1024

const feedChunk = 16 * 1024

// Reader decodes a run-log incrementally.
//
// Bytes are fed from the source into a ring buffer by a background goroutine;
// the decoder requires exactly the number of bytes each framing step needs.
// Checksums are verified before a record is returned, so callers never see a
// partially valid record. The first failure is sticky.
//
// A log is consumed by exactly one Reader at a time and a Reader is not safe
// for concurrent use.
type Reader struct {
	buf     *ringbuf.Buffer
	ctx     context.Context
	cancel  context.CancelFunc
	rolling hash.Hash
	closer  io.Closer

	kase     *Case
	finished bool
	err      error

	feedMu  sync.Mutex
	feedErr error
}

// NewReader starts decoding src. Close releases the feeder goroutine.
func NewReader(ctx context.Context, src io.Reader) *Reader {
	ctx, cancel := context.WithCancel(ctx)
	r := &Reader{
		buf:     ringbuf.New(BufferSize),
		ctx:     ctx,
		cancel:  cancel,
		rolling: ripemd160.New(),
	}
	go r.feed(src)
	return r
}

// Open opens the run-log at path. With follow set, reaching the end of the
// file waits for the writer to append more instead of failing.
func Open(ctx context.Context, path string, follow bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening run-log %s: %w", path, err)
	}

	var src io.Reader = f
	var closer io.Closer = f
	if follow {
		t, err := newTail(ctx, f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		src, closer = t, t
	}

	r := NewReader(ctx, src)
	r.closer = closer
	return r, nil
}

// ReadFile decodes a complete run-log given only its path.
func ReadFile(ctx context.Context, path string) (Case, []Job, error) {
	r, err := Open(ctx, path, false)
	if err != nil {
		return Case{}, nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// ReadAll returns the case and every job, verifying the rolling checksum.
func (r *Reader) ReadAll() (Case, []Job, error) {
	c, err := r.Case()
	if err != nil {
		return Case{}, nil, err
	}

	var jobs []Job
	for {
		j, err := r.Next()
		if errors.Is(err, io.EOF) {
			return c, jobs, nil
		}
		if err != nil {
			return Case{}, nil, err
		}
		jobs = append(jobs, j)
	}
}

// Case returns the case record, decoding the preamble and case on first call.
func (r *Reader) Case() (Case, error) {
	if r.kase != nil {
		return *r.kase, nil
	}
	if r.err != nil {
		return Case{}, r.err
	}

	preamble, err := r.require(preambleLength)
	if err != nil {
		return Case{}, r.fail(err)
	}
	if !bytes.Equal(preamble[:magicLength], preambleMagic[:]) {
		return Case{}, r.fail(fmt.Errorf("%w: not a codemod run-log", ErrMalformed))
	}
	if !bytes.Equal(preamble[magicLength:], formatVersion[:]) {
		return Case{}, r.fail(fmt.Errorf("%w: unsupported format version %v", ErrMalformed, preamble[magicLength:]))
	}

	magic, err := r.require(magicLength)
	if err != nil {
		return Case{}, r.fail(err)
	}
	if !bytes.Equal(magic, caseMagic[:]) {
		return Case{}, r.fail(fmt.Errorf("%w: expected the case header", ErrMalformed))
	}

	header, payload, err := r.readRecord()
	if err != nil {
		return Case{}, r.fail(err)
	}
	c, err := decodeCase(payload)
	if err != nil {
		return Case{}, r.fail(err)
	}

	r.rolling.Write(magic)
	r.rolling.Write(header)
	r.rolling.Write(payload)
	r.kase = &c
	return c, nil
}

// Next returns the next job. It returns io.EOF once the postamble has been
// read and the rolling checksum verified.
func (r *Reader) Next() (Job, error) {
	if _, err := r.Case(); err != nil {
		return Job{}, err
	}
	if r.err != nil {
		return Job{}, r.err
	}
	if r.finished {
		return Job{}, io.EOF
	}

	magic, err := r.require(magicLength)
	if err != nil {
		return Job{}, r.fail(err)
	}

	switch {
	case bytes.Equal(magic, jobMagic[:]):
		header, payload, err := r.readRecord()
		if err != nil {
			return Job{}, r.fail(err)
		}
		j, err := decodeJob(payload)
		if err != nil {
			return Job{}, r.fail(err)
		}
		r.rolling.Write(magic)
		r.rolling.Write(header)
		r.rolling.Write(payload)
		return j, nil

	case bytes.Equal(magic, postambleMagic[:]):
		expected, err := r.require(digest.Size)
		if err != nil {
			return Job{}, r.fail(err)
		}
		if !bytes.Equal(expected, r.rolling.Sum(nil)) {
			return Job{}, r.fail(fmt.Errorf("%w: rolling checksum does not match", ErrIntegrity))
		}
		r.finished = true
		r.cancel()
		return Job{}, io.EOF

	default:
		return Job{}, r.fail(fmt.Errorf("%w: recognized neither a job nor the postamble header", ErrMalformed))
	}
}

// Close stops the feeder and closes the underlying file when the Reader was
// created by Open.
func (r *Reader) Close() error {
	r.cancel()
	r.buf.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// readRecord reads a record header and its payload and verifies the payload
// checksum.
func (r *Reader) readRecord() ([]byte, []byte, error) {
	header, err := r.require(recordHeaderLength)
	if err != nil {
		return nil, nil, err
	}
	length := int(binary.BigEndian.Uint16(header[:2]))
	if length == 0 {
		return nil, nil, fmt.Errorf("%w: empty record payload", ErrMalformed)
	}

	payload, err := r.require(length)
	if err != nil {
		return nil, nil, err
	}

	sum := digest.Sum(payload)
	if !bytes.Equal(sum[:], header[2:]) {
		return nil, nil, fmt.Errorf("%w: record checksum does not match its payload", ErrIntegrity)
	}
	return header, payload, nil
}

func (r *Reader) require(n int) ([]byte, error) {
	out, err := r.buf.Require(r.ctx, n)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if ferr := r.feedError(); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: log ended unexpectedly", ErrMalformed)
	}
	return nil, err
}

func (r *Reader) fail(err error) error {
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	return r.err
}

func (r *Reader) feed(src io.Reader) {
	defer r.buf.Close()

	chunk := make([]byte, feedChunk)
	for {
		free, err := r.buf.WaitFree(r.ctx)
		if err != nil {
			return
		}
		n, err := src.Read(chunk[:min(free, len(chunk))])
		if n > 0 {
			// Oversized writes are a framing-layer bug; surface them.
			if werr := r.buf.Write(chunk[:n]); werr != nil {
				r.setFeedError(werr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if r.ctx.Err() == nil {
				r.setFeedError(fmt.Errorf("reading run-log: %w", err))
			}
			return
		}
	}
}

func (r *Reader) setFeedError(err error) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	r.feedErr = err
}

func (r *Reader) feedError() error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	return r.feedErr
}
