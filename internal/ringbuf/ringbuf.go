// Package ringbuf provides a fixed-capacity circular byte buffer whose reads
// suspend until enough bytes are available.
//
// It decouples a chunked byte stream (disk reads of a run-log) from the
// fixed-size pieces a framing decoder asks for.
package ringbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrZeroWrite is returned when Write is called with an empty slice.
	ErrZeroWrite = errors.New("ringbuf: cannot write 0 bytes")

	// ErrOverflow is returned when a write exceeds the free capacity.
	ErrOverflow = errors.New("ringbuf: write exceeds free capacity")

	// ErrTooLarge is returned when Require asks for more than the capacity.
	ErrTooLarge = errors.New("ringbuf: required length exceeds capacity")

	// ErrInvalidLength is returned when Require asks for zero or fewer bytes.
	ErrInvalidLength = errors.New("ringbuf: required length must be positive")

	// ErrClosed is returned by writers after Close.
	ErrClosed = errors.New("ringbuf: buffer closed")
)

// Buffer is a circular byte buffer. Write never blocks; Require blocks until
// the requested number of bytes has been written.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	start   int
	end     int
	used    int
	closed  bool
	changed chan struct{}

	// queue holds one channel per pending Require in arrival order. Only
	// the head's channel is closed, so one waiter is served at a time.
	queue []chan struct{}
}

// New creates a Buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{
		data:    make([]byte, capacity),
		changed: make(chan struct{}),
	}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// UsedBytes returns how many bytes are buffered.
func (b *Buffer) UsedBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// FreeBytes returns how many bytes can be written without overflowing.
func (b *Buffer) FreeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.used
}

// Write appends p. Writing zero bytes or more than FreeBytes is a caller bug
// and is reported immediately.
func (b *Buffer) Write(p []byte) error {
	if len(p) == 0 {
		return ErrZeroWrite
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	free := len(b.data) - b.used
	if len(p) > free {
		return fmt.Errorf("%w: cannot write %d byte(s) when only %d are available", ErrOverflow, len(p), free)
	}

	n := copy(b.data[b.end:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.end = (b.end + len(p)) % len(b.data)
	b.used += len(p)
	b.notifyLocked()
	return nil
}

// Require suspends until n bytes are buffered, then consumes exactly n bytes
// and returns a copy of them. Concurrent callers are served in request order.
// If the buffer is closed before n bytes arrive, io.ErrUnexpectedEOF is returned
// (or io.EOF when the buffer is empty).
func (b *Buffer) Require(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	if n > len(b.data) {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, len(b.data))
	}

	if err := b.enqueue(ctx); err != nil {
		return nil, err
	}
	defer b.dequeue()

	for {
		b.mu.Lock()
		if b.used >= n {
			out := b.consumeLocked(n)
			b.mu.Unlock()
			return out, nil
		}
		if b.closed {
			used := b.used
			b.mu.Unlock()
			if used == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// enqueue appends a turn for the caller and waits until it is at the head.
func (b *Buffer) enqueue(ctx context.Context) error {
	turn := make(chan struct{})
	b.mu.Lock()
	b.queue = append(b.queue, turn)
	if len(b.queue) == 1 {
		close(turn)
	}
	b.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		b.leave(turn)
		return ctx.Err()
	}
}

// dequeue gives the turn to the next waiter.
func (b *Buffer) dequeue() {
	b.mu.Lock()
	head := b.queue[0]
	b.mu.Unlock()
	b.leave(head)
}

func (b *Buffer) leave(turn chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.queue {
		if t != turn {
			continue
		}
		b.queue = append(b.queue[:i], b.queue[i+1:]...)
		if i == 0 && len(b.queue) > 0 {
			close(b.queue[0])
		}
		return
	}
}

// WaitFree blocks until at least one byte of capacity is free and returns the
// free byte count.
func (b *Buffer) WaitFree(ctx context.Context) (int, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, ErrClosed
		}
		if free := len(b.data) - b.used; free > 0 {
			b.mu.Unlock()
			return free, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-changed:
		}
	}
}

// Close marks the end of the stream and wakes any waiter. Bytes already
// buffered can still be required.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.notifyLocked()
}

func (b *Buffer) consumeLocked(n int) []byte {
	out := make([]byte, n)
	copied := copy(out, b.data[b.start:])
	if copied < n {
		copy(out[copied:], b.data)
	}
	b.start = (b.start + n) % len(b.data)
	b.used -= n
	b.notifyLocked()
	return out
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}
