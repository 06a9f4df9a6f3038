package sandbox

import (
	"bytes"
)

// DefaultMaxOutput is the default limit for script reply output (64KiB).
// Chat platforms truncate far below this anyway; the limit exists so a
// misbehaving script cannot balloon host memory through the reply sink.
const DefaultMaxOutput = 64 * 1024

// DefaultMaxRequestSize limits the size of payloads read from guest memory
// (1MB). This prevents a malicious module from triggering OOM by claiming
// huge payload sizes.
const DefaultMaxRequestSize = 1 * 1024 * 1024

// BoundedBuffer is a bytes.Buffer wrapper that limits the size of written
// data. It is the reply sink handed to scripts through the host module.
type BoundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	Truncated bool
}

// NewBoundedBuffer creates a new BoundedBuffer with the specified limit.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{
		limit: limit,
	}
}

// Write implements io.Writer. It writes data up to the limit and silently
// discards the rest, setting Truncated when any data was discarded.
func (b *BoundedBuffer) Write(p []byte) (n int, err error) {
	if b.buffer.Len() >= b.limit {
		b.Truncated = true
		return len(p), nil // Satisfy the io.Writer contract without storing
	}

	remaining := b.limit - b.buffer.Len()
	if len(p) > remaining {
		b.Truncated = true
		n, err = b.buffer.Write(p[:remaining])
		if err != nil {
			return n, err
		}
		return len(p), nil
	}

	return b.buffer.Write(p)
}

// String returns the buffer contents as a string.
func (b *BoundedBuffer) String() string {
	return b.buffer.String()
}

// Len returns the current length of the buffer.
func (b *BoundedBuffer) Len() int {
	return b.buffer.Len()
}
