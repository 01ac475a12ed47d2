// Package netbuf implements the Network Buffer described in the framework
// design: a growable byte sequence specialised for partial, non-blocking
// send/recv, plus a bounded pool to amortise allocation across short-lived
// connections. Grounded on original_source/network_buffer.{hpp,cpp}'s
// NetworkBuffer/NetworkBufferPool, built on top of
// github.com/valyala/bytebufferpool the way the teacher (panjf2000/gnet)
// carries that dependency for its own buffer reuse.
package netbuf

import (
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// Result is the three-outcome contract Read and Send report, mirroring
// NetworkBuffer::EResult.
type Result int

const (
	// OK means the operation completed (a full recv, or everything queued
	// so far has been sent).
	OK Result = iota
	// InProgress means the non-blocking operation would have blocked;
	// retry once the descriptor is ready again.
	InProgress
	// ConnectionClose means recv returned EOF.
	ConnectionClose
	// ErrorResult means recv/send failed for a non-retriable reason.
	ErrorResult
)

// defaultChunk is the recv chunk size used when a buffer has neither
// reserved capacity nor a target size, mirroring NetworkBuffer's DEFAULT_RESERVED_SIZE default of 32KiB (see
// Config.BufferPoolSize for the configurable default).
const defaultChunk = 32 * 1024

// Buffer is the Go analogue of fl::network::NetworkBuffer: a backing byte
// slice (borrowed from a bytebufferpool.ByteBuffer) plus a send cursor
// tracking how much of the buffer has already been written to the
// descriptor. It is rented from a Pool, used by exactly one HTTP Engine
// connection at a time, and returned (or discarded) when that connection
// is done with it.
type Buffer struct {
	bb     *bytebufferpool.ByteBuffer
	target int
	cursor int
}

// newBuffer rents a ByteBuffer from the underlying bytebufferpool and
// reserves target bytes of capacity up front, honouring the pool
// round-trip law (capacity(b') >= target_size) rather than leaving the
// reserve to whatever bytebufferpool's own internal calibration happened
// to hand back.
func newBuffer(target int) *Buffer {
	b := &Buffer{bb: bytebufferpool.Get(), target: target}
	b.growBy(target)
	return b
}

// Len reports how many bytes are currently held.
func (b *Buffer) Len() int { return len(b.bb.B) }

// Bytes exposes the full backing slice for the caller to scan or hand to a
// handler's parse_header/parse_post hooks. The slice is only valid until
// the next Read, Append, Clear or Truncate call.
func (b *Buffer) Bytes() []byte { return b.bb.B }

// Cursor reports how many bytes of the buffer have already been sent.
func (b *Buffer) Cursor() int { return b.cursor }

// Clear empties the buffer and resets the send cursor, mirroring
// NetworkBuffer::clear().
func (b *Buffer) Clear() {
	b.bb.Reset()
	b.cursor = 0
}

// Truncate shrinks the buffer to the first n bytes. Used by Answer to back
// out the trailing CRLF before appending another header line.
func (b *Buffer) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(b.bb.B) {
		b.bb.B = b.bb.B[:n]
	}
}

// Append writes p to the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	b.bb.B = append(b.bb.B, p...)
}

func (b *Buffer) growBy(n int) {
	need := len(b.bb.B) + n
	if cap(b.bb.B) >= need {
		return
	}
	grown := make([]byte, len(b.bb.B), need)
	copy(grown, b.bb.B)
	b.bb.B = grown
}

// Read performs one non-blocking recv into the tail of the buffer. The
// chunk size doubles the existing capacity whenever the free region
// shrinks below a quarter of it, mirroring NetworkBuffer::read's
// grow-by-doubling rule; a read into an empty buffer uses its reserved
// capacity, or the target size when nothing is reserved, or defaultChunk
// when no target was set either.
func (b *Buffer) Read(fd int) (Result, error) {
	b.cursor = 0
	used := len(b.bb.B)
	capNow := cap(b.bb.B)
	chunk := capNow
	if used > 0 {
		chunk = capNow - used
		if chunk < capNow/4 {
			chunk = capNow
		}
	}
	if chunk <= 0 {
		chunk = b.target
		if chunk <= 0 {
			chunk = defaultChunk
		}
	}
	b.growBy(chunk)
	tail := b.bb.B[used : used+chunk]

	n, err := unix.Read(fd, tail)
	if n > 0 {
		b.bb.B = b.bb.B[:used+n]
		return OK, nil
	}
	b.bb.B = b.bb.B[:used]
	if n == 0 && err == nil {
		return ConnectionClose, nil
	}
	if err == unix.EAGAIN {
		return InProgress, nil
	}
	return ErrorResult, errors.Wrap(err, "recv")
}

// Send performs as much non-blocking send as the kernel will accept,
// advancing the cursor, mirroring NetworkBuffer::send. Retriable errors
// (EAGAIN/EINTR) map to InProgress.
func (b *Buffer) Send(fd int) (Result, error) {
	data := b.bb.B
	for b.cursor < len(data) {
		n, err := unix.Send(fd, data[b.cursor:], unix.MSG_NOSIGNAL)
		if n > 0 {
			b.cursor += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			return InProgress, nil
		}
		return ErrorResult, errors.Wrap(err, "send")
	}
	return OK, nil
}

func (b *Buffer) release() {
	bytebufferpool.Put(b.bb)
	b.bb = nil
}
