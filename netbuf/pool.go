package netbuf

import "sync"

// Pool is a bounded LIFO of idle Buffers, mirroring
// fl::network::NetworkBufferPool: Get returns an existing buffer or
// allocates a fresh one; Put returns it to the free list unless the list
// is already at capacity or the buffer has grown past the target size, in
// which case it is released back to the underlying bytebufferpool instead
// of being kept around oversized.
type Pool struct {
	targetSize int
	limit      int

	mu   sync.Mutex
	free []*Buffer
}

// NewPool constructs a Pool whose buffers are sized to target bytes and
// whose free list never holds more than limit idle Buffers.
func NewPool(target, limit int) *Pool {
	return &Pool{targetSize: target, limit: limit}
}

// Get returns an idle Buffer from the free list, or allocates one sized to
// the pool's target.
func (p *Pool) Get() *Buffer {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return newBuffer(p.targetSize)
	}
	b := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	return b
}

// Put clears buf and returns it to the free list if there is room and its
// backing array has not grown past the target size; otherwise the buffer
// is released to the underlying allocator.
func (p *Pool) Put(buf *Buffer) {
	if buf == nil || buf.bb == nil {
		return
	}
	buf.Clear()
	if cap(buf.bb.B) > p.targetSize {
		buf.release()
		return
	}
	p.mu.Lock()
	if len(p.free) < p.limit {
		p.free = append(p.free, buf)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	buf.release()
}
