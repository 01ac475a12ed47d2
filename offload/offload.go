// Package offload implements the Worker Thread Pool (WTP): a bounded pool
// of goroutines a Handler can hand blocking or CPU-heavy work to instead of
// running it on a reactor goroutine, grounded on
// original_source/worker_thread.{hpp,cpp}'s bounded-queue-plus-condvar
// design. Realized directly on top of github.com/panjf2000/ants/v2 rather
// than a hand-rolled sync.Cond queue. The pool runs in non-blocking mode
// and has no submission queue: a job starts at once on a free goroutine,
// and when none is free it is refused rather than held for later.
package offload

import (
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// Pool bounds how many goroutines may run submitted jobs concurrently,
// mirroring WorkerThreadPool::_threads.
type Pool struct {
	inner *ants.Pool
}

// New constructs a Pool with room for size concurrent jobs. A non-blocking
// pool is used: Submit returns ants.ErrPoolOverload instead of blocking the
// caller when every goroutine is busy, matching the spec's "never block
// the reactor goroutine" invariant.
func New(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "create offload pool")
	}
	return &Pool{inner: p}, nil
}

// Submit starts job on a free pooled goroutine. If every goroutine is
// busy it returns an error immediately and job is not run; nothing is
// queued.
func (p *Pool) Submit(job func()) error {
	if err := p.inner.Submit(job); err != nil {
		return errors.Wrap(err, "submit offload job")
	}
	return nil
}

// Running reports how many jobs are currently executing.
func (p *Pool) Running() int { return p.inner.Running() }

// Release tears the pool down, refusing further submissions, mirroring
// WorkerThreadPool::stop's "flip stopped, broadcast, join".
func (p *Pool) Release() {
	p.inner.Release()
}
