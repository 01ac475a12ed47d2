// Package netpoll is a thin abstraction over the kernel's
// readiness-notification facility (epoll on Linux, kqueue on the BSDs and
// Darwin), used level-triggered: descriptors are registered without
// EPOLLET or EV_CLEAR, so a descriptor still readable after one recv is
// reported again on the next Wait. It is grounded on panjf2000/gnet's internal/netpoll package (one
// Poller per reactor Worker, a growable event batch) but exposes a
// batch-returning Wait, rather than gnet's forever-blocking Polling(callback),
// so that Wait/Dispatch can be driven as the two separate steps the reactor's
// timeout sweep needs (see reactor.Worker). Unlike gnet, a Poller here is
// driven only from its owning Worker goroutine: cross-goroutine resumption
// (Conn.SendAnswer) goes through reactor.Worker.Resume, which takes the
// Worker's own mutex directly rather than posting a job to the poller, so
// this package carries no async job queue of its own.
package netpoll

// InitEvents is the initial capacity of a poller's ready-event batch.
const InitEvents = 64

// Filter identifies which readiness condition fired for a descriptor, in a
// form common to both the epoll and kqueue backends.
type Filter int16

const (
	// FilterRead indicates the descriptor is readable.
	FilterRead Filter = iota
	// FilterWrite indicates the descriptor is writable.
	FilterWrite
	// FilterSock indicates an error or hang-up condition (EPOLLERR/EPOLLHUP
	// or the kqueue EV_EOF/EV_ERROR flags folded together).
	FilterSock
)

// Ready is one (descriptor, condition) pair returned by Wait.
type Ready struct {
	Fd     int
	Filter Filter
}
