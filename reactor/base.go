package reactor

import "container/list"

// Op is the pending poller operation an Event carries, mirroring
// fl::events::Event::_op: the first registration is an Add, every
// subsequent one (after Worker.ctrl performs it) becomes a Mod, and a
// Worker tearing the event down issues a Del.
type Op uint8

const (
	OpAdd Op = iota
	OpMod
	OpDel
)

// Deadliner is implemented by every Event that lives in a Worker's Event
// Timeout List: it can report and move its deadline, report whether it is
// safe to destroy once that deadline has passed, and carries the
// poller-registration bookkeeping (interest mask, pending op) a WorkEvent
// needs. Concrete types satisfy it by embedding Base and implementing
// Event.Call plus their own IsFinished.
type Deadliner interface {
	Event
	Deadline() int64
	IsFinished() bool
	interest() Events
	op() Op
	setOp(Op)
	setElem(*list.Element)
	getElem() *list.Element
	setWorker(*Worker)
	getWorker() *Worker
}

// Base is the Go analogue of fl::events::WorkEvent: a descriptor, an
// interest mask, the pending registration op, a deadline, and the
// bookkeeping a Worker needs to keep this Event positioned in its Event
// Timeout List. Concrete event types (httpserver.Conn, a Timer, the shared
// Update-Time Event) embed Base and implement Event.Call and IsFinished
// themselves.
//
// The Worker is the exclusive owner of every Base-embedding Event once
// accepted; the worker field here is a plain non-owning back-reference,
// valid only after that handoff — see DESIGN.md for the reference-cycle
// note this resolves.
type Base struct {
	fd           int
	interestMask Events
	pendingOp    Op
	deadline     int64
	w            *Worker
	elem         *list.Element
}

// NewBase constructs a Base for a freshly accepted descriptor, pending an
// initial Add registration with the given interest mask and deadline.
func NewBase(fd int, interest Events, deadline int64) Base {
	return Base{fd: fd, interestMask: interest, pendingOp: OpAdd, deadline: deadline}
}

func (b *Base) Descriptor() int        { return b.fd }
func (b *Base) Deadline() int64        { return b.deadline }
func (b *Base) SetDeadline(d int64)    { b.deadline = d }
func (b *Base) Worker() *Worker        { return b.w }
func (b *Base) interest() Events       { return b.interestMask }
func (b *Base) setInterest(e Events)   { b.interestMask = e }
func (b *Base) op() Op                 { return b.pendingOp }
func (b *Base) setOp(op Op)            { b.pendingOp = op }
func (b *Base) setElem(e *list.Element) { b.elem = e }
func (b *Base) getElem() *list.Element  { return b.elem }
func (b *Base) setWorker(w *Worker)      { b.w = w }
func (b *Base) getWorker() *Worker       { return b.w }

// SetWaitRead switches this event's pending interest to read-only; a
// subsequent Worker.Ctrl call applies it against the Poller.
func (b *Base) SetWaitRead() { b.setInterest(Readable) }

// SetWaitSend switches this event's pending interest to writable, used by
// the HTTP engine when a send would block.
func (b *Base) SetWaitSend() { b.setInterest(Writable) }
