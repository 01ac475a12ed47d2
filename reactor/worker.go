package reactor

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"

	"github.com/webdavd/webdavd/clock"
	"github.com/webdavd/webdavd/internal/logging"
	"github.com/webdavd/webdavd/internal/netpoll"
)

var workerLog = logging.NewTag("reactor.worker")

// Scratch is the per-worker bundle of tunables and pooled resources handlers
// consult (buffer pool, size/timeout knobs). The reactor package does not
// care what concrete type it holds; httpserver and webdav type-assert it.
type Scratch any

// Worker owns one Poller, one Event Timeout List, and the single mutex that
// guards both plus the fd registry. Exactly one goroutine ever runs a
// Worker's Run loop; every other goroutine that needs to touch this Worker
// goes through AddConnection (chiefly the Acceptor, handing off a new
// connection), which registers the event directly under the mutex on the
// calling goroutine, or through Resume.
type Worker struct {
	id      int
	poller  *netpoll.Poller
	scratch Scratch

	mu        sync.Mutex
	etl       *list.List // of Deadliner, ordered deadline increasing head->tail, see insertLocked()
	byFD      map[int]Deadliner
	closed    bool
	lastSweep int64
}

// NewWorker opens a Poller and constructs an otherwise-empty Worker.
func NewWorker(id int, scratch Scratch) (*Worker, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, errors.Wrapf(err, "worker %d: open poller", id)
	}
	return &Worker{
		id:      id,
		poller:  p,
		scratch: scratch,
		etl:     list.New(),
		byFD:    make(map[int]Deadliner),
	}, nil
}

// Scratch returns the worker-lifetime bundle of tunables handlers consult.
func (w *Worker) Scratch() Scratch { return w.scratch }

// ID returns the worker's index within its Group.
func (w *Worker) ID() int { return w.id }

// AddConnection registers ev with this Worker's Poller and inserts it into
// the Event Timeout List. It is safe to call from any goroutine; the
// registration itself always happens under w.mu, directly (not deferred to
// the Poller's async job queue), matching the spec's "Poller handle is
// exercised only from inside the Worker loop and from add_connection while
// holding the mutex."
func (w *Worker) AddConnection(ev Deadliner) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if err := w.ctrlLocked(ev); err != nil {
		workerLog.Error("register connection failed", "worker", w.id, "fd", ev.Descriptor(), "err", err)
		return false
	}
	ev.setWorker(w)
	w.insertLocked(ev)
	return true
}

// Ctrl performs ev's pending poller operation (Add the first time, Mod
// thereafter), mirroring EPoll::ctrl(event). It must be called with w.mu
// held by the caller — in practice only from within the Worker's own Run
// goroutine, when an Event changes its own interest mask mid-flight (e.g.
// the HTTP engine switching to wait-for-writable).
func (w *Worker) Ctrl(ev Deadliner) bool {
	if err := w.ctrlLocked(ev); err != nil {
		workerLog.Error("ctrl failed", "worker", w.id, "fd", ev.Descriptor(), "err", err)
		return false
	}
	return true
}

func (w *Worker) ctrlLocked(ev Deadliner) error {
	fd := ev.Descriptor()
	var err error
	switch ev.op() {
	case OpAdd:
		if ev.interest() == Writable {
			err = w.poller.AddReadWrite(fd)
		} else {
			err = w.poller.AddRead(fd)
		}
		w.byFD[fd] = ev
	case OpMod:
		if ev.interest() == Writable || ev.interest() == (Readable|Writable) {
			err = w.poller.ModReadWrite(fd)
		} else {
			err = w.poller.ModRead(fd)
		}
	case OpDel:
		err = w.poller.Delete(fd)
		delete(w.byFD, fd)
	}
	if err != nil {
		return err
	}
	ev.setOp(OpMod)
	return nil
}

// insertLocked inserts ev at the position that preserves non-increasing
// deadline from tail to head (the tail always holds the newest deadline),
// mirroring EPollWorkerThread::_addEvent's reverse walk. New events are
// usually appended at the tail directly, since new deadlines are the
// largest.
func (w *Worker) insertLocked(ev Deadliner) {
	for e := w.etl.Back(); e != nil; e = e.Prev() {
		if e.Value.(Deadliner).Deadline() <= ev.Deadline() {
			ev.setElem(w.etl.InsertAfter(ev, e))
			return
		}
	}
	ev.setElem(w.etl.PushFront(ev))
}

func (w *Worker) removeLocked(ev Deadliner) {
	if elem := ev.getElem(); elem != nil {
		w.etl.Remove(elem)
		ev.setElem(nil)
	}
	delete(w.byFD, ev.Descriptor())
}

// Tick runs exactly one iteration of the reactor loop: wait up to
// timeoutMs, dispatch the ready batch, and — when the Time Source has
// advanced to a new wall-clock second since the last sweep — expire
// timed-out events. It is exported as a standalone step so tests can drive
// the Worker deterministically instead of spinning up a real goroutine.
//
// Every Worker calls Tick with the same ~1000ms timeout regardless of
// whether it owns the shared update-time Event, so every Worker's ETL gets
// swept roughly once a second even though only one Worker is the one
// actually advancing clock.
func (w *Worker) Tick(timeoutMs int) error {
	batch, err := w.poller.Wait(timeoutMs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	for _, r := range batch {
		ev, ok := w.byFD[r.Fd]
		if !ok {
			continue
		}
		result := ev.Call(filterToEvents(r.Filter))
		switch result {
		case Change:
			w.removeLocked(ev)
			w.insertLocked(ev)
		case Finished:
			w.removeLocked(ev)
		case Skip:
		}
	}

	now := clock.Now()
	if now != w.lastSweep {
		w.lastSweep = now
		w.sweepLocked(now)
	}
	w.mu.Unlock()
	return nil
}

// Run drives Tick in a loop until stop is closed. It is meant to be the
// sole goroutine touching this Worker's Poller.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := w.Tick(1000); err != nil {
			workerLog.Error("tick failed", "worker", w.id, "err", err)
		}
	}
}

// sweepLocked walks the ETL from the head (smallest deadline) and retires
// every event whose deadline has passed and which confirms, via
// IsFinished, that it is safe to destroy. An event that answers false stays
// in the list and is asked again on the next sweep; the sweep never forces
// it out itself. Any grace period belongs to the event's own IsFinished:
// an httpserver.Conn suspended in WAIT_EXTERNAL answers false once, so a
// collaborating subsystem can still release it, and true on the next ask.
func (w *Worker) sweepLocked(nowUnix int64) {
	for e := w.etl.Front(); e != nil; {
		ev := e.Value.(Deadliner)
		if ev.Deadline() > nowUnix {
			break
		}
		next := e.Next()
		if ev.IsFinished() {
			if c, ok := ev.(interface{ Close() error }); ok {
				_ = c.Close()
			}
			w.etl.Remove(e)
			delete(w.byFD, ev.Descriptor())
		}
		e = next
	}
}

// Resume runs fn under this Worker's mutex and applies the resulting
// dispatch contract (Change/Finished/Skip) to ev's position in the Event
// Timeout List, exactly like the ready-batch handling in Tick. This is how
// a WAIT_EXTERNAL Event resumes itself from any goroutine: a collaborating
// subsystem holds a reference to the suspended Event and calls back into
// its owning Worker through this method instead of touching the ETL
// directly, satisfying the spec's "suspensions must hold the Worker mutex
// around the resume."
func (w *Worker) Resume(ev Deadliner, fn func() CallResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	switch fn() {
	case Change:
		w.removeLocked(ev)
		w.insertLocked(ev)
	case Finished:
		w.removeLocked(ev)
	case Skip:
	}
}

// Close deregisters every live event and closes the Poller. Called only by
// the owning Group on shutdown.
func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	for e := w.etl.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Deadliner)
		if c, ok := ev.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	w.etl.Init()
	w.byFD = make(map[int]Deadliner)
	w.mu.Unlock()
	return w.poller.Close()
}

func filterToEvents(f netpoll.Filter) Events {
	switch f {
	case netpoll.FilterWrite:
		return Writable
	case netpoll.FilterSock:
		return ErrorEvent | HangUp
	default:
		return Readable
	}
}
