package reactor

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/webdavd/webdavd/clock"
	"github.com/webdavd/webdavd/internal/logging"
)

var groupLog = logging.NewTag("reactor.group")

// ScratchFactory builds the per-Worker scratch handle (buffer pool,
// size/timeout knobs) the embedder wants every Worker to carry.
type ScratchFactory func(workerID int) Scratch

// Group is the Worker Group: a fixed vector of Workers built at startup
// plus the shared Update-Time Event that keeps the process-wide clock
// current. Grounded on original_source/event_thread.{hpp,cpp}'s
// EPollWorkerGroup.
type Group struct {
	workers []*Worker
	next    atomic.Uint64
	stop    chan struct{}
	timer   *TimerEvent
}

// NewGroup constructs n Workers, each seeded from factory, and arms the
// shared Update-Time Event on the first Worker.
func NewGroup(n int, factory ScratchFactory) (*Group, error) {
	if n <= 0 {
		return nil, errors.New("worker group size must be positive")
	}
	g := &Group{workers: make([]*Worker, n), stop: make(chan struct{})}
	for i := 0; i < n; i++ {
		var scratch Scratch
		if factory != nil {
			scratch = factory(i)
		}
		w, err := NewWorker(i, scratch)
		if err != nil {
			return nil, errors.Wrapf(err, "worker %d", i)
		}
		g.workers[i] = w
	}

	timer, err := NewTimerEvent(MS(1000), MS(1000), clockFarDeadline(), func(*TimerEvent) {
		clock.Update(time.Now().Unix())
	})
	if err != nil {
		return nil, errors.Wrap(err, "arm update-time event")
	}
	clock.Update(time.Now().Unix())
	if !g.workers[0].AddConnection(timer) {
		return nil, errors.New("failed to register update-time event")
	}
	g.timer = timer
	return g, nil
}

func clockFarDeadline() int64 { return time.Now().Unix() + 1<<30 }

// Workers returns the fixed slice of Workers backing this Group.
func (g *Group) Workers() []*Worker { return g.workers }

// Run starts every Worker's loop on its own goroutine and blocks until
// Stop is called.
func (g *Group) Run() {
	for _, w := range g.workers {
		go w.Run(g.stop)
	}
	<-g.stop
}

// Stop signals every Worker to exit its loop and tears each one down,
// closing every Event it still owns.
func (g *Group) Stop() {
	select {
	case <-g.stop:
		return
	default:
		close(g.stop)
	}
	for _, w := range g.workers {
		if err := w.Close(); err != nil {
			groupLog.Warning("worker close failed", "err", err)
		}
	}
}

// AddConnection places ev on a Worker chosen by a rotating counter modulo
// the Group's size, trying the remaining Workers in order if the first one
// refuses. Refusal is rare (a registration failure) and leaves ev's
// descriptor for the caller to close.
//
// The original implementation computed _threads[_threads.size() % curRnd],
// an index expression that does not actually rotate through the Worker
// vector in any useful pattern; this is the straightforward rotating
// counter the corrected design calls for.
func (g *Group) AddConnection(ev Deadliner) bool {
	n := uint64(len(g.workers))
	start := g.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		w := g.workers[(start+i)%n]
		if w.AddConnection(ev) {
			return true
		}
	}
	return false
}
