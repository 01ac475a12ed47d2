//go:build linux

package netpoll

import "golang.org/x/sys/unix"

// eventList is a growable batch of epoll_event structures, grounded on the
// teacher's newEventList/increase pair: the backing array doubles whenever a
// Wait call fills it completely, so a busy reactor stops paying for
// truncated batches after a few ticks.
type eventList struct {
	size   int
	events []unix.EpollEvent
}

func newEventList(size int) *eventList {
	return &eventList{size: size, events: make([]unix.EpollEvent, size)}
}

func (el *eventList) increase() {
	el.size <<= 1
	el.events = make([]unix.EpollEvent, el.size)
}
