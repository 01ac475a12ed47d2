//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package netpoll

import "golang.org/x/sys/unix"

// eventList mirrors eventList_epoll.go for the kqueue backend.
type eventList struct {
	size   int
	events []unix.Kevent_t
}

func newEventList(size int) *eventList {
	return &eventList{size: size, events: make([]unix.Kevent_t, size)}
}

func (el *eventList) increase() {
	el.size <<= 1
	el.events = make([]unix.Kevent_t, el.size)
}
