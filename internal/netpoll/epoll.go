//go:build linux

package netpoll

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Poller wraps a single epoll instance. It is driven only from its owning
// Worker goroutine (see package doc); it carries no cross-goroutine wake
// channel.
type Poller struct {
	fd int // epoll fd
	el *eventList
}

// OpenPoller instantiates an epoll-backed Poller.
func OpenPoller() (*Poller, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Poller{fd: epollFD, el: newEventList(InitEvents)}, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	return errors.Wrap(unix.Close(p.fd), "close epoll fd")
}

// Wait blocks up to timeoutMs (or indefinitely if negative) and returns the
// batch of descriptors that became ready. A signal interruption (EINTR)
// yields an empty batch rather than an error, per the Readiness Poller's
// error-handling contract.
func (p *Poller) Wait(timeoutMs int) ([]Ready, error) {
	n, err := unix.EpollWait(p.fd, p.el.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "epoll_wait")
	}

	ready := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		ev := p.el.events[i]
		ready = append(ready, Ready{Fd: int(ev.Fd), Filter: filterFromEpollEvents(ev.Events)})
	}
	if n == p.el.size {
		p.el.increase()
	}
	return ready, nil
}

func filterFromEpollEvents(events uint32) Filter {
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return FilterSock
	}
	if events&unix.EPOLLOUT != 0 {
		return FilterWrite
	}
	return FilterRead
}

const (
	readEvents      = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents     = unix.EPOLLOUT
	readWriteEvents = readEvents | writeEvents
)

// AddRead registers fd for readability.
func (p *Poller) AddRead(fd int) error {
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: readEvents}), "epoll_ctl add read")
}

// AddReadWrite registers fd for both readability and writability.
func (p *Poller) AddReadWrite(fd int) error {
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: readWriteEvents}), "epoll_ctl add readwrite")
}

// ModRead renews fd's interest to readability only.
func (p *Poller) ModRead(fd int) error {
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: readEvents}), "epoll_ctl mod read")
}

// ModReadWrite renews fd's interest to readability and writability.
func (p *Poller) ModReadWrite(fd int) error {
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: readWriteEvents}), "epoll_ctl mod readwrite")
}

// Delete deregisters fd.
func (p *Poller) Delete(fd int) error {
	return errors.Wrap(unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil), "epoll_ctl del")
}
