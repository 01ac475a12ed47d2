//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package netpoll

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Poller wraps a single kqueue instance. It is driven only from its owning
// Worker goroutine (see package doc); it carries no cross-goroutine wake
// channel.
type Poller struct {
	fd int
	el *eventList
}

// OpenPoller instantiates a kqueue-backed Poller.
func OpenPoller() (*Poller, error) {
	kfd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &Poller{fd: kfd, el: newEventList(InitEvents)}, nil
}

// Close closes the poller.
func (p *Poller) Close() error {
	return errors.Wrap(unix.Close(p.fd), "close kqueue fd")
}

// Wait blocks up to timeoutMs (or indefinitely if negative) and returns the
// batch of descriptors that became ready. A signal interruption (EINTR)
// yields an empty batch rather than an error.
func (p *Poller) Wait(timeoutMs int) ([]Ready, error) {
	var timeout *unix.Timespec
	if timeoutMs >= 0 {
		ts := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		timeout = &ts
	}
	n, err := unix.Kevent(p.fd, nil, p.el.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, errors.Wrap(err, "kevent wait")
	}

	ready := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		ev := p.el.events[i]
		filter := FilterRead
		switch {
		case ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0:
			filter = FilterSock
		case ev.Filter == unix.EVFILT_WRITE:
			filter = FilterWrite
		}
		ready = append(ready, Ready{Fd: int(ev.Ident), Filter: filter})
	}
	if n == p.el.size {
		p.el.increase()
	}
	return ready, nil
}

// AddRead registers fd for readability.
func (p *Poller) AddRead(fd int) error {
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_ADD, Filter: unix.EVFILT_READ},
	}, nil, nil)
	return errors.Wrap(err, "kevent add read")
}

// AddReadWrite registers fd for both readability and writability.
func (p *Poller) AddReadWrite(fd int) error {
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_ADD, Filter: unix.EVFILT_READ},
		{Ident: uint64(fd), Flags: unix.EV_ADD, Filter: unix.EVFILT_WRITE},
	}, nil, nil)
	return errors.Wrap(err, "kevent add readwrite")
}

// ModRead renews fd's interest to readability only, dropping the write filter
// added by a prior AddReadWrite/ModReadWrite.
func (p *Poller) ModRead(fd int) error {
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_DELETE, Filter: unix.EVFILT_WRITE},
	}, nil, nil)
	return errors.Wrap(err, "kevent drop write")
}

// ModReadWrite renews fd's interest to readability and writability.
func (p *Poller) ModReadWrite(fd int) error {
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Flags: unix.EV_ADD, Filter: unix.EVFILT_WRITE},
	}, nil, nil)
	return errors.Wrap(err, "kevent add write")
}

// Delete deregisters fd. kqueue drops filters when the descriptor closes, so
// this is a no-op kept for interface parity with the epoll backend (mirrors
// the teacher's own kqueue.Delete).
func (p *Poller) Delete(fd int) error {
	return nil
}
