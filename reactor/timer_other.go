//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newTimerSource substitutes a self-pipe ticked by a goroutine for the
// kqueue platforms, which have no timerfd equivalent. Wiring the kqueue
// backend up to raw EVFILT_TIMER kevents would mean bypassing the
// fd-readiness registration path every other Event in this codebase goes
// through (Worker.ctrlLocked only ever calls Poller.AddRead/AddReadWrite on
// a real descriptor); a pipe keeps that path uniform across platforms at
// the cost of one extra goroutine per timer.
func newTimerSource(firstMs, everyMs int64) (int, func() error, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, nil, errors.Wrap(err, "pipe2")
	}
	readFD, writeFD := fds[0], fds[1]

	stop := make(chan struct{})
	go func() {
		if firstMs > 0 {
			select {
			case <-time.After(time.Duration(firstMs) * time.Millisecond):
			case <-stop:
				return
			}
		}
		_, _ = unix.Write(writeFD, []byte{1})
		if everyMs <= 0 {
			return
		}
		ticker := time.NewTicker(time.Duration(everyMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = unix.Write(writeFD, []byte{1})
			case <-stop:
				return
			}
		}
	}()

	closeFn := func() error {
		close(stop)
		_ = unix.Close(writeFD)
		return unix.Close(readFD)
	}
	return readFD, closeFn, nil
}

// consumeTimer drains whatever the ticking goroutine has written.
func consumeTimer(fd int) error {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return errors.Wrap(err, "read timer pipe")
		}
		if n < len(buf) {
			return nil
		}
	}
}
