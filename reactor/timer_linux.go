//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newTimerSource creates a timerfd(7), arming it with the given first-fire
// and repeat intervals (milliseconds; every == 0 means one-shot).
func newTimerSource(firstMs, everyMs int64) (int, func() error, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, nil, errors.Wrap(err, "timerfd_create")
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(firstMs * 1e6),
		Interval: unix.NsecToTimespec(everyMs * 1e6),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, "timerfd_settime")
	}
	return fd, func() error { return unix.Close(fd) }, nil
}

// consumeTimer reads and discards the 8-byte expiration counter timerfd
// writes on each fire.
func consumeTimer(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "read timerfd")
	}
	return nil
}
