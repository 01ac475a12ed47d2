package reactor

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// connFD extracts the kernel descriptor backing conn, dup(2)s it so the
// reactor owns an independent descriptor, and closes the original net.Conn
// (whose finalizer would otherwise race our subsequent epoll/kqueue
// registration of the same fd).
func connFD(conn net.Conn) (int, *syscall.RawConn, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, nil, errors.New("connection does not expose a syscall.Conn")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, nil, errors.Wrap(err, "SyscallConn")
	}

	var dupFD int
	var dupErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		dupFD, dupErr = syscall.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, nil, errors.Wrap(ctrlErr, "raw control")
	}
	if dupErr != nil {
		return -1, nil, errors.Wrap(dupErr, "dup")
	}
	if err := conn.Close(); err != nil {
		_ = syscall.Close(dupFD)
		return -1, nil, errors.Wrap(err, "close original conn")
	}
	return dupFD, nil, nil
}
