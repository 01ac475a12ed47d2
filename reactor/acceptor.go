package reactor

import (
	"net"
	"runtime"
	"syscall"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/webdavd/webdavd/internal/logging"
)

var acceptLog = logging.NewTag("reactor.acceptor")

// EventFactory builds the WorkEvent for a freshly accepted connection,
// mirroring fl::events::WorkEventFactory. remoteAddr is the peer address
// reported by accept(2); deadline is the initial ETL deadline to register
// the new event under.
type EventFactory func(fd int, remoteAddr net.Addr, deadline int64) (Deadliner, error)

// Acceptor is a goroutine of its own, blocked on accept(2) against one
// listening socket, handing each accepted connection to a Group.
// Grounded on original_source/accept_thread.{hpp,cpp}.
type Acceptor struct {
	ln      net.Listener
	group   *Group
	factory EventFactory
	nowFn   func() int64
}

// NewAcceptor binds addr (host:port) with SO_REUSEPORT and a small
// defer-accept hint, mirroring Socket::setDeferAccept's 10-second timeout
// in the original.
func NewAcceptor(addr string, group *Group, factory EventFactory, nowFn func() int64) (*Acceptor, error) {
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	setDeferAccept(ln)
	return &Acceptor{ln: ln, group: group, factory: factory, nowFn: nowFn}, nil
}

// tcpDeferAccept is Linux's TCP_DEFER_ACCEPT option number; the option
// does not exist on the other platforms this package builds for.
const tcpDeferAccept = 9

// setDeferAccept sets a 10-second TCP_DEFER_ACCEPT on ln's socket on Linux.
// On other platforms, or if the option cannot be set, ln is left as it is.
func setDeferAccept(ln net.Listener) {
	sc, ok := ln.(syscall.Conn)
	if !ok || runtime.GOOS != "linux" {
		return
	}
	if raw, err := sc.SyscallConn(); err == nil {
		_ = raw.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpDeferAccept, 10)
		})
	}
}

// Addr returns the bound listening address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Close stops accepting new connections.
func (a *Acceptor) Close() error { return a.ln.Close() }

// Run loops forever accepting connections until the listener is closed.
// Each accepted connection is set non-blocking, passed to the factory, and
// handed to the Group; a placement refusal is logged and the descriptor
// released, matching the original's "log and drop" behavior.
func (a *Acceptor) Run() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			acceptLog.Error("accept failed", "err", err)
			if isTemporary(err) {
				continue
			}
			return
		}

		fd, sc, err := connFD(conn)
		if err != nil {
			acceptLog.Error("cannot obtain raw fd", "err", err)
			_ = conn.Close()
			continue
		}
		_ = sc
		// connFD already dup'd fd and closed conn; every path below must
		// close fd itself — conn.Close() here would just re-close the
		// already-closed original and leak the dup'd descriptor.
		if err := syscall.SetNonblock(fd, true); err != nil {
			acceptLog.Error("setNonBlockIO failed", "err", err)
			_ = syscall.Close(fd)
			continue
		}

		ev, err := a.factory(fd, conn.RemoteAddr(), a.nowFn())
		if err != nil {
			acceptLog.Error("event factory failed", "err", err)
			_ = syscall.Close(fd)
			continue
		}
		if !a.group.AddConnection(ev) {
			acceptLog.Error("cannot add connection")
			_ = syscall.Close(fd)
		}
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	te, ok := err.(temporary)
	return ok && te.Temporary()
}
