package relay

import (
	"errors"
	"net"
	"os"

	"github.com/matst80/chatrelay/internal/netaddr"
	"golang.org/x/sys/unix"
)

// Listen creates the listening socket with an explicit listen(2) backlog. The
// address family comes from addr at runtime.
func Listen(addr netaddr.Addr, backlog int) (*net.TCPListener, error) {
	where := addr.String()
	sa, err := addr.Sockaddr()
	if err != nil {
		return nil, &SetupError{Op: "socket", Addr: where, Err: err}
	}
	fd, err := unix.Socket(addr.Family(), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &SetupError{Op: "socket", Addr: where, Err: err}
	}
	fail := func(op string, err error) (*net.TCPListener, error) {
		_ = unix.Close(fd)
		return nil, &SetupError{Op: op, Addr: where, Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	// FileListener dups the descriptor; closing f releases fd.
	f := os.NewFile(uintptr(fd), "chatrelay-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, &SetupError{Op: "listen", Addr: where, Err: err}
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, &SetupError{Op: "listen", Addr: where, Err: errors.New("not a TCP listener")}
	}
	return tl, nil
}

// readOnce performs exactly one non-blocking read(2). A would-block result is
// returned as-is for the caller to classify.
func readOnce(c *Connection, buf []byte) (int, error) {
	var n int
	var opErr error
	err := c.raw.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), buf)
		return true
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, opErr
}

// sendOnce performs exactly one non-blocking send. Short sends are not
// completed.
func sendOnce(c *Connection, p []byte) (int, error) {
	var n int
	var opErr error
	err := c.raw.Write(func(fd uintptr) bool {
		n, opErr = unix.SendmsgN(int(fd), p, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, opErr
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
