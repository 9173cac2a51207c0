package relay

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// Poller waits for readability over a watch-set of raw descriptors with
// poll(2). Negative descriptors are skipped by the kernel and never reported.
type Poller struct {
	pfds  []unix.PollFd
	ready []int
}

// Wait blocks until at least one descriptor in fds is readable or timeout
// elapses. It returns the indexes into fds that are ready, in ascending order,
// or none on timeout or EINTR.
func (p *Poller) Wait(fds []int, timeout time.Duration) ([]int, error) {
	p.pfds = p.pfds[:0]
	for _, fd := range fds {
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	n, err := unix.Poll(p.pfds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, &PollError{Err: err}
	}
	p.ready = p.ready[:0]
	if n == 0 {
		return p.ready, nil
	}
	for i := range p.pfds {
		if p.pfds[i].Revents&readyEvents != 0 {
			p.ready = append(p.ready, i)
		}
	}
	return p.ready, nil
}

// fdOf extracts the descriptor behind a net.Conn, net.Listener or *os.File.
// The descriptor stays valid until the owner is closed.
func fdOf(c syscall.Conn) (syscall.RawConn, int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, -1, err
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return nil, -1, err
	}
	return raw, fd, nil
}
