package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/matst80/chatrelay/internal/netaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerTimeout(t *testing.T) {
	a, _ := socketPair(t)
	var p Poller
	start := time.Now()
	ready, err := p.Wait([]int{a}, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestPollerReportsReadable(t *testing.T) {
	a1, a2 := socketPair(t)
	b1, b2 := socketPair(t)
	_ = a2

	_, err := unix.Write(b2, []byte("x"))
	require.NoError(t, err)

	var p Poller
	ready, err := p.Wait([]int{-1, a1, b1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ready)
}

func TestPollerReportsHangup(t *testing.T) {
	a1, a2 := socketPair(t)
	require.NoError(t, unix.Shutdown(a2, unix.SHUT_WR))

	var p Poller
	ready, err := p.Wait([]int{a1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ready)
}

func TestListenSetupErrors(t *testing.T) {
	addr, err := netaddr.Parse("127.0.0.1", "0")
	require.NoError(t, err)
	ln, err := Listen(addr, 4)
	require.NoError(t, err)
	defer ln.Close()

	bound, err := netaddr.Parse("127.0.0.1", portOf(t, ln.Addr().String()))
	require.NoError(t, err)
	_, err = Listen(bound, 4)
	var se *SetupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "bind", se.Op)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}
