package evloop

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRunDispatchesReadyFdThenExitsOnContinuationFalse(t *testing.T) {
	var sigset unix.Sigset_linux
	unix.SigemptySet(&sigset)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	dispatched := false
	iterations := 0

	loop, err := Setup(&sigset, 100, func() bool {
		iterations++
		return iterations < 2
	}, nil)
	require.NoError(t, err)
	defer loop.Cleanup()

	require.NoError(t, loop.Add(r, unix.EPOLLIN, nil, func(events uint32) {
		dispatched = true
		buf := make([]byte, 16)
		unix.Read(r, buf)
	}))

	_, err = unix.Write(w, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, loop.Run())
	require.True(t, dispatched)
}

func TestModifyAndRemoveDoNotError(t *testing.T) {
	var sigset unix.Sigset_linux
	unix.SigemptySet(&sigset)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	loop, err := Setup(&sigset, 50, func() bool { return false }, nil)
	require.NoError(t, err)
	defer loop.Cleanup()

	require.NoError(t, loop.Add(r, unix.EPOLLIN, nil, func(uint32) {}))
	require.NoError(t, loop.Modify(r, unix.EPOLLIN|unix.EPOLLOUT))
	require.NoError(t, loop.Remove(r))
	_ = w
}
