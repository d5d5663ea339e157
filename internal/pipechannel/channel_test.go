package pipechannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/evloop"
)

func pipePair(t *testing.T) (clientR, clientW, serverR, serverW int) {
	t.Helper()
	c2s, err := unix.Pipe2(0)
	require.NoError(t, err)
	s2c, err := unix.Pipe2(0)
	require.NoError(t, err)
	return s2c[0], c2s[1], c2s[0], s2c[1]
}

func TestSyncSendRecvRoundTrip(t *testing.T) {
	clientR, clientW, serverR, serverW := pipePair(t)

	client, err := Open(clientR, clientW, nil)
	require.NoError(t, err)
	defer client.Close()

	server, err := Open(serverR, serverW, nil)
	require.NoError(t, err)
	defer server.Close()

	done := make(chan struct{})
	var recvN int
	recvBuf := make([]byte, 64)
	go func() {
		recvN, _ = server.Recv(recvBuf)
		close(done)
	}()

	require.NoError(t, client.Send([]byte("hello worker")))
	<-done

	require.Equal(t, "hello worker", string(recvBuf[:recvN]))
	require.WithinDuration(t, time.Now(), client.Seen(), time.Second)
}

func TestSyncSendEmptyMessage(t *testing.T) {
	clientR, clientW, serverR, serverW := pipePair(t)
	client, err := Open(clientR, clientW, nil)
	require.NoError(t, err)
	defer client.Close()
	server, err := Open(serverR, serverW, nil)
	require.NoError(t, err)
	defer server.Close()

	done := make(chan struct{})
	var n int
	buf := make([]byte, 8)
	go func() {
		n, _ = server.Recv(buf)
		close(done)
	}()
	require.NoError(t, client.Send(nil))
	<-done
	require.Equal(t, 0, n)
}

func TestAsyncSendRecvRoundTrip(t *testing.T) {
	clientR, clientW, serverR, serverW := pipePair(t)

	var sigset unix.Sigset_linux
	unix.SigemptySet(&sigset)

	iterations := 0
	loop, err := evloop.Setup(&sigset, 50, func() bool {
		iterations++
		return iterations < 20
	}, nil)
	require.NoError(t, err)
	defer loop.Cleanup()

	client, err := Open(clientR, clientW, loop)
	require.NoError(t, err)
	defer client.Close()
	server, err := Open(serverR, serverW, loop)
	require.NoError(t, err)
	defer server.Close()

	var sendErr error
	sendDone := false
	client.SetCallbacks(func(err error) {
		sendErr = err
		sendDone = true
	}, nil)

	var recvd []byte
	var recvErr error
	recvDone := false
	server.SetCallbacks(nil, func(b []byte, err error) {
		recvd = append([]byte(nil), b...)
		recvErr = err
		recvDone = true
	})

	_, err = server.Recv(nil)
	require.NoError(t, err)
	require.NoError(t, client.Send([]byte("async payload")))

	require.NoError(t, loop.Run())

	require.True(t, sendDone)
	require.NoError(t, sendErr)
	require.True(t, recvDone)
	require.NoError(t, recvErr)
	require.Equal(t, "async payload", string(recvd))
}
