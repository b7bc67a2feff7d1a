package reactor

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/weilai-dev/gowebserver/internal/httpresp"
	"github.com/weilai-dev/gowebserver/internal/poller"
	"github.com/weilai-dev/gowebserver/internal/workerpool"
)

// countingObserver counts lifecycle events without pulling in the root
// package's Metrics type, which would create an import cycle.
type countingObserver struct {
	opened, closed, requests atomic.Int64
}

func (o *countingObserver) ObserveConnectionOpened() { o.opened.Add(1) }
func (o *countingObserver) ObserveConnectionClosed() { o.closed.Add(1) }
func (o *countingObserver) ObserveRequest(uint64, uint64, uint64, bool) {
	o.requests.Add(1)
}

// listenTCP creates a bound, listening, non-blocking IPv4 socket the way
// the root package's socket setup would, returning its fd and chosen
// port.
func listenTCP(t *testing.T) (fd int, port int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
	addr := &unix.SockaddrInet4{Port: 0}
	require.NoError(t, unix.Bind(fd, addr))
	require.NoError(t, unix.Listen(fd, 16))

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	in4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return fd, in4.Port
}

func TestResolveEventMode(t *testing.T) {
	cases := []struct {
		mode             TriggerMode
		listenET, connET bool
	}{
		{TriggerLevelLevel, false, false},
		{TriggerLevelEdge, false, true},
		{TriggerEdgeLevel, true, false},
		{TriggerEdgeEdge, true, true},
	}
	for _, tc := range cases {
		listenEvent, connEvent := resolveEventMode(tc.mode)
		assert.Equal(t, tc.listenET, listenEvent&poller.EdgeTriggered != 0)
		assert.Equal(t, tc.connET, connEvent&poller.EdgeTriggered != 0)
	}
}

func TestLoopServesFileOverRealSocket(t *testing.T) {
	listenFd, port := listenTCP(t)

	be := httpresp.NewMemoryBackend()
	be.PutFile("/index.html", []byte("hello reactor"))

	workers := workerpool.New(2)
	defer workers.Close()

	loop, err := NewLoop(LoopConfig{
		ListenFd:    listenFd,
		TriggerMode: TriggerLevelLevel,
		TimeoutMs:   0,
		MaxConns:    16,
		Workers:     workers,
		Backend:     be,
	})
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200 OK")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

// TestRequestCloseIsRoutedThroughEventLoop pins the rule that the timer
// heap is event-loop-only: a close triggered by a worker goroutine
// (onRead/onWrite/onProcess calling requestClose) must not touch the
// timer heap or poller itself. It only files the fd on closeRequests
// and wakes the eventfd; closeConn, which does touch both, only ever
// runs from drainWake on the goroutine driving dispatch.
func TestRequestCloseIsRoutedThroughEventLoop(t *testing.T) {
	listenFd, _ := listenTCP(t)

	workers := workerpool.New(2)
	defer workers.Close()

	loop, err := NewLoop(LoopConfig{
		ListenFd:  listenFd,
		TimeoutMs: 60_000,
		MaxConns:  16,
		Workers:   workers,
		Backend:   httpresp.NewMemoryBackend(),
	})
	require.NoError(t, err)
	defer loop.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	c := newConn(fds[0], "127.0.0.1", 0)
	t.Cleanup(func() { unix.Close(fds[1]) })

	loop.connMu.Lock()
	loop.conns[fds[0]] = c
	loop.connMu.Unlock()
	loop.timers.Add(fds[0], time.Minute, func() {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.requestClose(c)
		}()
	}
	wg.Wait()

	// requestClose must not have closed the connection itself; only
	// drainWake, run on the event-loop goroutine, actually does.
	assert.False(t, c.Closed())
	assert.NotNil(t, loop.lookup(fds[0]))

	loop.drainWake()

	assert.True(t, c.Closed())
	assert.Nil(t, loop.lookup(fds[0]))
}

func TestLoopReportsConnectionAndRequestEventsToObserver(t *testing.T) {
	listenFd, port := listenTCP(t)

	be := httpresp.NewMemoryBackend()
	be.PutFile("/index.html", []byte("hello observer"))

	workers := workerpool.New(2)
	defer workers.Close()

	obs := &countingObserver{}
	loop, err := NewLoop(LoopConfig{
		ListenFd:    listenFd,
		TriggerMode: TriggerLevelLevel,
		TimeoutMs:   0,
		MaxConns:    16,
		Workers:     workers,
		Backend:     be,
		Observer:    obs,
	})
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200 OK")

	require.Eventually(t, func() bool {
		return obs.requests.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, obs.opened.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

