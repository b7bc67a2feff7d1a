package reactor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weilai-dev/gowebserver/internal/dbpool"
	"github.com/weilai-dev/gowebserver/internal/httpresp"
	"github.com/weilai-dev/gowebserver/internal/logging"
	"github.com/weilai-dev/gowebserver/internal/poller"
	"github.com/weilai-dev/gowebserver/internal/timer"
	"github.com/weilai-dev/gowebserver/internal/workerpool"
)

// TriggerMode selects which of the listening and connection sockets use
// edge-triggered epoll notification.
type TriggerMode int

const (
	// TriggerLevelLevel: both listen and connection sockets level-triggered.
	TriggerLevelLevel TriggerMode = 0
	// TriggerLevelEdge: listen level-triggered, connections edge-triggered.
	TriggerLevelEdge TriggerMode = 1
	// TriggerEdgeLevel: listen edge-triggered, connections level-triggered.
	TriggerEdgeLevel TriggerMode = 2
	// TriggerEdgeEdge: both listen and connection sockets edge-triggered.
	TriggerEdgeEdge TriggerMode = 3
)

// resolveEventMode maps a TriggerMode to the (listenEvent, connEvent)
// mask pair; any value outside 0-3 falls back to the edge/edge case.
func resolveEventMode(mode TriggerMode) (listenEvent, connEvent uint32) {
	listenEvent = poller.PeerHangup
	connEvent = poller.OneShot | poller.PeerHangup
	switch mode {
	case TriggerLevelLevel:
	case TriggerLevelEdge:
		connEvent |= poller.EdgeTriggered
	case TriggerEdgeLevel:
		listenEvent |= poller.EdgeTriggered
	default:
		connEvent |= poller.EdgeTriggered
		listenEvent |= poller.EdgeTriggered
	}
	return listenEvent, connEvent
}

// Observer receives connection and request lifecycle events, the same
// shape as the root package's Observer so a *gowebserver.MetricsObserver
// satisfies this interface without either package importing the other.
type Observer interface {
	ObserveConnectionOpened()
	ObserveConnectionClosed()
	ObserveRequest(bytesRead, bytesWritten uint64, latencyNs uint64, success bool)
}

// noOpObserver is used when LoopConfig.Observer is nil.
type noOpObserver struct{}

func (noOpObserver) ObserveConnectionOpened()                    {}
func (noOpObserver) ObserveConnectionClosed()                    {}
func (noOpObserver) ObserveRequest(uint64, uint64, uint64, bool) {}

// LoopConfig configures a Loop.
type LoopConfig struct {
	ListenFd    int
	TriggerMode TriggerMode
	TimeoutMs   int // <=0 disables idle-connection eviction
	MaxConns    int
	Workers     *workerpool.Pool
	Backend     httpresp.Backend
	DBPool      *dbpool.Pool
	Logger      *logging.Logger
	// Observer receives connection/request events; nil disables reporting.
	Observer Observer
}

// Loop is the single-threaded reactor: it owns the epoll set and the
// connection table, and dispatches read/write work to a worker pool.
// Worker goroutines may call epoll_ctl concurrently (the kernel
// serializes it internally), but the timer heap is a plain,
// unsynchronized Go struct: only the goroutine running Run ever touches
// it, either directly (NextTick, Adjust from dealRead/dealWrite) or via
// a close request a worker files through requestClose and Run drains on
// the wakeFd. The connection map is guarded separately since worker
// goroutines look connections up by fd while Run may be adding or
// evicting concurrently.
type Loop struct {
	listenFd    int
	listenEvent uint32
	connEvent   uint32
	timeoutMs   int
	maxConns    int

	poller   *poller.Poller
	workers  *workerpool.Pool
	timers   *timer.Heap
	backend  httpresp.Backend
	dbPool   *dbpool.Pool
	log      *logging.Logger
	observer Observer

	connMu sync.RWMutex
	conns  map[int]*Conn

	// wakeFd is an eventfd registered level-triggered (no one-shot) with
	// the poller so Run wakes promptly when a worker goroutine files a
	// close request; closeRequests carries those fds. Workers must never
	// touch the timer heap directly, so a close triggered from
	// onRead/onWrite/onProcess is routed here instead of calling
	// closeConn, which calls timers.Remove, in the worker goroutine.
	wakeFd        int
	closeRequests chan int

	userCount int64
	closed    atomic.Bool
}

// NewLoop builds a Loop around an already bound, listening, non-blocking
// socket. Socket setup (bind/listen/SO_LINGER/SO_REUSEADDR) is the root
// package's responsibility.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 65536
	}
	p, err := poller.New(cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("reactor: new poller: %w", err)
	}
	listenEvent, connEvent := resolveEventMode(cfg.TriggerMode)

	observer := cfg.Observer
	if observer == nil {
		observer = noOpObserver{}
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("reactor: new wake eventfd: %w", err)
	}

	l := &Loop{
		listenFd:      cfg.ListenFd,
		listenEvent:   listenEvent,
		connEvent:     connEvent,
		timeoutMs:     cfg.TimeoutMs,
		maxConns:      cfg.MaxConns,
		poller:        p,
		workers:       cfg.Workers,
		timers:        timer.New(),
		backend:       cfg.Backend,
		dbPool:        cfg.DBPool,
		log:           cfg.Logger,
		observer:      observer,
		conns:         make(map[int]*Conn),
		wakeFd:        wakeFd,
		closeRequests: make(chan int, cfg.MaxConns),
	}

	if err := unix.SetNonblock(cfg.ListenFd, true); err != nil {
		unix.Close(wakeFd)
		p.Close()
		return nil, fmt.Errorf("reactor: set listen fd non-blocking: %w", err)
	}
	if err := p.Add(cfg.ListenFd, listenEvent|poller.Readable); err != nil {
		unix.Close(wakeFd)
		p.Close()
		return nil, fmt.Errorf("reactor: add listen fd: %w", err)
	}
	if err := p.Add(wakeFd, poller.Readable); err != nil {
		unix.Close(wakeFd)
		p.Close()
		return nil, fmt.Errorf("reactor: add wake fd: %w", err)
	}
	return l, nil
}

func (l *Loop) edgeTriggered() bool {
	return l.connEvent&poller.EdgeTriggered != 0
}

func (l *Loop) logf(format string, args ...any) {
	if l.log != nil {
		l.log.Infof(format, args...)
	}
}

func (l *Loop) errorf(format string, args ...any) {
	if l.log != nil {
		l.log.Errorf(format, args...)
	}
}

// loopMaxWaitMs bounds how long a single epoll_wait call blocks so Run
// can notice context cancellation even when no timer is scheduled.
const loopMaxWaitMs = 1000

// Run drives the reactor until ctx is cancelled or the poller errors.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		waitMs := loopMaxWaitMs
		if l.timeoutMs > 0 {
			if next := l.timers.NextTick(); next >= 0 && next < waitMs {
				waitMs = next
			}
		}

		events, err := l.poller.Wait(waitMs)
		if err != nil {
			return fmt.Errorf("reactor: poller wait: %w", err)
		}
		for _, ev := range events {
			l.dispatch(ev)
		}
	}
}

func (l *Loop) dispatch(ev poller.ReadyEvent) {
	if ev.Fd == l.listenFd {
		l.dealListen()
		return
	}
	if ev.Fd == l.wakeFd {
		l.drainWake()
		return
	}
	c := l.lookup(ev.Fd)
	if c == nil {
		// Already evicted (e.g. by a timer fired moments ago); the
		// epoll registration for a closed fd is gone too, so this is
		// a stale event rather than a bug.
		return
	}
	if ev.Events&(poller.PeerHangup|poller.Hangup|poller.ErrorEvent) != 0 {
		l.closeConn(c)
		return
	}
	if ev.Events&poller.Readable != 0 {
		l.dealRead(c)
		return
	}
	if ev.Events&poller.Writable != 0 {
		l.dealWrite(c)
		return
	}
}

// requestClose asks the event-loop goroutine to close c. Called from
// worker goroutines (onRead/onWrite/onProcess) instead of calling
// closeConn directly, since closeConn mutates the timer heap and the
// poller, both owned by the event-loop thread.
func (l *Loop) requestClose(c *Conn) {
	select {
	case l.closeRequests <- c.Fd():
	default:
		l.errorf("close request queue full, dropping close for fd %d", c.Fd())
		return
	}
	var one [8]byte
	one[0] = 1
	unix.Write(l.wakeFd, one[:])
}

// drainWake runs on the event-loop goroutine (invoked from dispatch,
// itself only called from Run). It clears the eventfd counter and
// closes every connection a worker goroutine asked to have closed.
func (l *Loop) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(l.wakeFd, buf[:]); err != nil {
			break
		}
	}
	for {
		select {
		case fd := <-l.closeRequests:
			if c := l.lookup(fd); c != nil {
				l.closeConn(c)
			}
		default:
			return
		}
	}
}

func (l *Loop) lookup(fd int) *Conn {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conns[fd]
}

// dealListen accepts as many pending connections as are ready, looping
// only when the listen socket itself is edge-triggered (otherwise one
// accept per readiness notification is correct and epoll will re-fire
// if more are pending).
func (l *Loop) dealListen() {
	for {
		fd, sa, err := unix.Accept(l.listenFd)
		if err != nil {
			if !isEAGAIN(err) {
				l.errorf("accept connection failed: %v", err)
			}
			return
		}
		if atomic.LoadInt64(&l.userCount) >= int64(l.maxConns) {
			l.sendError(fd, "Server busy!")
			unix.Close(fd)
			l.logf("too many clients, rejected fd %d", fd)
			if l.listenEvent&poller.EdgeTriggered == 0 {
				return
			}
			continue
		}
		ip, port := sockaddrToIPPort(sa)
		l.addClient(fd, ip, port)
		if l.listenEvent&poller.EdgeTriggered == 0 {
			return
		}
	}
}

func sockaddrToIPPort(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), a.Port
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%x", a.Addr), a.Port
	default:
		return "", 0
	}
}

func (l *Loop) addClient(fd int, ip string, port int) {
	if err := unix.SetNonblock(fd, true); err != nil {
		l.errorf("set client fd %d non-blocking: %v", fd, err)
		unix.Close(fd)
		return
	}
	c := newConn(fd, ip, port)

	l.connMu.Lock()
	l.conns[fd] = c
	l.connMu.Unlock()
	atomic.AddInt64(&l.userCount, 1)

	if l.timeoutMs > 0 {
		timeout := time.Duration(l.timeoutMs) * time.Millisecond
		l.timers.Add(fd, timeout, func() { l.closeConn(c) })
	}
	if err := l.poller.Add(fd, l.connEvent|poller.Readable); err != nil {
		l.errorf("add client fd %d to poller: %v", fd, err)
		l.closeConn(c)
		return
	}
	l.logf("add new client fd %d (%s:%d)", fd, ip, port)
	l.observer.ObserveConnectionOpened()
}

func (l *Loop) sendError(fd int, msg string) {
	if _, err := unix.Write(fd, []byte(msg)); err != nil {
		l.errorf("send busy notice to fd %d: %v", fd, err)
	}
}

func (l *Loop) dealRead(c *Conn) {
	if l.timeoutMs > 0 {
		l.timers.Adjust(c.Fd(), time.Duration(l.timeoutMs)*time.Millisecond)
	}
	l.workers.Submit(func() { l.onRead(c) })
}

func (l *Loop) dealWrite(c *Conn) {
	if l.timeoutMs > 0 {
		l.timers.Adjust(c.Fd(), time.Duration(l.timeoutMs)*time.Millisecond)
	}
	l.workers.Submit(func() { l.onWrite(c) })
}

func (l *Loop) onRead(c *Conn) {
	if c.Closed() {
		return
	}
	n, err := c.Read(l.edgeTriggered())
	if err != nil && !isEAGAIN(err) {
		l.requestClose(c)
		return
	}
	l.onProcess(c, n)
}

func (l *Loop) onWrite(c *Conn) {
	if c.Closed() {
		return
	}
	_, err := c.Write(l.edgeTriggered())
	if c.BytesToWrite() == 0 {
		if c.IsKeepAlive() {
			l.onProcess(c, 0)
			return
		}
		l.requestClose(c)
		return
	}
	// Bytes remain: either the socket would block (Conn.Write swallows
	// EAGAIN into a nil error) or the ET high-water mark deferred the
	// rest. Both rearm for the next writable event; only a real error
	// closes.
	if err == nil || isEAGAIN(err) {
		l.poller.Modify(c.Fd(), l.connEvent|poller.Writable)
		return
	}
	l.requestClose(c)
}

// onProcess reparses and rebuilds a response for c, reporting bytesRead
// (from the triggering onRead call, 0 for a keep-alive reprocess with no
// new bytes) and the response size just built to the observer.
func (l *Loop) onProcess(c *Conn, bytesRead int) {
	start := time.Now()
	hasData, err := c.Process(context.Background(), l.backend, l.dbPool)
	if err != nil {
		l.observer.ObserveRequest(uint64(bytesRead), 0, uint64(time.Since(start).Nanoseconds()), false)
		l.requestClose(c)
		return
	}
	if hasData {
		l.observer.ObserveRequest(uint64(bytesRead), uint64(c.BytesToWrite()), uint64(time.Since(start).Nanoseconds()), true)
		l.poller.Modify(c.Fd(), l.connEvent|poller.Writable)
	} else {
		l.poller.Modify(c.Fd(), l.connEvent|poller.Readable)
	}
}

// closeConn tears down c. It must only run on the event-loop goroutine
// (from dispatch, a timer callback fired by Run, or Close after Run has
// returned): it touches the timer heap and the poller, neither of which
// is safe for concurrent use from worker goroutines. Worker code calls
// requestClose instead.
func (l *Loop) closeConn(c *Conn) {
	if c.Closed() {
		return
	}
	fd := c.Fd()
	l.logf("client fd %d disconnected", fd)
	l.timers.Remove(fd)
	l.poller.Delete(fd)
	c.Close()

	l.connMu.Lock()
	delete(l.conns, fd)
	l.connMu.Unlock()
	atomic.AddInt64(&l.userCount, -1)
	l.observer.ObserveConnectionClosed()
}

// ActiveConns reports how many connections are currently open.
func (l *Loop) ActiveConns() int64 { return atomic.LoadInt64(&l.userCount) }

// Close stops accepting work and releases the loop's poller. Connections
// still open are closed; the worker pool itself is owned by the caller
// and is not closed here.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.connMu.Lock()
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.connMu.Unlock()
	for _, c := range conns {
		l.closeConn(c)
	}
	unix.Close(l.wakeFd)
	return l.poller.Close()
}
