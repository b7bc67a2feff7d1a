// Package poller implements the readiness multiplexer: an epoll wrapper
// exposing add/modify/delete/wait, with the trigger-mode bits (level vs.
// edge, one-shot) left as flags on the caller-supplied mask rather than
// baked into the poller itself.
package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Event mask bits, passed straight through to epoll.
const (
	Readable      = uint32(unix.EPOLLIN)
	Writable      = uint32(unix.EPOLLOUT)
	PeerHangup    = uint32(unix.EPOLLRDHUP)
	Hangup        = uint32(unix.EPOLLHUP)
	ErrorEvent    = uint32(unix.EPOLLERR)
	EdgeTriggered = uint32(unix.EPOLLET)
	OneShot       = uint32(unix.EPOLLONESHOT)
)

// ReadyEvent is one ready descriptor returned from Wait.
type ReadyEvent struct {
	Fd     int
	Events uint32
}

// Poller is an epoll-backed readiness multiplexer.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates a Poller sized to report up to maxEvents ready descriptors
// per Wait call.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Add registers fd for the given event mask.
func (p *Poller) Add(fd int, mask uint32) error {
	if fd < 0 {
		return fmt.Errorf("poller: invalid fd %d", fd)
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes fd's registered event mask.
func (p *Poller) Modify(fd int, mask uint32) error {
	if fd < 0 {
		return fmt.Errorf("poller: invalid fd %d", fd)
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Delete unregisters fd.
func (p *Poller) Delete(fd int) error {
	if fd < 0 {
		return fmt.Errorf("poller: invalid fd %d", fd)
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready or timeoutMs
// elapses (-1 blocks forever, 0 returns immediately), returning the
// ready descriptors and their event masks.
func (p *Poller) Wait(timeoutMs int) ([]ReadyEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	out := make([]ReadyEvent, n)
	for i := 0; i < n; i++ {
		out[i] = ReadyEvent{Fd: int(p.events[i].Fd), Events: p.events[i].Events}
	}
	return out, nil
}

// Close releases the underlying epoll file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
