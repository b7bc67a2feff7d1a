package reactor

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/weilai-dev/gowebserver/internal/dbpool"
	"github.com/weilai-dev/gowebserver/internal/httpbuf"
	"github.com/weilai-dev/gowebserver/internal/httpparse"
	"github.com/weilai-dev/gowebserver/internal/httpresp"
)

// etWriteDeferThreshold bounds how much an edge-triggered connection's
// write loop will drain in one call before yielding back to the event
// loop, so one large response cannot starve other connections.
const etWriteDeferThreshold = 10 * 1024

// Conn is one accepted connection: its read/write buffers, parser,
// built response, and gather-write state. A connection is only ever
// touched by one worker goroutine at a time (the one-shot epoll
// registration guarantees this), but the mutex guards the closed flag,
// which eviction on the event-loop goroutine sets while a worker may be
// checking it.
type Conn struct {
	mu sync.Mutex

	fd        int
	peerIP    string
	peerPort  int
	closed    bool
	keepAlive bool

	readBuf  *httpbuf.Buffer
	writeBuf *httpbuf.Buffer
	req      *httpparse.Request
	resp     *httpresp.Response

	// segments holds the remaining gather-write vector: index 0 is the
	// header bytes still to send, index 1 is the response body bytes
	// still to send (possibly an mmap'd file). Either may be empty.
	segments [2][]byte
}

// newConn wraps an accepted socket fd.
func newConn(fd int, peerIP string, peerPort int) *Conn {
	return &Conn{
		fd:        fd,
		peerIP:    peerIP,
		peerPort:  peerPort,
		readBuf:   httpbuf.New(),
		writeBuf:  httpbuf.New(),
		req:       httpparse.New(),
		keepAlive: false,
	}
}

// Fd returns the connection's file descriptor.
func (c *Conn) Fd() int { return c.fd }

// PeerAddr returns the connection's remote IP and port.
func (c *Conn) PeerAddr() (string, int) { return c.peerIP, c.peerPort }

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the response's mapped content (if any) and the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.resp != nil {
		c.resp.Close()
		c.resp = nil
	}
	return unix.Close(c.fd)
}

// Read drains the socket into the read buffer. It loops (readv again)
// only when edgeTriggered is true; level-triggered connections read once
// per readiness notification and rely on epoll re-firing.
func (c *Conn) Read(edgeTriggered bool) (int, error) {
	total := 0
	for {
		n, err := c.readOnce()
		if n > 0 {
			total += n
		}
		if err != nil {
			// Data already read is still worth processing; the EOF or
			// EAGAIN resurfaces on the next readiness notification.
			if total > 0 && (isEAGAIN(err) || errors.Is(err, io.EOF)) {
				return total, nil
			}
			return total, err
		}
		if !edgeTriggered {
			return total, nil
		}
	}
}

func (c *Conn) readOnce() (int, error) {
	primary := c.readBuf.WriteSlice()
	spill := getExtraSpace()
	defer putExtraSpace(spill)

	n, err := unix.Readv(c.fd, [][]byte{primary, spill})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// A zero-byte readv on a readable socket means the peer closed
		// its write half.
		return 0, io.EOF
	}
	if n <= len(primary) {
		c.readBuf.HasWritten(n)
	} else {
		c.readBuf.HasWritten(len(primary))
		c.readBuf.Append(spill[:n-len(primary)])
	}
	return n, nil
}

func isEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Write drains the gather-write vector to the socket. It loops until
// either everything has been sent, the socket would block, or (on an
// edge-triggered connection) more than etWriteDeferThreshold bytes
// remain — at which point it yields back to the event loop rather than
// spinning on one connection indefinitely.
func (c *Conn) Write(edgeTriggered bool) (int, error) {
	total := 0
	for {
		segs := c.pendingSegments()
		if len(segs) == 0 {
			return total, nil
		}
		n, err := unix.Writev(c.fd, segs)
		if n > 0 {
			total += n
			c.consume(n)
		}
		if err != nil {
			if isEAGAIN(err) {
				return total, nil
			}
			return total, err
		}
		if c.BytesToWrite() == 0 {
			return total, nil
		}
		if !edgeTriggered {
			return total, nil
		}
		if c.BytesToWrite() > etWriteDeferThreshold {
			return total, nil
		}
	}
}

func (c *Conn) pendingSegments() [][]byte {
	var out [][]byte
	if len(c.segments[0]) > 0 {
		out = append(out, c.segments[0])
	}
	if len(c.segments[1]) > 0 {
		out = append(out, c.segments[1])
	}
	return out
}

func (c *Conn) consume(n int) {
	if n >= len(c.segments[0]) {
		n -= len(c.segments[0])
		c.segments[0] = nil
		if n >= len(c.segments[1]) {
			c.segments[1] = nil
			return
		}
		c.segments[1] = c.segments[1][n:]
		return
	}
	c.segments[0] = c.segments[0][n:]
}

// BytesToWrite reports how many bytes remain in the write vector.
func (c *Conn) BytesToWrite() int {
	return len(c.segments[0]) + len(c.segments[1])
}

// IsKeepAlive reports whether the last processed request asked to keep
// the connection open.
func (c *Conn) IsKeepAlive() bool { return c.keepAlive }

// Process resets the parser, parses whatever is in the read buffer, and
// builds a response. It returns (false, nil) cleanly when there is
// nothing readable, rather than leaving a stale or half-built response
// in place.
func (c *Conn) Process(ctx context.Context, backend httpresp.Backend, pool *dbpool.Pool) (bool, error) {
	c.req.Reset()
	if c.readBuf.ReadableBytes() <= 0 {
		return false, nil
	}

	code := 400
	ok, _ := c.req.Parse(c.readBuf)
	if ok && c.applyLogin(ctx, pool) {
		code = 200
	}
	c.keepAlive = code == 200 && connectionIsKeepAlive(c.req.Headers, c.req.Version)

	if c.resp != nil {
		c.resp.Close()
	}
	resp, err := httpresp.Build(backend, c.req.Path, c.keepAlive, code)
	if err != nil {
		return false, err
	}
	c.resp = resp

	c.writeBuf.RetrieveAll()
	c.writeBuf.Append(resp.Header.Peek())
	c.segments[0] = c.writeBuf.Peek()
	c.segments[1] = resp.Body()
	return true, nil
}

// applyLogin rewrites the request path to /welcome.html or /error.html
// once a login-form POST has been verified against the user table, or
// leaves the path alone (e.g. a plain GET for /login.html) when the
// path isn't a login-form submission target at all. A register
// submission's path is left untouched either way; a failed register is
// reported as a parse failure, which disables keep-alive and leaves the
// provisional code at 400 for the response builder to resolve against
// the filesystem (an existing register page still renders at 200).
func (c *Conn) applyLogin(ctx context.Context, pool *dbpool.Pool) bool {
	if c.req.Method != "POST" {
		return true
	}
	tag, ok := c.req.LoginTag()
	if !ok {
		return true
	}
	user, password := c.req.Post["username"], c.req.Post["password"]

	if tag == 1 {
		return httpresp.Register(ctx, pool, user, password)
	}
	if httpresp.LoginVerify(ctx, pool, user, password) {
		c.req.Path = "/welcome.html"
	} else {
		c.req.Path = "/error.html"
	}
	return true
}

func connectionIsKeepAlive(headers map[string]string, version string) bool {
	conn := headers["Connection"]
	if conn == "" {
		return false
	}
	return conn == "keep-alive" || conn == "Keep-Alive"
}
