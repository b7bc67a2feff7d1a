// Package gowebserver is the public API of an edge/level-triggered,
// reactor-style HTTP/1.1 server serving static files and a minimal
// login/register form backed by MySQL. The concurrency core — the
// event loop, connection state machine, buffers, timer heap, worker
// pool, and DB connection pool — lives in internal/*; this package
// wires them together behind a single Server.
package gowebserver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/weilai-dev/gowebserver/internal/dbpool"
	"github.com/weilai-dev/gowebserver/internal/httpresp"
	"github.com/weilai-dev/gowebserver/internal/logging"
	"github.com/weilai-dev/gowebserver/internal/reactor"
	"github.com/weilai-dev/gowebserver/internal/workerpool"
)

// DBConfig describes how to reach the MySQL database backing the
// login/register form. A zero-value DBConfig (empty Host) disables the
// database entirely: the server still serves static files, but every
// login attempt fails and every register attempt reports an error —
// DB trouble surfaces as an auth failure, never a 5xx.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// PoolSize is the number of pooled connections; enforced to at
	// least MinDBPoolSize when > 0, or DefaultDBPoolSize when zero.
	PoolSize int
}

// Config configures a Server: port, trigger mode, connection timeout,
// SO_LINGER, DB connection params, DB pool size, worker count, log
// enable/level.
type Config struct {
	// Port the server listens on, 1024-65535.
	Port int
	// TriggerMode selects the epoll LT/ET combination, 0-3 (see
	// internal/reactor.TriggerMode).
	TriggerMode int
	// ConnTimeoutMs is the idle-connection eviction timeout; <=0
	// disables eviction.
	ConnTimeoutMs int
	// Linger, when true, sets SO_LINGER with a 1-second graceful close
	// on the listening socket.
	Linger bool
	// MaxConns bounds simultaneously open connections. Zero uses
	// DefaultMaxConns.
	MaxConns int
	// Workers is the worker pool size. Zero uses DefaultWorkers.
	Workers int
	// ResourceRoot is the directory static files and error pages are
	// served from. Empty uses DefaultResourceRoot.
	ResourceRoot string
	// DB configures the login/register backing database. A zero value
	// disables the database (see DBConfig doc).
	DB DBConfig
	// LogEnable turns on logging, written synchronously (no async
	// queue) to LogDir or stderr; false logs nothing.
	LogEnable bool
	// LogLevel is the minimum level logged, 0 (debug) - 3 (error).
	LogLevel logging.LogLevel
	// LogDir and LogBaseName configure file-backed rotating logging.
	// Empty LogDir logs to stderr instead.
	LogDir      string
	LogBaseName string

	// backendOverride lets this package's own tests substitute an
	// in-memory httpresp.Backend (see testing.go's MockBackend) instead
	// of serving from a real directory; unexported since external
	// callers configure ResourceRoot instead.
	backendOverride httpresp.Backend
}

// DefaultConfig returns a Config with every field at its documented
// default, listening on DefaultPort with no database configured.
func DefaultConfig() Config {
	return Config{
		Port:          DefaultPort,
		TriggerMode:   3,
		ConnTimeoutMs: DefaultConnTimeoutMs,
		Linger:        false,
		MaxConns:      DefaultMaxConns,
		Workers:       DefaultWorkers,
		ResourceRoot:  DefaultResourceRoot,
		LogEnable:     true,
		LogLevel:      logging.LevelInfo,
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ResourceRoot == "" {
		c.ResourceRoot = DefaultResourceRoot
	}
	if c.DB.Host != "" && c.DB.PoolSize <= 0 {
		c.DB.PoolSize = DefaultDBPoolSize
	}
	if c.DB.Host != "" && c.DB.PoolSize < MinDBPoolSize {
		c.DB.PoolSize = MinDBPoolSize
	}
}

func (c Config) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return NewError("VALIDATE", ErrCodeInvalidParameters, fmt.Sprintf("port %d out of range 1024-65535", c.Port))
	}
	if c.TriggerMode < 0 || c.TriggerMode > 3 {
		return NewError("VALIDATE", ErrCodeInvalidParameters, fmt.Sprintf("trigger mode %d out of range 0-3", c.TriggerMode))
	}
	return nil
}

// Server is a single listening HTTP/1.1 reactor server.
type Server struct {
	cfg Config

	logger  *logging.Logger
	metrics *Metrics
	dbPool  *dbpool.Pool
	workers *workerpool.Pool
	backend httpresp.Backend

	mu        sync.Mutex
	listenFd  int
	loop      *reactor.Loop
	runCancel context.CancelFunc
	stopped   chan struct{}
}

// NewServer constructs a Server from cfg, opening the DB pool (if
// configured) and starting the worker pool, but without binding the
// listening socket yet — that happens in ListenAndServe, mirroring
// net/http.Server's split between construction and serving.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var logger *logging.Logger
	if cfg.LogEnable {
		logger = logging.NewLogger(&logging.Config{
			Level:    cfg.LogLevel,
			Dir:      cfg.LogDir,
			BaseName: cfg.LogBaseName,
		})
	} else {
		logger = logging.NewLogger(&logging.Config{Level: logging.LevelError, Output: io.Discard})
	}

	logger.Infof("gowebserver starting: port=%d trigger=%s linger=%v resources=%s workers=%d",
		cfg.Port, triggerModeName(cfg.TriggerMode), cfg.Linger, cfg.ResourceRoot, cfg.Workers)

	var dbPool *dbpool.Pool
	if cfg.DB.Host != "" {
		p, err := dbpool.Open(ctx, dbpool.Config{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			DBName:   cfg.DB.Name,
			Size:     cfg.DB.PoolSize,
			Logger:   logger,
		})
		if err != nil {
			logger.Close()
			return nil, WrapError("db.open", err)
		}
		dbPool = p
		logger.Infof("db pool opened: host=%s db=%s size=%d", cfg.DB.Host, cfg.DB.Name, cfg.DB.PoolSize)
	} else {
		logger.Warn("no database configured; login/register will always fail")
	}

	backend := cfg.backendOverride
	if backend == nil {
		backend = httpresp.NewOSBackend(cfg.ResourceRoot)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(),
		dbPool:   dbPool,
		workers:  workerpool.New(cfg.Workers),
		backend:  backend,
		listenFd: -1,
		stopped:  make(chan struct{}),
	}, nil
}

func triggerModeName(mode int) string {
	switch mode {
	case 0:
		return "listen-LT/conn-LT"
	case 1:
		return "listen-LT/conn-ET"
	case 2:
		return "listen-ET/conn-LT"
	default:
		return "listen-ET/conn-ET"
	}
}

// ListenAndServe binds, configures, and listens the server's socket,
// then runs the reactor loop until ctx is cancelled, Shutdown is
// called, or an unrecoverable poller error occurs. It blocks for the
// lifetime of the server, matching net/http.Server's ListenAndServe
// contract.
func (s *Server) ListenAndServe(ctx context.Context) error {
	fd, err := s.bindListen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listenFd = fd
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.mu.Unlock()

	loop, err := reactor.NewLoop(reactor.LoopConfig{
		ListenFd:    fd,
		TriggerMode: reactor.TriggerMode(s.cfg.TriggerMode),
		TimeoutMs:   s.cfg.ConnTimeoutMs,
		MaxConns:    s.cfg.MaxConns,
		Workers:     s.workers,
		Backend:     s.backend,
		DBPool:      s.dbPool,
		Logger:      s.logger,
		Observer:    NewMetricsObserver(s.metrics),
	})
	if err != nil {
		unix.Close(fd)
		return WrapError("reactor.new_loop", err)
	}

	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()

	s.logger.Infof("listening on port %d", s.cfg.Port)
	err = loop.Run(runCtx)
	close(s.stopped)
	return err
}

// bindListen opens, configures (SO_REUSEADDR always, SO_LINGER when
// cfg.Linger), binds, and listens the server's socket with a fixed
// DefaultListenBacklog.
func (s *Server) bindListen() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, WrapError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, WrapError("setsockopt.reuseaddr", err)
	}
	if s.cfg.Linger {
		linger := unix.Linger{Onoff: 1, Linger: SOLingerSeconds}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
			unix.Close(fd)
			return -1, WrapError("setsockopt.linger", err)
		}
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		if errno, ok := err.(syscall.Errno); ok {
			return -1, NewErrorWithErrno("bind", ErrCodeListenFailed, errno)
		}
		return -1, WrapError("bind", err)
	}
	if err := unix.Listen(fd, DefaultListenBacklog); err != nil {
		unix.Close(fd)
		if errno, ok := err.(syscall.Errno); ok {
			return -1, NewErrorWithErrno("listen", ErrCodeListenFailed, errno)
		}
		return -1, WrapError("listen", err)
	}
	return fd, nil
}

// Shutdown stops accepting new work and waits for the reactor loop to
// exit: it cancels the run context (which makes Run return), closes
// the worker pool (in-flight and queued tasks still drain), and
// flushes and closes the DB pool and log sink.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gracefulShutdownGrace)
		defer cancel()
	}

	s.mu.Lock()
	cancel := s.runCancel
	loop := s.loop
	listenFd := s.listenFd
	s.listenFd = -1
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if loop != nil {
		select {
		case <-s.stopped:
		case <-ctx.Done():
		}
		loop.Close()
	}
	if listenFd >= 0 {
		unix.Close(listenFd)
	}

	s.workers.Close()
	if s.dbPool != nil {
		s.dbPool.Close()
	}
	s.metrics.Stop()
	return s.logger.Close()
}

// Metrics returns the server's live metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ActiveConnections reports how many connections are currently open.
func (s *Server) ActiveConnections() int64 {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop == nil {
		return 0
	}
	return loop.ActiveConns()
}
