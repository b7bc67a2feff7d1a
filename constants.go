package gowebserver

import "time"

// Default configuration constants for the server's constructor knobs.
const (
	// DefaultPort is the listening port used when Config.Port is zero.
	DefaultPort = 9006

	// DefaultWorkers is the worker pool size used when Config.Workers is
	// zero.
	DefaultWorkers = 8

	// DefaultDBPoolSize is the DB connection pool size used when
	// Config.DB.PoolSize is zero.
	DefaultDBPoolSize = 8

	// MinDBPoolSize is the enforced floor on Config.DB.PoolSize.
	MinDBPoolSize = 2

	// DefaultConnTimeoutMs is the idle-connection eviction timeout that
	// DefaultConfig sets; a zero Config.ConnTimeoutMs disables eviction.
	DefaultConnTimeoutMs = 60000

	// DefaultMaxConns bounds the number of simultaneously open
	// connections.
	DefaultMaxConns = 65536

	// DefaultListenBacklog is the fixed listen(2) backlog.
	DefaultListenBacklog = 5

	// DefaultResourceRoot is the directory static files and error pages
	// are served from, relative to the process's working directory.
	DefaultResourceRoot = "resources"

	// SOLingerSeconds is the graceful-close linger duration applied when
	// Config.Linger is true.
	SOLingerSeconds = 1
)

// gracefulShutdownGrace bounds how long Shutdown waits for the reactor
// loop to exit when the caller's context has no deadline of its own.
// The worker pool is then closed without a bound.
const gracefulShutdownGrace = 5 * time.Second
