// Package dbpool implements a fixed-size, semaphore-gated pool of MySQL
// connections, handed out through a scoped acquisition: callers get a
// connection and a release function to defer, rather than a bare handle
// they must remember to return.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	"github.com/weilai-dev/gowebserver/internal/logging"
)

// Config describes how to reach the database and how large the pool
// should be.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Size     int
	Logger   *logging.Logger
}

func (c Config) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Pool is a fixed-size pool of *sql.Conn drawn from one *sql.DB.
type Pool struct {
	db   *sql.DB
	free []*sql.Conn
	mu   sync.Mutex
	sem  chan struct{}
	log  *logging.Logger
}

// Open connects to MySQL and populates the pool. A connection that
// fails to open is logged and skipped rather than aborting startup,
// and the pool's semaphore is sized to the number of connections that
// actually opened, not the nominal Size. A pool with zero working
// connections still starts (every Acquire blocks until its context is
// done; Close does not wake it), since refusing to start at all removes
// the operator's ability
// to fix the underlying DB issue without a redeploy.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	return openFromDB(ctx, db, cfg.Size, cfg.Logger)
}

// openFromDB builds a Pool from an already-opened *sql.DB, split out from
// Open so tests can drive it against a sqlmock-backed *sql.DB instead of
// a live MySQL connection.
func openFromDB(ctx context.Context, db *sql.DB, size int, log *logging.Logger) (*Pool, error) {
	if log == nil {
		log = logging.Default()
	}

	if size <= 0 {
		size = 1
	}

	p := &Pool{db: db, log: log}
	opened := 0
	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			log.Warnf("dbpool: connection %d/%d failed to open: %v", i+1, size, err)
			continue
		}
		if err := conn.PingContext(ctx); err != nil {
			log.Warnf("dbpool: connection %d/%d failed ping: %v", i+1, size, err)
			conn.Close()
			continue
		}
		p.free = append(p.free, conn)
		opened++
	}

	if opened < size {
		log.Warnf("dbpool: opened %d/%d connections, sizing pool to actual count", opened, size)
	}
	if opened == 0 {
		log.Error("dbpool: no connections opened; pool will block until connections become available")
		opened = 1 // a buffered semaphore holding no tokens: every Acquire waits on its context
	}
	p.sem = make(chan struct{}, opened)
	for i := 0; i < len(p.free); i++ {
		p.sem <- struct{}{}
	}

	return p, nil
}

// Acquire blocks until a connection is available (or ctx is done),
// returning the connection and a release function the caller must defer.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		// Semaphore accounting and free-list length disagree; treat as a
		// transient miss rather than panicking.
		p.sem <- struct{}{}
		return nil, nil, fmt.Errorf("dbpool: no free connection despite semaphore grant")
	}
	conn := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		p.mu.Lock()
		p.free = append(p.free, conn)
		p.mu.Unlock()
		p.sem <- struct{}{}
	}
	return conn, release, nil
}

// FreeCount reports how many connections are currently idle in the pool.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close closes every pooled connection and the underlying *sql.DB.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.free
	p.free = nil
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return p.db.Close()
}
