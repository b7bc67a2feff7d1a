// Command gowebserver runs a reactor-style HTTP/1.1 static file and
// login/register server: a minimal flag-driven entry point over the
// gowebserver package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weilai-dev/gowebserver"
	"github.com/weilai-dev/gowebserver/internal/logging"
)

func main() {
	var (
		port          = flag.Int("port", gowebserver.DefaultPort, "listening port (1024-65535)")
		trigger       = flag.Int("trigger", 3, "epoll trigger mode 0-3 (listen/conn LT or ET combinations)")
		timeoutMs     = flag.Int("timeout-ms", gowebserver.DefaultConnTimeoutMs, "idle connection timeout in milliseconds, <=0 disables eviction")
		linger        = flag.Bool("linger", false, "enable SO_LINGER graceful close")
		workers       = flag.Int("workers", gowebserver.DefaultWorkers, "worker pool size")
		resourceRoot  = flag.String("resources", gowebserver.DefaultResourceRoot, "directory to serve static files and error pages from")
		dbHost        = flag.String("db-host", "", "MySQL host; empty disables login/register")
		dbPort        = flag.Int("db-port", 3306, "MySQL port")
		dbUser        = flag.String("db-user", "", "MySQL user")
		dbPassword    = flag.String("db-password", "", "MySQL password")
		dbName        = flag.String("db-name", "", "MySQL database name")
		dbPoolSize    = flag.Int("db-pool-size", gowebserver.DefaultDBPoolSize, "DB connection pool size")
		logEnable     = flag.Bool("log", true, "enable logging")
		logLevel      = flag.Int("log-level", int(logging.LevelInfo), "log level 0=debug 1=info 2=warn 3=error")
		logDir        = flag.String("log-dir", "", "directory for rotating log files; empty logs to stderr")
	)
	flag.Parse()

	cfg := gowebserver.DefaultConfig()
	cfg.Port = *port
	cfg.TriggerMode = *trigger
	cfg.ConnTimeoutMs = *timeoutMs
	cfg.Linger = *linger
	cfg.Workers = *workers
	cfg.ResourceRoot = *resourceRoot
	cfg.LogEnable = *logEnable
	cfg.LogLevel = logging.LogLevel(*logLevel)
	cfg.LogDir = *logDir
	cfg.DB = gowebserver.DBConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		Name:     *dbName,
		PoolSize: *dbPoolSize,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := gowebserver.NewServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gowebserver: failed to start: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe(ctx) }()

	fmt.Printf("gowebserver listening on :%d (resources=%s)\n", cfg.Port, cfg.ResourceRoot)
	fmt.Println("Press Ctrl+C to stop...")

	select {
	case sig := <-sigCh:
		fmt.Printf("received %s, shutting down...\n", sig)
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "gowebserver: serve error: %v\n", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "gowebserver: shutdown error: %v\n", err)
		os.Exit(1)
	}
}
