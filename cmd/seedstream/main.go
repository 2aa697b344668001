// Package main is the entry point for the seedstream server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/loggo"
	"github.com/juju/loggo/loggocolor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/seedstream/internal/catalog"
	"github.com/joe/seedstream/internal/config"
	"github.com/joe/seedstream/internal/server"
	"github.com/joe/seedstream/pkg/filesystem"
	"github.com/joe/seedstream/pkg/stream"
)

//nolint:gochecknoglobals // Package logger, as loggo intends
var logger = loggo.GetLogger("seedstream")

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// setupLogging colours output when stderr is a terminal.
func setupLogging(levels string) error {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		if _, err := loggo.ReplaceDefaultWriter(loggocolor.NewWriter(os.Stderr)); err != nil {
			return fmt.Errorf("replace log writer: %w", err)
		}
	}

	if err := loggo.ConfigureLoggers(levels); err != nil {
		return fmt.Errorf("configure loggers: %w", err)
	}

	return nil
}

func run(cfg *config.Config) error {
	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Warningf("%v", err)
		}
	}()

	if err := seedHosts(cat, cfg.Hosts); err != nil {
		return err
	}

	poolMetrics := filesystem.NewPoolMetrics()
	streamMetrics := stream.NewMetrics()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		poolMetrics,
		streamMetrics,
	)

	poolOpts := cfg.PoolOptions()
	poolOpts.Metrics = poolMetrics
	pool := filesystem.NewConnectionPool(poolOpts)

	srv := server.New(server.Options{
		Catalog:        cat,
		Pool:           pool,
		Proxy:          stream.NewProxy(streamMetrics),
		Gatherer:       registry,
		ConnectOptions: filesystem.ConnectOptions{Timeout: cfg.ConnectTimeout},
	})

	httpServer := &http.Server{ //nolint:gosec // Streams are long-lived; no write timeout
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	go func() {
		logger.Infof("listening on %s", cfg.Listen)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = pool.CloseAll()
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("http shutdown: %v", err)
	}

	if err := pool.CloseAll(); err != nil {
		logger.Warningf("closing connections: %v", err)
	}

	return nil
}

// seedHosts registers the hosts given on the command line. A host whose
// address is unchanged keeps its accepted fingerprint.
func seedHosts(cat *catalog.Catalog, hosts []config.HostSpec) error {
	for _, spec := range hosts {
		existing, err := cat.GetHost(spec.ID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}

		host := catalog.Host{
			HostConfig:  spec.HostConfig(),
			Name:        existing.Name,
			LibraryRoot: spec.Path.Path,
		}

		if err := cat.PutHost(host); err != nil {
			return fmt.Errorf("register host %s: %w", spec.ID, err)
		}

		logger.Infof("registered host %s (%s)", spec.ID, host.HostConfig)
	}

	return nil
}
