// Package server wraps the daemon's HTTP endpoint with graceful shutdown
// and ordered resource teardown.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tesseradb/replication/pkg/logging"
)

// DefaultShutdownTimeout bounds how long in-flight requests may drain.
const DefaultShutdownTimeout = 30 * time.Second

// ConfigReloadFunc is invoked on SIGHUP to re-apply runtime configuration.
type ConfigReloadFunc func() error

// GracefulServer wraps an HTTP server with signal-driven graceful
// shutdown. Shutdown stops the HTTP listener only; the daemon tears down
// its other components after Start returns.
type GracefulServer struct {
	server         *http.Server
	logger         logging.Logger
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// NewGracefulServer creates a graceful HTTP server.
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger:     logger.With(logging.Component("http-server")),
		shutdownCh: make(chan struct{}),
	}
}

// Start serves until Shutdown is called, by signal or explicitly. It
// returns nil on a clean shutdown.
func (gs *GracefulServer) Start() error {
	go gs.handleSignals()

	gs.logger.Info("http server listening", logging.String("addr", gs.server.Addr))
	if err := gs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener. Safe to call
// more than once.
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("shutting down http server",
			logging.Duration("timeout", timeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("http server shutdown failed", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("http server shutdown complete")
		}
	})
	return err
}

// handleSignals translates process signals into shutdown or reload. It
// exits once shutdown begins.
func (gs *GracefulServer) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // systemd, docker, k8s
		syscall.SIGHUP,  // reload configuration
	)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-gs.shutdownCh:
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				gs.logger.Info("received shutdown signal",
					logging.String("signal", sig.String()))
				if err := gs.Shutdown(DefaultShutdownTimeout); err != nil {
					gs.logger.Error("shutdown failed", logging.Error(err))
				}
				return

			case syscall.SIGHUP:
				gs.logger.Info("received SIGHUP, reloading configuration")
				if err := gs.ReloadConfig(); err != nil {
					gs.logger.Error("configuration reload failed", logging.Error(err))
				}
			}
		}
	}
}

// IsShuttingDown returns true once shutdown has been initiated.
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel closes when shutdown is initiated. The daemon blocks on
// it to sequence component teardown after the HTTP listener stops.
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function invoked on SIGHUP.
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload.
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested but no reload function set")
		return nil
	}

	if err := reloadFn(); err != nil {
		return err
	}
	gs.logger.Info("configuration reload complete")
	return nil
}
