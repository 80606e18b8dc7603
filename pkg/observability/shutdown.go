package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager handles graceful shutdown of services
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
	once            sync.Once
	err             error
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = NewNopLogger()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// RegisterServer adds an HTTP server that is drained before the shutdown funcs run
func (sm *ShutdownManager) RegisterServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc registers a function to call during shutdown
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		sm.logger.Info("Context done, starting graceful shutdown")
	} else {
		sm.logger.Info("Received signal, starting graceful shutdown")
	}
	return sm.Shutdown()
}

// Shutdown drains the servers and then runs the shutdown funcs concurrently.
// It runs once; later calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]namedShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var errs []error
	for _, server := range servers {
		sm.logger.WithField("addr", server.Addr).Info("Shutting down HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("HTTP server %s shutdown failed: %w", server.Addr, err))
		}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(funcs))

	for _, f := range funcs {
		wg.Add(1)
		go func(f namedShutdownFunc) {
			defer wg.Done()
			log := sm.logger.WithField("component", f.name)
			if err := f.fn(ctx); err != nil {
				log.WithError(err).Error("Shutdown function failed")
				errChan <- fmt.Errorf("%s: %w", f.name, err)
				return
			}
			log.Debug("Shutdown function complete")
		}(f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return errors.Join(append(errs, fmt.Errorf("shutdown timeout reached"))...)
	}

	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
