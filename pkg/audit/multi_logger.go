package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/ssosync/pkg/async"
	"github.com/platinummonkey/ssosync/pkg/observability"
)

// maxKeptErrors bounds the async write failures held for Errors
const maxKeptErrors = 64

// MultiLogger fans each event out to several sinks, e.g. the audit file and
// the process log. Async writes run off the request path; their failures are
// logged and kept for Errors.
type MultiLogger struct {
	sinks      []Logger
	syncWrites bool
	logger     *observability.Logger

	pending sync.WaitGroup
	mu      sync.Mutex
	errs    []error
}

// MultiOption customizes a MultiLogger
type MultiOption func(*MultiLogger)

// WithSyncWrites makes Log write every sink before returning
func WithSyncWrites() MultiOption {
	return func(m *MultiLogger) { m.syncWrites = true }
}

// WithErrorLogger sets where async write failures are reported
func WithErrorLogger(l *observability.Logger) MultiOption {
	return func(m *MultiLogger) { m.logger = l }
}

// NewMultiLogger writes every event to each sink, asynchronously by default
func NewMultiLogger(sinks []Logger, opts ...MultiOption) *MultiLogger {
	m := &MultiLogger{
		sinks:  sinks,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log writes event to every sink. In sync mode the failures of all sinks are
// joined; async writes outlive the caller's context and always return nil.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if m.syncWrites {
		var errs []error
		for _, sink := range m.sinks {
			if err := sink.Log(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	detached := observability.WithLogger(context.WithoutCancel(ctx), m.logger)
	for _, sink := range m.sinks {
		sink := sink
		m.pending.Add(1)
		async.SafeGo(detached, 0, "audit write", func(ctx context.Context) error {
			defer m.pending.Done()
			if err := sink.Log(ctx, event); err != nil {
				m.failed(event, err)
			}
			return nil
		})
	}
	return nil
}

func (m *MultiLogger) failed(event *Event, err error) {
	m.mu.Lock()
	if len(m.errs) < maxKeptErrors {
		m.errs = append(m.errs, err)
	}
	m.mu.Unlock()
	m.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("audit write failed")
}

// Wait blocks until pending async writes finish
func (m *MultiLogger) Wait() {
	m.pending.Wait()
}

// Errors returns and forgets the async write failures seen so far
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending writes, then closes every sink
func (m *MultiLogger) Close() error {
	m.pending.Wait()

	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
