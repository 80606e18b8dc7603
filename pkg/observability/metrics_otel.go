package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every ssosync instrument
const MeterName = "github.com/platinummonkey/ssosync"

// OTelMetrics holds OpenTelemetry metric instruments mirroring the
// Prometheus session metrics
type OTelMetrics struct {
	transitions      metric.Int64Counter
	cascades         metric.Int64Counter
	logoutSignals    metric.Int64Counter
	suppressed       metric.Int64Counter
	providerCalls    metric.Int64Counter
	providerDuration metric.Float64Histogram
	storageCleared   metric.Int64Counter
}

var _ SessionRecorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(MeterName))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.transitions, err = meter.Int64Counter(
		"ssosync.session.transitions",
		metric.WithDescription("Session state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	m.cascades, err = meter.Int64Counter(
		"ssosync.session.cascades",
		metric.WithDescription("Forced logouts propagated from an app instance"),
		metric.WithUnit("{cascade}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascades counter: %w", err)
	}

	m.logoutSignals, err = meter.Int64Counter(
		"ssosync.hub.logout_signals",
		metric.WithDescription("Logout signals observed by the hub"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout signals counter: %w", err)
	}

	m.suppressed, err = meter.Int64Counter(
		"ssosync.redirect.suppressed",
		metric.WithDescription("Navigation attempts dropped because another was in flight"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create suppressed redirects counter: %w", err)
	}

	m.providerCalls, err = meter.Int64Counter(
		"ssosync.provider.calls",
		metric.WithDescription("Calls into the identity provider client"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider calls counter: %w", err)
	}

	m.providerDuration, err = meter.Float64Histogram(
		"ssosync.provider.duration",
		metric.WithDescription("Identity provider call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider duration histogram: %w", err)
	}

	m.storageCleared, err = meter.Int64Counter(
		"ssosync.storage.entries_cleared",
		metric.WithDescription("Credential entries removed by clear-all"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage cleared counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) Transition(app, from, to string) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *OTelMetrics) Cascade(app, role, trigger string) {
	m.cascades.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("role", role),
		attribute.String("trigger", trigger),
	))
}

func (m *OTelMetrics) LogoutSignal(app, outcome string) {
	m.logoutSignals.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("outcome", outcome),
	))
}

func (m *OTelMetrics) RedirectSuppressed(app string) {
	m.suppressed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("app", app)))
}

func (m *OTelMetrics) ProviderCall(app, op, outcome string, duration time.Duration) {
	ctx := context.Background()
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	m.providerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("op", op),
	))
}

func (m *OTelMetrics) StorageCleared(app string, entries int) {
	m.storageCleared.Add(context.Background(), int64(entries), metric.WithAttributes(attribute.String("app", app)))
}
