package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Shutdown drains events and flushes traces.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer serves metrics on the configured address, or addr when non-empty.
func (t *Telemetry) StartMetricsServer(ctx context.Context, addr string) error {
	if addr == "" {
		addr = t.Config.Metrics.ListenAddress
	}
	return t.Metrics.StartMetricsServer(ctx, addr)
}

// RecordActionOperation wraps one resource action call with a span and metrics.
func RecordActionOperation(ctx context.Context, tracer *Tracer, metrics *Metrics, actions, step, phase string, fn func(ctx context.Context) error) error {
	var span trace.Span
	if tracer != nil {
		ctx, span = tracer.StartActionSpan(ctx, actions, step, phase)
		defer span.End()
	}

	timer := NewTimer()
	err := fn(ctx)

	metrics.RecordActionCall(actions, phase, timer.Duration(), err)
	if span != nil {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}
	return err
}
