package core

import (
	"context"
	"time"

	"housingcore/pkg/domain"
)

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports UTC wall time.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

// Logger is the structured logging surface used by the service. Key/value
// pairs follow the message.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// BatchMetricsRecorder is optionally implemented by recorders that also count
// per-entry batch outcomes.
type BatchMetricsRecorder interface {
	ObserveBatchEntry(ctx context.Context, operation string, status domain.BatchStatus)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// EventPublisher announces committed occupancy changes.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.OccupancyEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.OccupancyEvent) error { return nil }

// Option customises a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	engine  *RulesEngine
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	events  EventPublisher
	ids     func() string
}

func defaultOptions() serviceOptions {
	return serviceOptions{
		engine:  NewDefaultRulesEngine(),
		clock:   ClockFunc(nil),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		events:  noopPublisher{},
		ids:     newEventID,
	}
}

// WithRulesEngine replaces the invariant rules engine. A nil engine disables
// invariant evaluation.
func WithRulesEngine(engine *RulesEngine) Option {
	return func(o *serviceOptions) { o.engine = engine }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithEventPublisher sets the publisher notified after each committed change.
func WithEventPublisher(events EventPublisher) Option {
	return func(o *serviceOptions) {
		if events != nil {
			o.events = events
		}
	}
}
