package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events. It satisfies the
// engine's lifecycle instrumentation hooks.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	eventFile *JSONLinesSink
}

// NewTelemetry creates a new telemetry instance from configuration. Events
// are published when a sink is configured or Events.Enabled is set.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	eventsCfg := cfg.Events
	eventsCfg.Enabled = eventsCfg.Enabled || eventsCfg.hasSinks()
	events, err := NewEventPublisher(eventsCfg)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
	if err := t.attachEventSinks(); err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, err
	}
	return t, nil
}

func (t *Telemetry) attachEventSinks() error {
	cfg := t.Config.Events

	var filter EventFilter
	if cfg.MinLevel != "" {
		filter = FilterByLevel(cfg.MinLevel)
	}

	if cfg.Log {
		t.Events.Subscribe(LogSubscriber(t.Logger.NewComponentLogger("events").Zerolog()), filter)
	}
	if cfg.File != "" {
		sink, err := OpenJSONLinesSink(cfg.File)
		if err != nil {
			return err
		}
		t.Events.Subscribe(sink.Write, filter)
		t.eventFile = sink
	}
	return nil
}

// Shutdown pushes metrics when a Pushgateway is configured, drains events
// into their sinks, then stops tracing.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.PushMetrics(ctx, nil); err != nil {
		t.Logger.WithError(err).Warn("Failed to push metrics")
	}

	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if t.eventFile != nil {
		if err := t.eventFile.Close(); err != nil {
			t.Logger.WithError(err).Warn("Failed to write events")
		}
	}

	return t.Tracer.Shutdown(ctx)
}

// published logs an event the publisher could not accept.
func (t *Telemetry) published(err error) {
	if err != nil {
		z := t.Logger.Zerolog()
		z.Debug().Err(err).Msg("Event dropped")
	}
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// PushMetrics pushes metrics to the configured Pushgateway, if any.
func (t *Telemetry) PushMetrics(ctx context.Context, groupings map[string]string) error {
	return t.Metrics.Push(ctx, t.Config.Metrics.PushURL, t.Config.Metrics.Job, groupings)
}

// Lifecycle hooks

type runSpanKey struct{}

type laneSpanKey struct{}

type collectSpanKey struct{}

// RunStarted opens the run span and counts the run.
func (t *Telemetry) RunStarted(ctx context.Context, runID, trigger string) context.Context {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, trigger)
	ctx = context.WithValue(ctx, runSpanKey{}, span)

	t.Metrics.RecordRunStarted(trigger)
	t.published(t.Events.PublishRunStarted(runID, trigger))
	return ctx
}

// RunFinished closes the run span and records the final status.
func (t *Telemetry) RunFinished(ctx context.Context, runID, status string, duration time.Duration, err error) {
	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		endSpan(span, err)
	}

	t.Metrics.RecordRunCompleted(status, duration)
	t.published(t.Events.PublishRunCompleted(runID, status, duration, err))
}

// ConfigurationRejected records a run rejected before any lane started.
func (t *Telemetry) ConfigurationRejected(ctx context.Context, runID, code, reason string) {
	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		AddEvent(span, "configuration.rejected", AttrErrorCode.String(code))
	}

	t.Metrics.RecordConfigurationError(code)
	t.published(t.Events.PublishRunRejected(runID, code, reason))
}

// LaneStarted opens the lane span.
func (t *Telemetry) LaneStarted(ctx context.Context, runID, laneID string) context.Context {
	ctx, span := t.Tracer.StartLaneSpan(ctx, runID, laneID)
	ctx = context.WithValue(ctx, laneSpanKey{}, span)

	t.Metrics.RecordLaneStarted()
	t.published(t.Events.PublishLaneStarted(runID, laneID))
	return ctx
}

// LaneFinished closes the lane span and records the outcome.
func (t *Telemetry) LaneFinished(ctx context.Context, runID, laneID, outcome string, duration time.Duration, err error) {
	if span, ok := ctx.Value(laneSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrLaneOutcome.String(outcome))
		endSpan(span, err)
	}

	t.Metrics.RecordLaneExecution(laneID, outcome, duration)
	t.published(t.Events.PublishLaneFinished(runID, laneID, outcome, duration, err))
}

// LaneSkipped records a lane that never ran.
func (t *Telemetry) LaneSkipped(ctx context.Context, runID, laneID, reason string) {
	t.Metrics.RecordLaneSkipped(laneID, reason)
	t.published(t.Events.PublishLaneSkipped(runID, laneID, reason))
}

// CollectStarted opens the collection span.
func (t *Telemetry) CollectStarted(ctx context.Context, runID, laneID string) context.Context {
	ctx, span := t.Tracer.StartCollectSpan(ctx, runID, laneID)
	return context.WithValue(ctx, collectSpanKey{}, span)
}

// ArtifactCollected closes the collection span and records the upload.
func (t *Telemetry) ArtifactCollected(ctx context.Context, runID, laneID, name string, uploaded bool, err error) {
	if span, ok := ctx.Value(collectSpanKey{}).(trace.Span); ok {
		span.SetAttributes(
			AttrArtifactName.String(name),
			AttrArtifactUploaded.Bool(uploaded),
		)
		endSpan(span, err)
	}

	t.Metrics.RecordArtifact(laneID, uploaded)
	t.published(t.Events.PublishArtifactCollected(runID, laneID, name, uploaded, err))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
