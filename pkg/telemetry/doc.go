// Package telemetry provides logging, tracing, metrics and lifecycle events
// for lanekeeper runs.
//
// Logging uses zerolog. Tracing uses OpenTelemetry with otlp, stdout or no
// exporter. Metrics are Prometheus collectors on a private registry that is
// pushed to a Pushgateway when the process ends, since a run is too short
// lived to be scraped. Events fan lifecycle notifications out to sinks: a
// JSON-lines file (Events.File) and the process log (Events.Log).
//
// # Usage
//
//	cfg := telemetry.CIConfig()
//	cfg.Metrics.PushURL = "http://pushgateway:9091"
//	cfg.Events.File = "artifacts/events.jsonl"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	scheduler := engine.NewLaneScheduler(lanes, runner, store, engine.SchedulerOptions{
//	    Instrumentation: tel,
//	    Logger:          tel.Logger.NewComponentLogger("engine").Zerolog(),
//	})
//
// Telemetry implements the scheduler's lifecycle hooks. Each run gets a
// run.execute span with lane.execute and lane.collect children, and the
// metrics below.
//
// # Metrics
//
//   - runs_started_total{trigger}
//   - runs_completed_total{status}, run_duration_seconds{status}
//   - lanes_executed_total{lane,outcome}, lane_duration_seconds{lane}
//   - lane_timeouts_total{lane}, lanes_skipped_total{lane,reason}
//   - artifacts_total{lane,uploaded}
//   - configuration_errors_total{code}
//   - active_lanes
//
// All names carry the configured namespace prefix.
package telemetry
