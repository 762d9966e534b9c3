package config

import (
	"github.com/openfroyo/lanekeeper/pkg/telemetry"
)

// TelemetryConfig maps the telemetry section onto a telemetry.Config for the
// given service version. ci selects JSON logs without colors.
func (c *Config) TelemetryConfig(version string, ci bool) *telemetry.Config {
	out := telemetry.DefaultConfig()
	if ci {
		out = telemetry.CIConfig()
	}
	if version != "" {
		out.ServiceVersion = version
	}

	tel := c.Telemetry
	out.Logging.Level = tel.Logging.Level
	if tel.Logging.Format != "" {
		out.Logging.Format = tel.Logging.Format
	}
	out.Logging.Output = tel.Logging.Output

	out.Metrics.Enabled = tel.Metrics.Enabled
	out.Metrics.Namespace = tel.Metrics.Namespace
	out.Metrics.PushURL = tel.Metrics.PushURL
	out.Metrics.Job = tel.Metrics.Job

	out.Tracing.Enabled = tel.Tracing.Enabled
	out.Tracing.Exporter = tel.Tracing.Exporter
	out.Tracing.Endpoint = tel.Tracing.Endpoint
	out.Tracing.SamplingRate = tel.Tracing.SamplingRate
	out.Tracing.Insecure = tel.Tracing.Insecure

	out.Events.File = tel.Events.File
	out.Events.Log = tel.Events.Log
	out.Events.MinLevel = tel.Events.MinLevel

	return out
}
