package config

// ObservabilityConfig holds observability configuration for the
// logging/tracing/metrics stack.
type ObservabilityConfig struct {
	OTelEnabled   bool   `env:"JOBQUEUE_OTEL_ENABLED"`
	OTelCollector string `env:"JOBQUEUE_OTEL_COLLECTOR"`
}
