package tracing

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	// Enabled enables/disables tracing
	Enabled bool `env:"TRACING_ENABLED" envDefault:"false"`

	// ServiceName is the service name for traces
	ServiceName string `env:"TRACING_SERVICE_NAME" envDefault:"remux"`

	// ServiceVersion is the service version
	ServiceVersion string `env:"TRACING_SERVICE_VERSION" envDefault:""`

	// Endpoint is the OTLP endpoint URL
	Endpoint string `env:"TRACING_ENDPOINT" envDefault:""`

	// Insecure skips TLS verification
	Insecure bool `env:"TRACING_INSECURE" envDefault:"false"`

	// Headers contains additional headers for OTLP export
	Headers map[string]string `env:"TRACING_HEADERS"`

	// ExporterType specifies the exporter type: "grpc" or "http"
	ExporterType string `env:"TRACING_EXPORTER" envDefault:"grpc"`

	// SamplingStrategy is "always" or "rate"
	SamplingStrategy string `env:"TRACING_SAMPLING_STRATEGY" envDefault:"always"`

	// SamplingRate is the desired traces per second for the "rate"
	// strategy, against a baseline of 100 spans per second
	SamplingRate float64 `env:"TRACING_SAMPLING_RATE" envDefault:"100"`
}

// DefaultTracingConfig returns a default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:          false,
		ServiceName:      "remux",
		Endpoint:         "",
		Insecure:         false,
		Headers:          make(map[string]string),
		ExporterType:     "grpc",
		SamplingStrategy: "always",
		SamplingRate:     100,
	}
}
