package instrumentation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// DefaultServiceName is reported as service.name unless OTEL_SERVICE_NAME is set.
const DefaultServiceName = "google-token-relay"

// Exporter names accepted by METRICS_EXPORTER and TRACING_EXPORTER.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Relay outcome label values.
const (
	OutcomeSuccess          = "success"
	OutcomeProviderError    = "provider_error"
	OutcomeBadRequest       = "bad_request"
	OutcomeConfigError      = "config_error"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeUpstreamError    = "upstream_error"
)

// defaultSamplingRate keeps a tenth of relay traces when tracing is on.
const defaultSamplingRate = 0.1

// Config selects where relay telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID defaults to the hostname.
	ServiceInstanceID string

	Enabled bool

	// MetricsExporter is prometheus, otlp or stdout. Empty means prometheus.
	MetricsExporter string

	// TracingExporter is otlp, stdout or none. Empty means none.
	TracingExporter string

	// OTLPEndpoint is host:port without a scheme, e.g. "localhost:4318".
	OTLPEndpoint string
	OTLPInsecure bool

	// TraceSamplingRate is the ratio of root spans kept, 0.0 to 1.0.
	TraceSamplingRate float64
}

// ConfigFromEnv reads the instrumentation settings for a relay of the given
// version. Values that cannot be parsed are reported instead of ignored.
func ConfigFromEnv(version string) (Config, error) {
	var env envReader
	cfg := Config{
		ServiceName:       env.str("OTEL_SERVICE_NAME", DefaultServiceName),
		ServiceVersion:    version,
		ServiceInstanceID: env.str("OTEL_SERVICE_INSTANCE_ID", ""),
		Enabled:           env.boolean("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   env.str("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   env.str("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      env.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      env.boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: env.float("OTEL_TRACES_SAMPLER_ARG", defaultSamplingRate),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks exporter names, sampling rate and the OTLP endpoint.
func (c Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate)
	}

	switch c.metricsExporter() {
	case ExporterPrometheus, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when using OTLP metrics exporter")
		}
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.tracingExporter() {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when using OTLP tracing exporter")
		}
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	return nil
}

func (c Config) metricsExporter() string {
	if c.MetricsExporter == "" {
		return ExporterPrometheus
	}
	return c.MetricsExporter
}

func (c Config) tracingExporter() string {
	if c.TracingExporter == "" {
		return ExporterNone
	}
	return c.TracingExporter
}

// envReader reads typed environment values and collects parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return b
}

func (e *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return f
}
