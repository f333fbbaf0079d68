package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/dealcadence/internal/config"
)

const envPrefix = "DEALCADENCE_"

// Config is the observability view of the process configuration. Every key
// may be overridden with a DEALCADENCE_ prefixed variable.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	TracesProtocol       string
	MetricsProtocol      string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	protocol := lower(lookup("grpc", "OTEL_EXPORTER_OTLP_PROTOCOL"))

	ratio := lookupFloat(0.1, "OTEL_SAMPLING_RATIO")
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          lookup(fallback(cfg.AppName, "dealcadence"), "SERVICE_NAME"),
		Environment:          lookup(cfg.Environment, "DEPLOYMENT_ENV"),
		Version:              lookup(cfg.AppVersion, "SERVICE_VERSION"),
		LogLevel:             lower(lookup("info", "LOG_LEVEL")),
		LogFormat:            lower(lookup("json", "LOG_FORMAT")),
		OtelEnabled:          lookupBool(true, "OTEL_ENABLED"),
		OtelExporterEndpoint: lookup(cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracesProtocol:       lower(lookup(protocol, "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")),
		MetricsProtocol:      lower(lookup(protocol, "OTEL_EXPORTER_OTLP_METRICS_PROTOCOL")),
		OtelSamplingRatio:    ratio,
	}
}

// Debug enables verbose logging, stack traces and the pprof routes.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// lookup returns the first non-empty value among the prefixed and plain forms
// of each key, or def.
func lookup(def string, keys ...string) string {
	for _, key := range keys {
		for _, name := range []string{envPrefix + key, key} {
			if value := strings.TrimSpace(os.Getenv(name)); value != "" {
				return value
			}
		}
	}
	return strings.TrimSpace(def)
}

func lookupBool(def bool, keys ...string) bool {
	switch lower(lookup("", keys...)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func lookupFloat(def float64, keys ...string) float64 {
	value := lookup("", keys...)
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
