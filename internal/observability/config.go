package observability

import (
	"strings"

	"github.com/smallbiznis/swimreg/internal/config"
)

// Config is the slice of application config the logger, tracer and meter
// providers are built from.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: obs.OtelProtocol,
		OtelSamplingRatio:    obs.SamplingRatio,
	}
	if out.ServiceName == "" {
		out.ServiceName = "swimreg"
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if out.LogFormat == "" {
		out.LogFormat = "json"
	}
	if out.OtelExporterProtocol == "" {
		out.OtelExporterProtocol = "grpc"
	}
	if out.OtelSamplingRatio <= 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = 0.1
	}
	return out
}

// Debug turns on development logging for debug level or a local environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
