package config

import (
	"strings"

	nativecommon "nhbledger/native/common"
	"nhbledger/observability/otel"
)

// Telemetry controls the OTLP exporters. An empty endpoint leaves telemetry
// disabled.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
	// SampleRatio keeps this fraction of root spans; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Enabled reports whether any exporter should be started.
func (t Telemetry) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" && (t.Metrics || t.Traces)
}

// OTel converts the section into exporter settings for service.
func (t Telemetry) OTel(service, env string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    strings.TrimSpace(t.Endpoint),
		Insecure:    t.Insecure,
		Headers:     otel.ParseHeaders(t.Headers),
		Metrics:     t.Metrics,
		Traces:      t.Traces,
		SampleRatio: t.SampleRatio,
	}
}

// Pauses returns the pause view for the configured module list.
func (c *Config) Pauses() nativecommon.StaticPauses {
	return nativecommon.NewStaticPauses(c.PausedModules)
}
