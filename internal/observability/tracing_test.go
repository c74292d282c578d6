package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "true")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "infrastructure-simulator" {
		t.Fatalf("default service name = %q", cfg.ServiceName)
	}
}

func TestTracingConfigClampsRatio(t *testing.T) {
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "7")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Fatalf("sample ratio = %v, want clamped to 1", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Fatalf("tracer provider = %T, want noop", otel.GetTracerProvider())
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
