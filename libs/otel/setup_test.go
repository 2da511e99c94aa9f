package otelx

import "testing"

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg := ConfigFromEnv("booking-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.ServiceName != "booking-service" {
		t.Fatalf("service name: got %q", cfg.ServiceName)
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("endpoint: got %q", cfg.OTLPEndpoint)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("sample ratio: got %v", cfg.SampleRatio)
	}
}

func TestConfigFromEnvRejectsBadRatio(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_SAMPLING_RATIO", "1.5")

	cfg := ConfigFromEnv("billing-service")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled")
	}
	if cfg.SampleRatio != 1.0 {
		t.Fatalf("out-of-range ratio should fall back to 1.0, got %v", cfg.SampleRatio)
	}
}
