package telemetry

import (
	"context"
	"testing"

	"github.com/coachpo/trolley/internal/infra/config"
)

func TestInitWithoutEndpointReturnsNoop(t *testing.T) {
	providers, shutdown, err := Init(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if providers.MeterProvider == nil {
		t.Fatal("expected meter provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitDisabledMetricsReturnsNoop(t *testing.T) {
	cfg := config.TelemetryConfig{OTLPEndpoint: "otel:4318", EnableMetrics: false}
	providers, shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if providers.MeterProvider == nil {
		t.Fatal("expected meter provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("https://collector.example.com:4318")
	if err != nil {
		t.Fatalf("parseEndpoint: %v", err)
	}
	if host != "collector.example.com:4318" {
		t.Fatalf("unexpected host %q", host)
	}
	if insecure {
		t.Fatal("expected secure for https scheme")
	}

	host, insecure, err = parseEndpoint("collector:4318")
	if err != nil {
		t.Fatalf("parseEndpoint: %v", err)
	}
	if host != "collector:4318" {
		t.Fatalf("unexpected host %q", host)
	}
	if !insecure {
		t.Fatal("expected insecure for bare host")
	}
}
