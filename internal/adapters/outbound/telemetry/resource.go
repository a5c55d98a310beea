// Package telemetry wires the OpenTelemetry meter and tracer providers for the
// executor binaries.
//
// Both exporters speak OTLP over gRPC. Without an endpoint metrics stay on the
// global no-op provider and traces are either dropped or printed to stdout.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// ServiceInfo identifies the process in exported telemetry.
type ServiceInfo struct {
	// ServiceName is the name of the service (e.g., "stl-trade").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "development", "production").
	Environment string
}

func (s ServiceInfo) withDefaults() ServiceInfo {
	if s.ServiceName == "" {
		s.ServiceName = "stl-trade"
	}
	if s.ServiceVersion == "" {
		s.ServiceVersion = "0.1.0"
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	return s
}

func newResource(info ServiceInfo) (*resource.Resource, error) {
	info = info.withDefaults()
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(info.ServiceName),
			semconv.ServiceVersion(info.ServiceVersion),
			semconv.DeploymentEnvironmentName(info.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func noopShutdown(_ context.Context) error { return nil }
