package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on the telemetry resource
const ServiceVersion = "1.0.0"

// shutdownTimeout bounds the final export of each signal. Data of a sync
// still running at shutdown is dropped once it passes.
const shutdownTimeout = 10 * time.Second

// newResource describes this service for every exported signal
func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownSignal flushes and stops one signal provider within shutdownTimeout
func shutdownSignal(ctx context.Context, logger *zap.Logger, signal string, shutdown func(context.Context) error) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down telemetry provider", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("failed to shutdown %s provider: %w", signal, err)
	}
	logger.Info("Telemetry provider shutdown complete", zap.String("signal", signal))
	return nil
}
