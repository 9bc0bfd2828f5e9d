package telemetry

import (
	"github.com/honeycombio/honeycomb-opentelemetry-go"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Setup configures the global tracer and meter providers from the standard OTEL_* environment.
// Baggage set on a request is copied onto every span started under it. The returned func flushes
// and shuts down the exporters.
func Setup(serviceName string, logger *zap.Logger, opts ...otelconfig.Option) (func(), error) {
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("opentelemetry", zap.Error(err))
	}))

	opts = append([]otelconfig.Option{
		otelconfig.WithServiceName(serviceName),
		otelconfig.WithSpanProcessor(honeycomb.NewBaggageSpanProcessor()),
	}, opts...)
	return otelconfig.ConfigureOpenTelemetry(opts...)
}
