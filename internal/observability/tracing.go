package observability

import (
	"context"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/config"
	"github.com/prefeitura-rio/app-sync/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer owns the OTLP tracer provider lifecycle.
type Tracer struct {
	provider *sdktrace.TracerProvider
	logger   *logging.SafeLogger
}

// InitTracer initializes the OpenTelemetry tracer. When tracing is disabled
// it returns a no-op Tracer whose Shutdown does nothing.
func InitTracer(cfg *config.Config, logger *logging.SafeLogger) *Tracer {
	t := &Tracer{logger: logger}

	if !cfg.TracingEnabled {
		logger.Info("tracing is disabled")
		return t
	}

	ctx := context.Background()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.TracingEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		logger.Error("failed to create OTLP exporter", zap.Error(err))
		return t
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("app-sync"),
			semconv.ServiceVersionKey.String("v1.0.0"),
		),
	)
	if err != nil {
		logger.Error("failed to create resource", zap.Error(err))
		return t
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(time.Second*10),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracer initialized")
	return t
}

// Shutdown shuts down the tracer provider.
func (t *Tracer) Shutdown() {
	if t.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shutdown tracer provider", zap.Error(err))
	}
}
