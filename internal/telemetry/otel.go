package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "cjd"

// InitOtelSDK registers global trace, metric and log providers exporting to
// the given collector over OTLP/HTTP, and forwards logrus entries as OTel log
// records. The returned func flushes and shuts everything down.
func InitOtelSDK(
	ctx context.Context, otelCollectorURL string, pushInterval time.Duration,
) (func(context.Context) error, error) {
	res, err := resource.New(
		ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %s", err)
	}

	shutdownFuncs := make([]func(context.Context) error, 0, 3)
	shutdown := func(ctx context.Context) error {
		var result *multierror.Error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	}

	traceExporter, err := otlptracehttp.New(
		ctx, otlptracehttp.WithEndpointURL(otelCollectorURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %s", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	metricExporter, err := otlpmetrichttp.New(
		ctx, otlpmetrichttp.WithEndpointURL(otelCollectorURL),
	)
	if err != nil {
		// nolint:errcheck
		shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %s", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(pushInterval)),
		),
		sdkmetric.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	logExporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(otelCollectorURL))
	if err != nil {
		// nolint:errcheck
		shutdown(ctx)
		return nil, fmt.Errorf("failed to create log exporter: %s", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	log.AddHook(newLogHook(loggerProvider.Logger(serviceName)))

	log.Infof("otel sdk initialized, exporting to %s", otelCollectorURL)
	return shutdown, nil
}
