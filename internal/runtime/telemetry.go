package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const serviceNamespace = "loqa"

// telemetryResource describes this node to trace and metric backends. The
// node id doubles as the service instance so several brokers on one bus stay
// distinguishable.
func telemetryResource(cfg config.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ServiceName(cfg.RuntimeName),
		semconv.ServiceVersion(Version),
		semconv.ServiceInstanceID(cfg.Node.ID),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("loqa.node.role", cfg.Node.Role),
		attribute.String("loqa.tts.mode", cfg.TTS.Mode),
		attribute.Bool("loqa.tts.local_playback", cfg.TTS.PlayCommand != ""),
	}
	if len(cfg.TTS.SiteIDs) > 0 {
		attrs = append(attrs, attribute.StringSlice("loqa.tts.site_ids", cfg.TTS.SiteIDs))
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := telemetryResource(cfg)
	if err != nil {
		return nil, nil, err
	}

	exporter, name, err := traceExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, err
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	traceProvider := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := initMetrics(res, logger)
	otel.SetMeterProvider(meterProvider)

	logger.Info("telemetry initialized",
		slog.String("trace_exporter", name),
		slog.Bool("metrics_endpoint", metricHandler != nil),
		slog.String("node_id", cfg.Node.ID))

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}
	return shutdown, metricHandler, nil
}

// traceExporter picks the span exporter. OTLP wins over stdout; with
// neither configured spans are still created but never leave the process.
func traceExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		return exp, "otlp", err
	}
	if cfg.StdoutTraces {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		return exp, "stdout", err
	}
	return nil, "none", nil
}

// initMetrics backs the otel meter with a prometheus registry. If the
// exporter cannot be built metrics are still recorded, just not served.
func initMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.Handler()
}
