package tts

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-tts/tts"

type metrics struct {
	requests    metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	timeouts    metric.Int64Counter
	errors      metric.Int64Counter
	synthesis   metric.Float64Histogram
}

func newMetrics(meter metric.Meter, pending func() int, log *slog.Logger) *metrics {
	m, err := buildMetrics(meter, pending)
	if err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(instrumentationName), pending)
	}
	return m
}

func buildMetrics(meter metric.Meter, pending func() int) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.requests, err = meter.Int64Counter("loqa.tts.requests", metric.WithDescription("Say requests received")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("loqa.tts.cache.hits", metric.WithDescription("Sentences served from the cache")); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("loqa.tts.cache.misses", metric.WithDescription("Sentences that had to be synthesized")); err != nil {
		return nil, err
	}
	if m.timeouts, err = meter.Int64Counter("loqa.tts.playback.timeouts", metric.WithDescription("Playbacks never confirmed by a player")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("loqa.tts.errors", metric.WithDescription("Say requests that failed")); err != nil {
		return nil, err
	}
	if m.synthesis, err = meter.Float64Histogram("loqa.tts.synthesis.duration",
		metric.WithDescription("Time spent synthesizing one sentence"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	gauge, err := meter.Int64ObservableGauge("loqa.tts.playback.pending", metric.WithDescription("Playbacks awaiting confirmation"))
	if err != nil {
		return nil, err
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(pending()))
		return nil
	}, gauge); err != nil {
		return nil, err
	}
	return &m, nil
}
