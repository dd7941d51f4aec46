package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/listing-crawler/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	CrawlerMetrics *CrawlerMetrics
	SinkMetrics    *SinkMetrics
	SessionMetrics *SessionMetrics
	Close          func()
}

type CrawlerMetrics struct {
	CompletedCnt func(count int64)
	DroppedCnt   func(count int64)
	FailedCnt    func(count int64)
	RetriedCnt   func(count int64)
	DiscardedCnt func(count int64)
	PostsCnt     func(count int64)
}

type SinkMetrics struct {
	PrimarySuccessCnt   func(count int64)
	PrimaryFailCnt      func(count int64)
	SecondarySuccessCnt func(count int64)
	SecondaryFailCnt    func(count int64)
}

type SessionMetrics struct {
	CreatedCnt func(count int64)
	RetiredCnt func(count int64)
}

// Noop returns a provider whose counters do nothing.
func Noop() *MetricsProvider {
	nop := func(int64) {}
	return &MetricsProvider{
		CrawlerMetrics: &CrawlerMetrics{
			CompletedCnt: nop,
			DroppedCnt:   nop,
			FailedCnt:    nop,
			RetriedCnt:   nop,
			DiscardedCnt: nop,
			PostsCnt:     nop,
		},
		SinkMetrics: &SinkMetrics{
			PrimarySuccessCnt:   nop,
			PrimaryFailCnt:      nop,
			SecondarySuccessCnt: nop,
			SecondaryFailCnt:    nop,
		},
		SessionMetrics: &SessionMetrics{
			CreatedCnt: nop,
			RetiredCnt: nop,
		},
		Close: func() {},
	}
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	if cfg.TelemetrySettings == nil || !cfg.TelemetrySettings.Enabled {
		slog.Debug("telemetry is disabled.")
		return Noop()
	}
	metricsProvider := new(MetricsProvider)

	r, err := newResource(cfg)
	if err != nil {
		slog.Error("failed to get resource.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
	if err != nil {
		slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	meterProvider := newMeterProvider(exporter, *r)
	otel.SetMeterProvider(meterProvider)

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		err := meterProvider.Shutdown(ctx)
		if err != nil {
			slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
		}
	}

	// Set up crawler metrics
	metricsProvider.CrawlerMetrics = &CrawlerMetrics{
		CompletedCnt: counter(ctx, cfg.ServiceName+".requests.completed",
			"The number of requests that were fetched, extracted and delivered", "{requests}"),
		DroppedCnt: counter(ctx, cfg.ServiceName+".requests.dropped",
			"The number of requests dropped after exhausting retries", "{requests}"),
		FailedCnt: counter(ctx, cfg.ServiceName+".requests.failed",
			"The number of requests whose posts the primary sink rejected", "{requests}"),
		RetriedCnt: counter(ctx, cfg.ServiceName+".requests.retried",
			"The number of retry attempts", "{requests}"),
		DiscardedCnt: counter(ctx, cfg.ServiceName+".requests.discarded",
			"The number of pending requests discarded after the max pages ceiling", "{requests}"),
		PostsCnt: counter(ctx, cfg.ServiceName+".posts.extracted",
			"The number of posts extracted from listing pages", "{posts}"),
	}

	// Set up sink metrics
	metricsProvider.SinkMetrics = &SinkMetrics{
		PrimarySuccessCnt: counter(ctx, cfg.ServiceName+".dataset.push.success",
			"The number of batches stored in the dataset", "{batches}"),
		PrimaryFailCnt: counter(ctx, cfg.ServiceName+".dataset.push.fail",
			"The number of batches the dataset could not store", "{batches}"),
		SecondarySuccessCnt: counter(ctx, cfg.ServiceName+".forward.success",
			"The number of batches forwarded to secondary sinks", "{batches}"),
		SecondaryFailCnt: counter(ctx, cfg.ServiceName+".forward.fail",
			"The number of batches secondary sinks could not accept", "{batches}"),
	}

	// Set up session metrics
	metricsProvider.SessionMetrics = &SessionMetrics{
		CreatedCnt: counter(ctx, cfg.ServiceName+".sessions.created",
			"The number of proxy sessions created", "{sessions}"),
		RetiredCnt: counter(ctx, cfg.ServiceName+".sessions.retired",
			"The number of proxy sessions retired by usage or failure", "{sessions}"),
	}

	return metricsProvider
}

func counter(ctx context.Context, name, description, unit string) func(count int64) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		slog.Error("failed to create telemetry counter.", slog.String("name", name),
			slog.String("err", err.Error()))
		os.Exit(1)
	}
	return func(count int64) {
		c.Add(ctx, count)
	}
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
