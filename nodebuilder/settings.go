package nodebuilder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.11.0"
	"go.uber.org/fx"

	modpruner "github.com/celestiaorg/state-pruner/nodebuilder/pruner"
	"github.com/celestiaorg/state-pruner/pruner"
	"github.com/celestiaorg/state-pruner/store"
)

// metricsInterval is the interval at which metrics are collected and exported.
const metricsInterval = time.Second * 10

// WithVersionSource sets the source of the latest committed version the
// retention Service prunes behind.
func WithVersionSource(source pruner.VersionSource) fx.Option {
	return fx.Provide(func() pruner.VersionSource { return source })
}

// WithMetrics enables metrics exporting for the node.
func WithMetrics(enable bool, metricOpts []otlpmetrichttp.Option) fx.Option {
	if !enable {
		return fx.Options()
	}

	modpruner.MetricsEnabled = true
	return fx.Options(
		fx.Supply(metricOpts),
		fx.Invoke(InitializeMetrics),
		fx.Decorate(func(db *store.DB) (*store.DB, error) {
			return db, db.WithMetrics()
		}),
	)
}

// InitializeMetrics initializes the global meter provider.
func InitializeMetrics(
	ctx context.Context,
	lc fx.Lifecycle,
	cfg *Config,
	opts []otlpmetrichttp.Option,
) error {
	opts = append([]otlpmetrichttp.Option{
		otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
	}, opts...)
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	provider := sdk.NewMeterProvider(
		sdk.WithReader(
			sdk.NewPeriodicReader(exp,
				sdk.WithTimeout(metricsInterval),
				sdk.WithInterval(metricsInterval))),
		sdk.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNamespaceKey.String("state-pruner"),
				semconv.ServiceNameKey.String(cfg.Pruner.Name),
			)))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	otel.SetMeterProvider(provider)
	return nil
}
