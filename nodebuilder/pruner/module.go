package pruner

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"

	"github.com/celestiaorg/state-pruner/libs/fxutil"
	"github.com/celestiaorg/state-pruner/pruner"
)

var log = logging.Logger("module/pruner")

// ConstructModule provides the Pruner over the sharded store and, if enabled,
// the retention Service driving it. The Service requires a
// pruner.VersionSource to be provided.
func ConstructModule(cfg *Config) fx.Option {
	if err := cfg.Validate(); err != nil {
		return fx.Error(err)
	}

	prunerService := fx.Options(
		fx.Provide(fx.Annotate(
			newPrunerService,
			fx.OnStart(func(ctx context.Context, s *pruner.Service) error {
				return s.Start(ctx)
			}),
			fx.OnStop(func(ctx context.Context, s *pruner.Service) error {
				return s.Stop(ctx)
			}),
		)),
		// This is necessary to invoke the pruner service as independent thanks to a
		// quirk in FX.
		fx.Invoke(func(_ *pruner.Service) {}),
	)

	return fx.Module("pruner",
		fx.Supply(cfg),
		fx.Provide(fx.Annotate(
			newPruner,
			fx.OnStop(func(_ context.Context, p *pruner.Pruner) error {
				return p.Close()
			}),
		)),
		fxutil.InvokeIf(MetricsEnabled, pruner.WithPrunerMetrics),
		fxutil.OptionsIf(cfg.EnableService, prunerService),
	)
}
