package nodebuilder

import (
	"context"

	"go.uber.org/fx"

	"github.com/celestiaorg/state-pruner/libs/fxutil"
	"github.com/celestiaorg/state-pruner/nodebuilder/pruner"
)

func ConstructModule(cfg *Config, store Store) fx.Option {
	if err := cfg.Validate(); err != nil {
		return fx.Error(err)
	}

	baseComponents := fx.Options(
		fx.Provide(func(lc fx.Lifecycle) context.Context {
			return fxutil.WithLifecycle(context.Background(), lc)
		}),
		fx.Supply(cfg),
		fx.Provide(store.DB),
		// modules provided by the node
		pruner.ConstructModule(&cfg.Pruner),
	)

	return fx.Module(
		"node",
		baseComponents,
	)
}
