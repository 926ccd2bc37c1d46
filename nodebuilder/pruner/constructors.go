package pruner

import (
	"context"

	"github.com/celestiaorg/state-pruner/pruner"
	"github.com/celestiaorg/state-pruner/store"
)

func newPruner(ctx context.Context, db *store.DB, cfg *Config) (*pruner.Pruner, error) {
	p, err := pruner.New(ctx, db, cfg.options()...)
	if err != nil {
		return nil, err
	}

	log.Infow("pruner ready", "name", p.Name(), "progress", p.Progress(), "shards", p.NumShards())
	return p, nil
}

func newPrunerService(
	p *pruner.Pruner,
	source pruner.VersionSource,
	cfg *Config,
) (*pruner.Service, error) {
	return pruner.NewService(p, source, cfg.options()...)
}
