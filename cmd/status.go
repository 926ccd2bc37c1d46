package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/state-pruner/nodebuilder"
	"github.com/celestiaorg/state-pruner/pruner"
)

// Status reports the persisted pruning progress.
type Status struct {
	Name          string   `json:"name"`
	Shards        int      `json:"shards"`
	Overall       uint64   `json:"overall_progress"`
	ShardProgress []uint64 `json:"shard_progress"`
}

// StatusCmd constructs a CLI command printing the persisted pruning progress
// of every shard without pruning anything.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Prints the pruning progress of the top levels and every data shard.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()

			store, err := nodebuilder.OpenStore(StorePath(ctx))
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, store.Close())
			}()

			cfg, err := store.Config()
			if err != nil {
				return err
			}
			db, err := store.DB(ctx)
			if err != nil {
				return err
			}

			progress, err := pruner.LoadProgress(ctx, db, cfg.Pruner.Name)
			if err != nil {
				return err
			}
			return PrintOutput(cmd, Status{
				Name:          cfg.Pruner.Name,
				Shards:        db.NumShards(),
				Overall:       progress.Overall,
				ShardProgress: progress.Shards,
			}, nil)
		},
	}
}
