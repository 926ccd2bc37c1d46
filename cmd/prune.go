package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/celestiaorg/state-pruner/nodebuilder"
)

var (
	targetFlag    = "target"
	batchSizeFlag = "batch-size"
)

// PruneFlags gives the flags of a single pruning run.
func PruneFlags() *flag.FlagSet {
	flags := &flag.FlagSet{}

	flags.Uint64(
		targetFlag,
		0,
		"Version up to which stale nodes are pruned",
	)
	flags.Int(
		batchSizeFlag,
		0,
		"Maximum amount of stale nodes deleted from a shard by a single commit. Defaults to the configured one",
	)
	return flags
}

// Prune constructs a CLI command pruning the store once up to the target
// version. An interrupted run is resumed by the next one.
func Prune(fsets ...*flag.FlagSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Prunes stale nodes up to the given target version and exits.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if !cmd.Flags().Changed(targetFlag) {
				return errors.New("cmd: --target is required")
			}
			target, err := cmd.Flags().GetUint64(targetFlag)
			if err != nil {
				return err
			}

			cfg := NodeConfig(ctx)
			batchSize, err := cmd.Flags().GetInt(batchSizeFlag)
			if err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = cfg.Pruner.BatchSize
			}
			// a single run needs no retention service
			cfg.Pruner.EnableService = false

			store, err := nodebuilder.OpenStore(StorePath(ctx))
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, store.Close())
			}()

			nd, err := nodebuilder.NewWithConfig(store, &cfg, NodeOptions(ctx)...)
			if err != nil {
				return err
			}
			if err = nd.Start(ctx); err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, nd.Stop(cmd.Context()))
			}()

			from := nd.Pruner.Progress()
			if err = nd.Pruner.SetTargetVersion(target); err != nil {
				return err
			}
			reached, err := nd.Pruner.Prune(ctx, batchSize)
			if err != nil {
				return err
			}
			return PrintOutput(cmd, struct {
				From    uint64 `json:"from"`
				Reached uint64 `json:"reached"`
				Target  uint64 `json:"target"`
			}{from, reached, target}, nil)
		},
	}
	for _, set := range fsets {
		cmd.Flags().AddFlagSet(set)
	}
	return cmd
}
