package pruner

import (
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

var (
	serviceFlag         = "pruner.service"
	batchSizeFlag       = "pruner.batch-size"
	maxWorkersFlag      = "pruner.max-workers"
	retentionWindowFlag = "pruner.retention-window"
	pruneCycleFlag      = "pruner.cycle"
)

func Flags() *flag.FlagSet {
	flags := &flag.FlagSet{}

	flags.Bool(
		serviceFlag,
		true,
		"Enables the retention service, periodically pruning versions older than the retention window.",
	)
	flags.Int(
		batchSizeFlag,
		0,
		"Maximum amount of stale nodes deleted from a shard by a single commit.",
	)
	flags.Int(
		maxWorkersFlag,
		0,
		"Maximum amount of shards pruned concurrently.",
	)
	flags.Uint64(
		retentionWindowFlag,
		0,
		"Amount of latest versions kept readable by the retention service.",
	)
	flags.Duration(
		pruneCycleFlag,
		0,
		"Frequency at which the retention service runs.",
	)
	return flags
}

// ParseFlags applies the changed flags onto the config.
func ParseFlags(
	cmd *cobra.Command,
	cfg *Config,
) {
	if cmd.Flags().Changed(serviceFlag) {
		enabled, err := cmd.Flags().GetBool(serviceFlag)
		if err != nil {
			panic(err)
		}
		cfg.EnableService = enabled
	}

	if cmd.Flags().Changed(batchSizeFlag) {
		size, err := cmd.Flags().GetInt(batchSizeFlag)
		if err != nil {
			panic(err)
		}
		cfg.BatchSize = size
	}

	if cmd.Flags().Changed(maxWorkersFlag) {
		workers, err := cmd.Flags().GetInt(maxWorkersFlag)
		if err != nil {
			panic(err)
		}
		cfg.MaxWorkers = workers
	}

	if cmd.Flags().Changed(retentionWindowFlag) {
		window, err := cmd.Flags().GetUint64(retentionWindowFlag)
		if err != nil {
			panic(err)
		}
		cfg.RetentionWindow = window
	}

	if cmd.Flags().Changed(pruneCycleFlag) {
		cycle, err := cmd.Flags().GetDuration(pruneCycleFlag)
		if err != nil {
			panic(err)
		}
		cfg.PruneCycle = cycle
	}
}
