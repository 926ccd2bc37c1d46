package cmd

import (
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/celestiaorg/state-pruner/store"
)

var (
	storeShardsFlag     = "store.shards"
	storeBackendFlag    = "store.backend"
	storeSyncWritesFlag = "store.sync-writes"
)

// StoreFlags gives a set of flags shaping the sharded state store. They only
// take effect on init, as the partitioning of a store can't change.
func StoreFlags() *flag.FlagSet {
	flags := &flag.FlagSet{}

	flags.Int(
		storeShardsFlag,
		store.DefaultParameters().NumShards,
		"Number of data shards the state tree is partitioned into",
	)
	flags.String(
		storeBackendFlag,
		string(store.BackendBadger),
		"Storage engine of the shards: badger or datastore",
	)
	flags.Bool(
		storeSyncWritesFlag,
		true,
		"Fsync every commit before returning",
	)

	return flags
}

// ParseStoreFlags applies the changed store flags onto the given parameters.
func ParseStoreFlags(cmd *cobra.Command, params *store.Parameters) error {
	if cmd.Flags().Changed(storeShardsFlag) {
		shards, err := cmd.Flags().GetInt(storeShardsFlag)
		if err != nil {
			return err
		}
		params.NumShards = shards
	}

	if cmd.Flags().Changed(storeBackendFlag) {
		backend, err := cmd.Flags().GetString(storeBackendFlag)
		if err != nil {
			return err
		}
		params.Backend = store.Backend(backend)
	}

	if cmd.Flags().Changed(storeSyncWritesFlag) {
		sync, err := cmd.Flags().GetBool(storeSyncWritesFlag)
		if err != nil {
			return err
		}
		params.SyncWrites = sync
	}
	return params.Validate()
}
