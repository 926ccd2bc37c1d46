package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/celestiaorg/state-pruner/cmd"
	"github.com/celestiaorg/state-pruner/nodebuilder/pruner"
)

func init() {
	rootCmd.PersistentFlags().AddFlagSet(cmd.NodeFlags())
	rootCmd.PersistentFlags().AddFlagSet(cmd.MiscFlags())

	rootCmd.AddCommand(
		cmd.Init(cmd.StoreFlags(), pruner.Flags()),
		cmd.StatusCmd(),
		cmd.Prune(cmd.PruneFlags()),
	)
	rootCmd.SetHelpCommand(&cobra.Command{})
}

func main() {
	err := run()
	if err != nil {
		os.Exit(1)
	}
}

func run() error {
	return rootCmd.ExecuteContext(context.Background())
}

var rootCmd = &cobra.Command{
	Use:               "state-pruner [subcommand]",
	Short:             "Operator tool of the versioned state tree pruner",
	Args:              cobra.NoArgs,
	PersistentPreRunE: cmd.PersistentPreRunEnv,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}
