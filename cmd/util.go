package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/celestiaorg/state-pruner/nodebuilder/pruner"
)

// PrintOutput prints data, or the error, as indented JSON into the output
// of the command.
func PrintOutput(cmd *cobra.Command, data any, err error) error {
	if err != nil {
		data = err.Error()
	}

	resp := struct {
		Result any `json:"result"`
	}{
		Result: data,
	}

	bytes, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(bytes))
	return nil
}

// PersistentPreRunEnv parses the flags of the command into the Env.
func PersistentPreRunEnv(cmd *cobra.Command, _ []string) error {
	var (
		ctx = cmd.Context()
		err error
	)

	// loads existing config into the environment
	ctx, err = ParseNodeFlags(ctx, cmd)
	if err != nil {
		return err
	}

	cfg := NodeConfig(ctx)

	err = ParseStoreFlags(cmd, &cfg.Store)
	if err != nil {
		return err
	}
	pruner.ParseFlags(cmd, &cfg.Pruner)

	ctx, err = ParseMiscFlags(ctx, cmd)
	if err != nil {
		return err
	}

	// set config
	ctx = WithNodeConfig(ctx, &cfg)
	cmd.SetContext(ctx)
	return nil
}

// WithFlagSet adds the given flagset to the command.
func WithFlagSet(fset []*flag.FlagSet) func(*cobra.Command) {
	return func(c *cobra.Command) {
		for _, set := range fset {
			c.Flags().AddFlagSet(set)
		}
	}
}
