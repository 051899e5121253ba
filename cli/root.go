package cli

import (
	"economy-engine/config"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the economy-engine CLI. Running it without a subcommand starts the server.
func NewRootCommand() *cobra.Command {
	serve := NewServeCommand()

	cmd := &cobra.Command{
		Use:           "economy-engine",
		Short:         "Economy and fulfillment engine",
		Long:          "Ledger, missions, events and fulfillment queue behind the gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(NewRepairCommand())
	cmd.AddCommand(NewSeedCommand())
	return cmd
}

// loadConfig is replaced in tests.
var loadConfig = config.Load
