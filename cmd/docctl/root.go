package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "docctl",
		Short:         "Document pipeline rule administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRulesCommand(ctx))
	rootCmd.AddCommand(newRoutingCommand(ctx))
	return rootCmd
}
