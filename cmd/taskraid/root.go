package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "taskraid",
		Short:         "Gamified task engine with raids and duels",
		Long:          "taskraid turns completed tasks into XP, gold and damage against shared raid bosses and head-to-head duels.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskraid %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}
