package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a memory system configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sys, err := buildSystem(configPath)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d modules, %d networks\n",
			configPath, len(sys.Modules()), len(sys.Networks()))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
