package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nabcore/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nabcore version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "nabcore %s\n", version.String())
			return nil
		},
	}
}
