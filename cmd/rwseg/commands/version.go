package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pointseg/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version.String())
		},
	}
}
