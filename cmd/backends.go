package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/hsa-app/internal/backend"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the compiled-in server backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range backend.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
