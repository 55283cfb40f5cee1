package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/hsa-app/internal/servertest"
)

// newServertestCmd is the child side of `conformance`. Flag parsing is off so
// pass-through arguments reach the child verbatim.
func newServertestCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "servertest <backend> <port> [args...]",
		Short:              "Serve GET /test with a backend (conformance child)",
		DisableFlagParsing: true,
		Hidden:             true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if code := servertest.Run(ctx, args, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
}
