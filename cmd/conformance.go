package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/hsa-app/internal/config"
	"github.com/JakeFAU/hsa-app/internal/harness"
)

// executable resolves the binary re-executed as the conformance child.
var executable = os.Executable

func newConformanceCmd(opts *rootOptions) *cobra.Command {
	var backends []string
	cmd := &cobra.Command{
		Use:   "conformance [--backend name ...] [-- child args...]",
		Short: "Check that each server backend starts, serves and stops cleanly",
		Long: `Run one conformance case per backend: start "hsa-app servertest" on a free
port in harness.port_low..port_high, wait for it to accept connections, expect
GET /test to return OK, interrupt it, and scan its output. Unavailable backends
are skipped with a warning. Arguments after -- are passed to every child.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("backend") {
				backends = cfg.Harness.Backends
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			bin, err := executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			var childArgs []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				childArgs = args[dash:]
			}

			suite := harness.New(harnessConfig(cfg.Harness, childArgs),
				harness.ExecSpawner{Binary: bin, Prefix: []string{"servertest"}},
				logger.Named("harness"))
			suite.Warn = func(msg string) { fmt.Fprintln(cmd.ErrOrStderr(), "warning:", msg) }

			failed := 0
			for _, res := range suite.Run(cmd.Context(), backends) {
				switch {
				case res.Skipped:
					fmt.Fprintf(cmd.OutOrStdout(), "SKIP %s\n", res.Backend)
				case res.Err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", res.Backend, res.Err)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "PASS %s (port %d)\n", res.Backend, res.Port)
				}
			}
			if failed > 0 {
				return &exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&backends, "backend", nil, "backend to test (repeatable; default harness.backends)")
	return cmd
}

func harnessConfig(hc config.HarnessConfig, args []string) harness.Config {
	esc := harness.DefaultEscalation()
	esc.Rounds = hc.StopRounds
	esc.Phases = hc.StopPhases()
	return harness.Config{
		Ports:         harness.PortRange{Low: hc.PortLow, High: hc.PortHigh},
		ProbeAttempts: hc.ProbeAttempts,
		ProbeInterval: hc.ProbeInterval(),
		Escalation:    esc,
		Args:          args,
	}
}
