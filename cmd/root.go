// Package cmd defines the hsa-app CLI: the annotator webapp, the conformance
// child, and the conformance harness that drives it.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hsa-app/internal/config"
	"github.com/JakeFAU/hsa-app/internal/logging"
)

// exitCodeError carries a process exit code out of a command without cobra
// printing anything further.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// rootOptions holds persistent flag values shared by subcommands.
type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "hsa-app",
		Short: "Image annotation webapp and server backend conformance harness.",
		Long: `hsa-app serves the HSA image annotator (static assets, the annotator page
and per-image attribute uploads) under a selectable HTTP server backend, and
verifies that every backend starts, answers GET /test and shuts down cleanly.

The annotator for the example image is available at:
  http://localhost:8082/hsa-app/annotator?image=example`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML/JSON/TOML); HSA_* env vars override")

	cmd.AddCommand(
		newServeCmd(opts),
		newServertestCmd(),
		newConformanceCmd(opts),
		newBackendsCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWithOptions(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	os.Exit(run(newRootCmd(), os.Args[1:]))
}

func run(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintln(root.ErrOrStderr(), "hsa-app:", err)
	return 1
}
