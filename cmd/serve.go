package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hsa-app/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		backendName string
		port        int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the annotator webapp",
		Long: `Serve the annotator under app.prefix using the configured backend
(server.backend, default nethttp). Runs until SIGINT or SIGTERM, then shuts
down within server.shutdown_timeout_seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend") {
				cfg.Server.Backend = backendName
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			app, err := server.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				logger.Error("server stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", "nethttp", "server backend (see `hsa-app backends`)")
	cmd.Flags().IntVar(&port, "port", 8082, "listen port")
	return cmd
}
