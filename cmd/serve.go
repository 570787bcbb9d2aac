package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/config"
	"github.com/JakeFAU/wpchain/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port     int
		cacheDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Serves /dump, /get, /stop, /healthz and /metrics. Books are built in the
background and kept in the configured cache until their grace period ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := *rt.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cacheDir != "" {
				cfg.Cache.Backend = config.CacheFile
				cfg.Cache.Dir = cacheDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			app, err := server.Build(cmd.Context(), &cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize service: %w", err)
			}
			rt.logger.Info("starting service", zap.Int("port", cfg.Server.Port))
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "store books in this directory instead of memory")
	return cmd
}
