// Package cmd defines the wpchain command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/config"
	"github.com/JakeFAU/wpchain/internal/crawler"
	"github.com/JakeFAU/wpchain/internal/logging"
	"github.com/JakeFAU/wpchain/internal/server"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what every subcommand receives after configuration is loaded.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

// newFetcher builds the fetcher used by offline commands. Tests replace it.
var newFetcher = func(cfg *config.Config) crawler.Fetcher {
	return server.NewFetcher(cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "wpchain",
		Short: "Turn a chain of WordPress posts into an EPUB book.",
		Long: `wpchain follows the "Next Chapter" links of a WordPress serial, extracts
each chapter and writes the result as an EPUB. It runs once from the command
line or as an HTTP service that builds books on request.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: &cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars use the WPCHAIN_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDumpCmd())
	cmd.AddCommand(newAssembleCmd())
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, fmt.Errorf("command context is nil")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, fmt.Errorf("runtime not found in context")
	}
	return rt, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
