package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/dumpfs"
)

func newAssembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assemble <dump-dir> <out.epub>",
		Short: "Build an EPUB from a dump directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			b, err := dumpfs.Load(args[0])
			if err != nil {
				return fmt.Errorf("load dump: %w", err)
			}
			if err := writeEPUB(b, args[1]); err != nil {
				return err
			}
			rt.logger.Info("book assembled",
				zap.String("dir", args[0]),
				zap.String("path", args[1]),
				zap.Int("chapters", len(b.Chapters)),
			)
			return nil
		},
	}
}
