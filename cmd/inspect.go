package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wpchain/internal/epub"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <book.epub>",
		Short: "Print the title, authors and chapter list of an EPUB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}
			contents, err := epub.Open(f, info.Size())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "title: %s\n", contents.Title)
			fmt.Fprintf(out, "authors: %s\n", strings.Join(contents.Authors, ", "))
			for i, ch := range contents.Chapters {
				fmt.Fprintf(out, "%4d  %s\n", i+1, ch)
			}
			return nil
		},
	}
}
