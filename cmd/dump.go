package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/book"
	"github.com/JakeFAU/wpchain/internal/crawler"
	"github.com/JakeFAU/wpchain/internal/dumpfs"
	"github.com/JakeFAU/wpchain/internal/epub"
	"github.com/JakeFAU/wpchain/internal/server"
)

func newDumpCmd() *cobra.Command {
	var (
		dir         string
		skipBadURLs bool
	)
	cmd := &cobra.Command{
		Use:   "dump <first-url> <out.epub>",
		Short: "Crawl a chain of posts and write it as an EPUB",
		Long: `Follows the chain that starts at first-url and writes the book to out.epub.
With --dir every fetched page and cleaned chapter is also saved so the book
can be rebuilt later with "wpchain assemble".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			firstURL, out := args[0], args[1]

			var opts []book.Option
			if skipBadURLs {
				opts = append(opts, book.WithSkipBadURLs())
			}
			handlers := []crawler.Handler{}
			var dw *dumpfs.Writer
			if dir != "" {
				dw, err = dumpfs.New(dir, rt.logger)
				if err != nil {
					return err
				}
				handlers = append(handlers, dw)
				opts = append(opts, book.WithChapterHook(dw.WriteChapter))
			}
			builder := book.NewBuilder(rt.logger, opts...)
			handlers = append(handlers, builder)

			crawlErr := crawler.Dump(cmd.Context(), server.CrawlerConfig(rt.cfg), newFetcher(rt.cfg), firstURL,
				crawler.MultiHandler(handlers...), rt.logger)
			b := builder.Book()
			if crawlErr != nil {
				rt.logger.Error("crawl stopped early",
					zap.String("url", firstURL),
					zap.Int("chapters", len(b.Chapters)),
					zap.Error(crawlErr),
				)
				return fmt.Errorf("dump %s: %w", firstURL, crawlErr)
			}
			if dw != nil {
				if err := dw.WriteBook(b); err != nil {
					return err
				}
			}
			if err := writeEPUB(b, out); err != nil {
				return err
			}
			rt.logger.Info("book written",
				zap.String("path", out),
				zap.String("title", b.Title),
				zap.Int("chapters", len(b.Chapters)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "also save raw pages and chapters to this directory")
	cmd.Flags().BoolVar(&skipBadURLs, "skip-bad-urls", false, "skip links that are not post urls instead of failing")
	return cmd
}

func writeEPUB(b book.Book, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := epub.Write(b, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
