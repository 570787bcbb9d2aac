// Command wpchain turns a chain of WordPress posts into an EPUB book.
//
// Architecture overview:
//   - Crawl: internal/crawler follows "Next Chapter" links from a first post, fetching each page through the
//     Colly-based fetcher with linear backoff and following permanent moves found by a HEAD probe. Every step is
//     reported to a crawler.Handler as an event.
//   - Assembly: internal/book builds chapters from those events and internal/epub writes the EPUB. The dump command
//     can also persist raw pages and chapters with internal/dumpfs for later re-assembly.
//   - Service: internal/server wires the job manager, worker pool, cache backend (memory/file/GCS/Postgres) and
//     notification publisher (memory or Pub/Sub) behind the chi router in internal/api. Finished jobs are evicted
//     after a grace period by internal/evict.
//   - Configuration & plumbing: Viper reads a config file plus WPCHAIN_* environment variables; zap provides
//     structured logging; Prometheus metrics are exported on /metrics.
//
// Quick checklist:
//   - One-shot: wpchain dump http://example.wordpress.com/2011/06/11/1-1/ book.epub --dir ./dump
//   - Service: wpchain serve --port 8080 --cache-dir ./books, then GET /dump?url=... and /get?url=...
package main

import (
	"github.com/JakeFAU/wpchain/cmd"
)

func main() {
	cmd.Execute()
}
