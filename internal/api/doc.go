// Package api hosts the HTTP server, middleware, and handlers of the book
// service. Routes:
//   - GET /dump?url= submits a crawl (or reports the running one).
//   - GET /get?url= downloads the finished EPUB.
//   - GET /stop requests an orderly shutdown.
//   - GET /healthz and /metrics for liveness checks and Prometheus scraping.
package api
