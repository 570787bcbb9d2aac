// Package crawler walks a chain of WordPress posts by following their "Next
// Chapter" links, fetching each post with retry and redirect handling and
// reporting what it extracts as a stream of events to a Handler.
package crawler
