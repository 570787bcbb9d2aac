package crawler

import (
	"fmt"
	"time"
)

// Source selects which representation of a post is fetched.
type Source string

// Supported post sources.
const (
	// SourceAPI fetches the JSON document from the public REST API.
	SourceAPI Source = "api"
	// SourceHTML fetches the rendered post page.
	SourceHTML Source = "html"
)

// Config holds the settings for a single chain crawl.
type Config struct {
	Source       Source
	MaxAttempts  int
	BackoffStep  time.Duration
	MaxRedirects int
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Source:       SourceAPI,
		MaxAttempts:  3,
		BackoffStep:  time.Second,
		MaxRedirects: 5,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	switch c.Source {
	case SourceAPI, SourceHTML:
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0")
	}
	if c.BackoffStep < 0 {
		return fmt.Errorf("backoff step must be >= 0")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max redirects must be >= 0")
	}
	return nil
}
