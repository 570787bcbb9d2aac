// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/wpchain/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the pooled default transport.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using two Colly collectors: one that
// follows redirects for GET and one that stops at the first response for HEAD.
type Fetcher struct {
	cfg           Config
	getCollector  *colly.Collector
	headCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}

	get := newBaseCollector(cfg, transport)

	head := newBaseCollector(cfg, transport)
	head.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Fetcher{
		cfg:           cfg,
		getCollector:  get,
		headCollector: head,
	}
}

func newBaseCollector(cfg Config, transport http.RoundTripper) *colly.Collector {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	return c
}

// Get fetches url, following redirects. Non-2xx statuses are returned as
// responses, not errors.
func (f *Fetcher) Get(ctx context.Context, url string) (crawler.Response, error) {
	return f.do(ctx, f.getCollector, http.MethodGet, url)
}

// Head issues a HEAD request without following redirects.
func (f *Fetcher) Head(ctx context.Context, url string) (crawler.Response, error) {
	return f.do(ctx, f.headCollector, http.MethodHead, url)
}

func (f *Fetcher) do(ctx context.Context, base *colly.Collector, method, url string) (crawler.Response, error) {
	var (
		result   crawler.Response
		fetchErr error
	)
	collector := base.Clone()
	// Requests carry ctx, so cancellation aborts the transfer as well as the wait.
	collector.Context = ctx
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	configureCollectorHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(url)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return crawler.Response{}, fmt.Errorf("colly %s canceled: %w", method, ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Response{}, fmt.Errorf("colly %s canceled: %w", method, ctxErr)
		}
		if err != nil {
			return crawler.Response{}, fmt.Errorf("colly %s %s failed: %w", method, url, err)
		}
		if fetchErr != nil {
			return crawler.Response{}, fmt.Errorf("colly %s %s response failed: %w", method, url, fetchErr)
		}
		if result.StatusCode == 0 {
			return crawler.Response{}, fmt.Errorf("colly %s %s: no response", method, url)
		}
		return result, nil
	}
}

func configureCollectorHooks(hooks collectorHooks, result *crawler.Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			result.Header = r.Headers.Clone()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
