package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/extract"
	"github.com/JakeFAU/wpchain/internal/metrics"
	"github.com/JakeFAU/wpchain/internal/wordpress"
)

// Fetch outcomes recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeRetry    = "retry"
	outcomeMoved    = "moved"
	outcomeNotFound = "not_found"
	outcomeFailed   = "failed"
)

// Engine crawls one chain of posts. It is single use: create one per crawl.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	handler   Handler
	retry     RetryPolicy
	pauser    pauseController
	logger    *zap.Logger
	frontier  *frontier
	bookTitle onceString
	authors   sync.Map
}

// NewEngine wires an Engine. Zero-valued config fields take DefaultConfig values.
func NewEngine(cfg Config, fetcher Fetcher, handler Handler, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		handler:  handler,
		retry:    NewLinearRetryPolicy(cfg.MaxAttempts, cfg.BackoffStep),
		pauser:   timerPauseController{},
		logger:   logger.Named("crawler"),
		frontier: newFrontier(),
	}
}

// Dump crawls the chain that starts at firstURL, delivering events to handler.
func Dump(ctx context.Context, cfg Config, fetcher Fetcher, firstURL string, handler Handler, logger *zap.Logger) error {
	engine := NewEngine(cfg, fetcher, handler, logger)
	engine.Enqueue(firstURL)
	return engine.Run(ctx)
}

// Enqueue admits rawURL for crawling unless it was already seen. It is safe
// for concurrent use.
func (e *Engine) Enqueue(rawURL string) bool {
	t, ok := e.frontier.push(rawURL)
	if ok {
		e.logger.Debug("url admitted", zap.String("url", t.URL), zap.Int("index", t.Index))
	}
	return ok
}

// Pending reports how many admitted URLs have not been processed yet.
func (e *Engine) Pending() int {
	return e.frontier.len()
}

// BookTitle returns the captured book title, if any page offered one.
func (e *Engine) BookTitle() (string, bool) {
	return e.bookTitle.Get()
}

// Run processes admitted URLs in admission order until none remain.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		target, ok := e.frontier.pop()
		if !ok {
			return nil
		}
		if err := e.process(ctx, target); err != nil {
			e.logger.Warn("crawl aborted",
				zap.String("url", target.URL),
				zap.Int("index", target.Index),
				zap.Error(err),
			)
			return err
		}
	}
}

func (e *Engine) process(ctx context.Context, t Target) error {
	if err := e.emit(Event{Kind: EventStartChapter, Index: t.Index, URL: t.URL}); err != nil {
		return err
	}

	post, ok := wordpress.ParsePostURL(t.URL)
	if !ok {
		e.logger.Warn("skipping malformed post url", zap.String("url", t.URL))
		return e.emit(Event{Kind: EventBadURL, Index: t.Index, URL: t.URL})
	}

	body, err := e.fetchPost(ctx, t.URL, post)
	if err != nil {
		if errors.Is(err, ErrFetchFailed) {
			if herr := e.emit(Event{Kind: EventFetchFailed, Index: t.Index, URL: t.URL, Err: err}); herr != nil {
				return errors.Join(err, herr)
			}
		}
		return err
	}
	if err := e.emit(Event{Kind: EventRawPage, Index: t.Index, URL: t.URL, Raw: body}); err != nil {
		return err
	}

	page, err := e.extract(body)
	if err != nil {
		return fmt.Errorf("extract %s: %w", t.URL, err)
	}
	if err := e.emitPage(t, page); err != nil {
		return err
	}

	for _, next := range page.Next {
		e.Enqueue(next)
	}
	metrics.ObserveChapter(post.Site)
	e.logger.Info("chapter done",
		zap.String("url", t.URL),
		zap.Int("index", t.Index),
		zap.Int("lines", len(page.Lines)),
		zap.Int("pending", e.Pending()),
	)
	return e.emit(Event{Kind: EventEndChapter, Index: t.Index, URL: t.URL})
}

func (e *Engine) emitPage(t Target, page extract.Page) error {
	if page.BookTitle != "" && e.bookTitle.Set(page.BookTitle) {
		if err := e.emit(Event{Kind: EventBookTitle, Index: t.Index, URL: t.URL, Text: page.BookTitle}); err != nil {
			return err
		}
	}
	if err := e.emit(Event{Kind: EventChapterTitle, Index: t.Index, URL: t.URL, Text: page.ChapterTitle}); err != nil {
		return err
	}
	if page.Author != "" {
		if _, seen := e.authors.LoadOrStore(page.Author, struct{}{}); !seen {
			if err := e.emit(Event{Kind: EventAuthor, Index: t.Index, URL: t.URL, Text: page.Author}); err != nil {
				return err
			}
		}
	}
	for _, line := range page.Lines {
		if err := e.emit(Event{Kind: EventChapterLine, Index: t.Index, URL: t.URL, Text: line}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emit(ev Event) error {
	if e.handler == nil {
		return nil
	}
	if err := e.handler.HandleEvent(ev); err != nil {
		return fmt.Errorf("handle %s for %s: %w", ev.Kind, ev.URL, err)
	}
	return nil
}

func (e *Engine) extract(body []byte) (extract.Page, error) {
	if e.cfg.Source == SourceHTML {
		return extract.ParseHTML(body)
	}
	return extract.ParseAPI(body)
}

func (e *Engine) requestURL(pageURL string, post wordpress.Post) string {
	if e.cfg.Source == SourceHTML {
		return pageURL
	}
	_, known := e.bookTitle.Get()
	return wordpress.APIPostURL(post, !known)
}

// fetchPost retrieves the payload for post. Transient failures are retried
// with backoff; a 404 is checked for a permanent redirect, which is followed
// without spending an attempt.
func (e *Engine) fetchPost(ctx context.Context, rawURL string, post wordpress.Post) ([]byte, error) {
	pageURL := wordpress.PageURL(rawURL)
	redirects := 0
	var failures []error

	for attempt := 1; ; {
		resp, err := e.fetcher.Get(ctx, e.requestURL(pageURL, post))
		if err == nil {
			switch resp.StatusCode {
			case http.StatusOK:
				metrics.ObserveFetch(post.Site, outcomeOK)
				return resp.Body, nil
			case http.StatusNotFound:
				var (
					moved    bool
					nextURL  string
					nextPost wordpress.Post
				)
				nextURL, nextPost, moved, err = e.resolveMoved(ctx, pageURL)
				if err == nil && moved && redirects < e.cfg.MaxRedirects {
					redirects++
					metrics.ObserveFetch(post.Site, outcomeMoved)
					e.logger.Info("post moved",
						zap.String("from", pageURL),
						zap.String("to", nextURL),
					)
					pageURL, post = nextURL, nextPost
					continue
				}
				if err == nil {
					metrics.ObserveFetch(post.Site, outcomeNotFound)
					return nil, fmt.Errorf("%w at location %s", ErrPostNotFound, pageURL)
				}
			default:
				metrics.ObserveFetch(post.Site, outcomeNotFound)
				return nil, fmt.Errorf("%w at location %s: status %d", ErrPostNotFound, pageURL, resp.StatusCode)
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctxErr)
		}
		failures = append(failures, fmt.Errorf("attempt %d: %w", attempt, err))
		if !e.retry.ShouldRetry(err, attempt) {
			metrics.ObserveFetch(post.Site, outcomeFailed)
			return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, pageURL, errors.Join(failures...))
		}
		metrics.ObserveFetch(post.Site, outcomeRetry)
		delay := e.retry.Backoff(attempt)
		e.logger.Warn("fetch failed, retrying",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := e.pauser.Pause(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		attempt++
	}
}

// resolveMoved asks whether pageURL was permanently moved to another post.
func (e *Engine) resolveMoved(ctx context.Context, pageURL string) (string, wordpress.Post, bool, error) {
	resp, err := e.fetcher.Head(ctx, pageURL)
	if err != nil {
		return "", wordpress.Post{}, false, err
	}
	if resp.StatusCode != http.StatusMovedPermanently {
		return "", wordpress.Post{}, false, nil
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", wordpress.Post{}, false, nil
	}
	if base, perr := url.Parse(pageURL); perr == nil {
		if ref, rerr := url.Parse(location); rerr == nil {
			location = base.ResolveReference(ref).String()
		}
	}
	post, ok := wordpress.ParsePostURL(location)
	if !ok {
		return "", wordpress.Post{}, false, nil
	}
	return wordpress.PageURL(location), post, true, nil
}
