package crawler

import (
	"context"
	"time"
)

// Fetcher performs HTTP requests for the engine. Get follows redirects; Head
// must not, so that a 301 and its Location header reach the caller. A non-nil
// error means the exchange itself failed and may be retried.
type Fetcher interface {
	Get(ctx context.Context, url string) (Response, error)
	Head(ctx context.Context, url string) (Response, error)
}

// Handler consumes crawl events in order. A returned error aborts the crawl;
// returning nil for EventBadURL skips the link.
type Handler interface {
	HandleEvent(ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// MultiHandler delivers every event to each handler in turn, stopping at the
// first error.
func MultiHandler(handlers ...Handler) Handler {
	return HandlerFunc(func(ev Event) error {
		for _, h := range handlers {
			if err := h.HandleEvent(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

type pauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
