package book

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/crawler"
)

// Option customizes a Builder.
type Option func(*Builder)

// WithSkipBadURLs makes the builder skip malformed links instead of aborting.
func WithSkipBadURLs() Option {
	return func(b *Builder) {
		b.skipBadURLs = true
	}
}

// WithChapterHook registers fn to run after each chapter is appended. An
// error from fn aborts the crawl.
func WithChapterHook(fn func(Chapter) error) Option {
	return func(b *Builder) {
		b.hooks = append(b.hooks, fn)
	}
}

// Builder is a crawler.Handler that assembles a Book. It is not safe for
// concurrent use; the crawl goroutine owns it.
type Builder struct {
	book        Book
	current     *Chapter
	skipBadURLs bool
	hooks       []func(Chapter) error
	logger      *zap.Logger
}

var _ crawler.Handler = (*Builder)(nil)

// NewBuilder returns an empty Builder.
func NewBuilder(logger *zap.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{logger: logger.Named("book")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HandleEvent applies one crawl event.
func (b *Builder) HandleEvent(ev crawler.Event) error {
	switch ev.Kind {
	case crawler.EventStartChapter:
		b.current = &Chapter{Index: ev.Index, SourceURL: ev.URL}
	case crawler.EventBadURL:
		if b.skipBadURLs {
			b.logger.Warn("skipping bad url", zap.String("url", ev.URL), zap.Int("index", ev.Index))
			b.current = nil
			return nil
		}
		return fmt.Errorf("%w: %s", crawler.ErrBadURL, ev.URL)
	case crawler.EventBookTitle:
		if b.book.Title == "" {
			b.book.Title = ev.Text
		}
	case crawler.EventAuthor:
		b.book.AddAuthor(ev.Text)
	case crawler.EventChapterTitle:
		if b.current == nil {
			return fmt.Errorf("chapter title outside chapter %d", ev.Index)
		}
		b.current.Title = ev.Text
	case crawler.EventChapterLine:
		if b.current == nil {
			return fmt.Errorf("chapter line outside chapter %d", ev.Index)
		}
		b.current.Lines = append(b.current.Lines, ev.Text)
	case crawler.EventEndChapter:
		return b.finishChapter(ev.Index)
	case crawler.EventRawPage, crawler.EventFetchFailed:
	}
	return nil
}

func (b *Builder) finishChapter(index int) error {
	if b.current == nil || b.current.Index != index {
		return fmt.Errorf("end of chapter %d without matching start", index)
	}
	ch := *b.current
	b.current = nil
	b.book.Chapters = append(b.book.Chapters, ch)
	for _, hook := range b.hooks {
		if err := hook(ch); err != nil {
			return fmt.Errorf("chapter %d hook: %w", index, err)
		}
	}
	return nil
}

// Book returns the assembled book so far.
func (b *Builder) Book() Book {
	out := b.book
	out.Authors = append([]string(nil), b.book.Authors...)
	out.Chapters = append([]Chapter(nil), b.book.Chapters...)
	return out
}

// Chapters reports how many chapters are complete.
func (b *Builder) Chapters() int {
	return len(b.book.Chapters)
}
