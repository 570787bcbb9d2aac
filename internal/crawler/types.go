package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// FirstIndex is the chapter index assigned to the first admitted URL.
const FirstIndex = 1

// Crawl errors.
var (
	// ErrBadURL marks a link that is not a post permalink.
	ErrBadURL = errors.New("not a post url")
	// ErrPostNotFound means the post is missing and no permanent redirect exists.
	ErrPostNotFound = errors.New("couldn't find a post")
	// ErrFetchFailed means every fetch attempt failed with a transient error.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInterrupted means the crawl context ended mid-run.
	ErrInterrupted = errors.New("crawl interrupted")
)

// Response is the raw result of one HTTP exchange.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Target is an admitted URL and its chapter index.
type Target struct {
	URL   string
	Index int
}

// EventKind enumerates everything a crawl reports.
type EventKind int

// Event kinds, in the order they occur for a chapter.
const (
	EventStartChapter EventKind = iota + 1
	EventBadURL
	EventRawPage
	EventBookTitle
	EventChapterTitle
	EventAuthor
	EventChapterLine
	EventEndChapter
	EventFetchFailed
)

var eventKindNames = map[EventKind]string{
	EventStartChapter: "start_chapter",
	EventBadURL:       "bad_url",
	EventRawPage:      "raw_page",
	EventBookTitle:    "book_title",
	EventChapterTitle: "chapter_title",
	EventAuthor:       "author",
	EventChapterLine:  "chapter_line",
	EventEndChapter:   "end_chapter",
	EventFetchFailed:  "fetch_failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one notification from a running crawl. Index and URL identify the
// chapter; Text carries titles, author names and body lines; Raw carries the
// fetched payload of EventRawPage; Err is set on EventFetchFailed.
type Event struct {
	Kind  EventKind
	Index int
	URL   string
	Text  string
	Raw   []byte
	Err   error
}
