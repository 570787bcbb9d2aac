// Package dumpfs persists a crawl to a directory and loads it back.
//
// Per chapter the directory holds NNNNNN.orig (the fetched payload),
// NNNNNN.json (index, url and title) and NNNNNN.html (the cleaned chapter).
// book.json carries the book title and authors.
package dumpfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/wpchain/internal/book"
	"github.com/JakeFAU/wpchain/internal/crawler"
)

// BookInfoFilename holds the book-level metadata.
const BookInfoFilename = "book.json"

var chapterInfoName = regexp.MustCompile(`^(\d{6})\.json$`)

// RawFilename is the name of the fetched payload of chapter i.
func RawFilename(i int) string { return fmt.Sprintf("%06d.orig", i) }

// InfoFilename is the name of the metadata file of chapter i.
func InfoFilename(i int) string { return fmt.Sprintf("%06d.json", i) }

// ContentFilename is the name of the cleaned chapter document of chapter i.
func ContentFilename(i int) string { return fmt.Sprintf("%06d.html", i) }

// Writer saves raw pages and finished chapters under a root directory.
type Writer struct {
	root   string
	logger *zap.Logger
}

var _ crawler.Handler = (*Writer)(nil)

// New returns a Writer rooted at dir, creating it when missing.
func New(root string, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create dump dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{root: root, logger: logger.Named("dumpfs")}, nil
}

// HandleEvent saves the payload of EventRawPage. A failed write is logged and
// does not stop the crawl.
func (w *Writer) HandleEvent(ev crawler.Event) error {
	if ev.Kind != crawler.EventRawPage {
		return nil
	}
	target := filepath.Join(w.root, RawFilename(ev.Index))
	w.logger.Debug("saving raw post", zap.String("path", target))
	if err := os.WriteFile(target, ev.Raw, 0o600); err != nil {
		w.logger.Error("save raw post", zap.String("path", target), zap.Error(err))
	}
	return nil
}

// WriteChapter saves the metadata and cleaned document of ch.
func (w *Writer) WriteChapter(ch book.Chapter) error {
	payload, err := json.MarshalIndent(ch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chapter %d: %w", ch.Index, err)
	}
	if err := w.write(InfoFilename(ch.Index), payload); err != nil {
		return err
	}
	return w.write(ContentFilename(ch.Index), []byte(ch.XHTML()))
}

// WriteBook saves the book title and authors.
func (w *Writer) WriteBook(b book.Book) error {
	if b.Authors == nil {
		b.Authors = []string{}
	}
	payload, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal book info: %w", err)
	}
	return w.write(BookInfoFilename, payload)
}

func (w *Writer) write(name string, data []byte) error {
	target := filepath.Join(w.root, name)
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// Load reads a dump directory back into a Book, chapters ordered by index.
func Load(root string) (book.Book, error) {
	var b book.Book
	data, err := os.ReadFile(filepath.Join(root, BookInfoFilename))
	if err != nil {
		return book.Book{}, fmt.Errorf("read book info: %w", err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return book.Book{}, fmt.Errorf("decode book info: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return book.Book{}, fmt.Errorf("list dump dir: %w", err)
	}
	var indices []int
	for _, e := range entries {
		m := chapterInfoName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		ch, err := loadChapter(root, i)
		if err != nil {
			return book.Book{}, err
		}
		b.Chapters = append(b.Chapters, ch)
	}
	return b, nil
}

func loadChapter(root string, i int) (book.Chapter, error) {
	var ch book.Chapter
	data, err := os.ReadFile(filepath.Join(root, InfoFilename(i)))
	if err != nil {
		return ch, fmt.Errorf("read chapter %d info: %w", i, err)
	}
	if err := json.Unmarshal(data, &ch); err != nil {
		return ch, fmt.Errorf("decode chapter %d info: %w", i, err)
	}
	doc, err := os.ReadFile(filepath.Join(root, ContentFilename(i)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ch, fmt.Errorf("chapter %d has no content file: %w", i, err)
		}
		return ch, fmt.Errorf("read chapter %d content: %w", i, err)
	}
	ch.Lines = book.ParseXHTML(string(doc))
	return ch, nil
}
