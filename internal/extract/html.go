package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Markers of the rendered post layout.
const (
	SiteNameProperty = "og:site_name"
	TitleProperty    = "og:title"
	ArticleMarker    = `<div class="entry-content"`
	PostFlairMarker  = `id="jp-post-flair"`
)

type scanState int

const (
	beforeArticle scanState = iota
	insideArticle
	afterArticle
)

func (s scanState) String() string {
	switch s {
	case beforeArticle:
		return "before-article"
	case insideArticle:
		return "inside-article"
	case afterArticle:
		return "after-article"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseHTML extracts a Page from a rendered post. Input that ends before the
// article container yields an empty body.
func ParseHTML(body []byte) (Page, error) {
	return scanHTML(body, beforeArticle)
}

func scanHTML(body []byte, state scanState) (Page, error) {
	var page Page
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), max(len(body)+1, 64*1024))

	for state != afterArticle && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch state {
		case beforeArticle:
			state = page.scanHead(line)
		case insideArticle:
			if strings.Contains(line, PostFlairMarker) {
				state = afterArticle
				continue
			}
			page.addLine(line)
		default:
			return Page{}, fmt.Errorf("%w: %s", ErrUnexpectedState, state)
		}
	}
	if err := scanner.Err(); err != nil {
		return Page{}, fmt.Errorf("scan post html: %w", err)
	}
	return page, nil
}

func (p *Page) scanHead(line string) scanState {
	if strings.Contains(line, ArticleMarker) {
		return insideArticle
	}
	if !strings.Contains(line, "<meta") {
		return beforeArticle
	}
	if v, ok := MetaContent(line, SiteNameProperty); ok {
		p.BookTitle = v
	}
	if v, ok := MetaContent(line, TitleProperty); ok {
		p.ChapterTitle = v
	}
	return beforeArticle
}
