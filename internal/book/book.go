// Package book assembles crawl events into an ordered book.
package book

import (
	"strings"

	"golang.org/x/net/html"
)

// Chapter is one crawled post. It is not modified once appended to a Book.
type Chapter struct {
	Index     int      `json:"index"`
	Title     string   `json:"title"`
	Lines     []string `json:"-"`
	SourceURL string   `json:"url"`
}

// Book is the assembled chain.
type Book struct {
	Title    string    `json:"title"`
	Authors  []string  `json:"authors"`
	Chapters []Chapter `json:"-"`
}

// AddAuthor appends name unless it is already listed.
func (b *Book) AddAuthor(name string) bool {
	for _, a := range b.Authors {
		if a == name {
			return false
		}
	}
	b.Authors = append(b.Authors, name)
	return true
}

// BodyHTML renders the chapter heading and its lines as body markup.
func (c Chapter) BodyHTML() string {
	var sb strings.Builder
	sb.WriteString("<h1>")
	sb.WriteString(html.EscapeString(c.Title))
	sb.WriteString("</h1>\n")
	for _, line := range c.Lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// XHTML renders the chapter as a standalone XHTML document.
func (c Chapter) XHTML() string {
	var sb strings.Builder
	sb.WriteString(xhtmlPrologue)
	sb.WriteString("<head>\n<title>")
	sb.WriteString(html.EscapeString(c.Title))
	sb.WriteString("</title>\n</head>\n")
	sb.WriteString(bodyOpen)
	sb.WriteString(c.BodyHTML())
	sb.WriteString(bodyClose)
	sb.WriteString("</html>\n")
	return sb.String()
}

const (
	xhtmlPrologue = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.1//EN" "http://www.w3.org/TR/xhtml11/DTD/xhtml11.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
`
	bodyOpen  = "<body>\n"
	bodyClose = "</body>\n"
)

// ParseXHTML recovers the body lines of a document produced by XHTML. The
// heading line is dropped; the title is not parsed back.
func ParseXHTML(doc string) []string {
	lines := strings.Split(doc, "\n")
	start, end := -1, -1
	for i, line := range lines {
		if start < 0 && line+"\n" == bodyOpen {
			start = i + 1
			continue
		}
		if line+"\n" == bodyClose {
			end = i
		}
	}
	if start < 0 || end < start {
		return nil
	}
	body := lines[start:end]
	if len(body) > 0 && strings.HasPrefix(body[0], "<h1>") {
		body = body[1:]
	}
	return append([]string(nil), body...)
}
