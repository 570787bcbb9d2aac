package extract

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// ErrUnexpectedState signals a scanner state outside the known set.
var ErrUnexpectedState = errors.New("unexpected extraction state")

// Page is the extracted content of a single post.
type Page struct {
	// BookTitle is the blog name when the payload carries it.
	BookTitle    string
	ChapterTitle string
	Author       string
	// Lines is the article body with navigation lines removed.
	Lines []string
	// Next lists the forward navigation targets in document order.
	Next []string
}

// addLine routes a body line either to the content or to the link list.
func (p *Page) addLine(line string) {
	links := NavLinks(line)
	if len(links) == 0 {
		p.Lines = append(p.Lines, line)
		return
	}
	for _, link := range links {
		if link.IsNext() {
			p.Next = append(p.Next, link.Target)
		}
	}
}

// MetaContent returns the content attribute of the first <meta> tag in
// fragment whose property (or name) equals key.
func MetaContent(fragment, key string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var prop, content string
			found := false
			for {
				k, v, more := z.TagAttr()
				switch string(k) {
				case "property", "name":
					prop = string(v)
				case "content":
					content = string(v)
					found = true
				}
				if !more {
					break
				}
			}
			if found && prop == key {
				return content, true
			}
		}
	}
}
