// Package extract turns fetched WordPress posts into chapter content.
//
// Two payload shapes are supported: the JSON document served by the public
// REST API and the rendered post page. Both produce a Page whose Lines hold
// the article markup with chapter navigation removed and whose Next holds the
// links to follow.
package extract

import (
	"regexp"
	"strings"
)

// Marker is the label of a chapter navigation anchor.
type Marker string

// Navigation markers recognized in post bodies.
const (
	MarkerNext     Marker = "Next"
	MarkerLast     Marker = "Last"
	MarkerPrevious Marker = "Previous"
)

var navPattern = regexp.MustCompile(
	`<a(?:\s+title="[^"]*")?\s+href="([^"]+)"\s*>\s*(Next|Last|Previous)\s+Chapter\s*</a>`,
)

// NavLink is one chapter navigation anchor found in a line.
type NavLink struct {
	Target string
	Marker Marker
}

// IsNext reports whether the link points forward in the chain.
func (l NavLink) IsNext() bool {
	return l.Marker == MarkerNext
}

// NavLinks returns every navigation anchor in line, in order of appearance.
// A line without matches is ordinary content even if it holds other anchors.
func NavLinks(line string) []NavLink {
	if !strings.Contains(line, "<a") {
		return nil
	}
	matches := navPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]NavLink, 0, len(matches))
	for _, m := range matches {
		links = append(links, NavLink{Target: m[1], Marker: Marker(m[2])})
	}
	return links
}
