// Package wordpress understands the URL layout of hosted WordPress blogs.
package wordpress

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// APIBase is the public REST endpoint for hosted WordPress sites.
const APIBase = "https://public-api.wordpress.com/rest/v1/sites"

var postPattern = regexp.MustCompile(`^(?:https?://)?([-\w]+\.wordpress\.com)/\d{4}/\d{2}/\d{2}/([^/?#]+)/?(?:[?#].*)?$`)

// Post identifies a single post on a hosted site.
type Post struct {
	Site string
	Slug string
}

// ParsePostURL decomposes raw into a site and slug. Links that do not look
// like dated post permalinks report ok=false.
func ParsePostURL(raw string) (Post, bool) {
	m := postPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Post{}, false
	}
	return Post{Site: m[1], Slug: m[2]}, true
}

// APIPostURL returns the REST URL for post. withSiteMeta asks the API to
// embed the site record, which carries the blog name.
func APIPostURL(post Post, withSiteMeta bool) string {
	u := fmt.Sprintf("%s/%s/posts/slug:%s", APIBase, post.Site, url.PathEscape(post.Slug))
	if withSiteMeta {
		u += "?meta=site"
	}
	return u
}

// PageURL returns raw with an http scheme when none is present.
func PageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "http://" + raw
}
