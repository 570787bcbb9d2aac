package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

type apiPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  struct {
		NiceName string `json:"nice_name"`
	} `json:"author"`
	Meta struct {
		Data struct {
			Site struct {
				Name string `json:"name"`
			} `json:"site"`
		} `json:"data"`
	} `json:"meta"`
}

// ParseAPI extracts a Page from a REST API post document.
func ParseAPI(body []byte) (Page, error) {
	var post apiPost
	if err := json.Unmarshal(body, &post); err != nil {
		return Page{}, fmt.Errorf("decode post json: %w", err)
	}
	page := Page{
		BookTitle:    html.UnescapeString(post.Meta.Data.Site.Name),
		ChapterTitle: html.UnescapeString(post.Title),
		Author:       post.Author.NiceName,
	}
	lines := strings.Split(post.Content, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines {
		page.addLine(line)
	}
	return page, nil
}
