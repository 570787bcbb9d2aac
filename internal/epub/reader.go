package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrMalformed reports a container that lacks a required part.
var ErrMalformed = errors.New("malformed epub")

const containerPath = "META-INF/container.xml"

// Contents summarizes an EPUB: its title, its creators and the title of each
// spine document in reading order.
type Contents struct {
	Title    string
	Authors  []string
	Chapters []string
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Titles   []string `xml:"metadata>title"`
	Creators []string `xml:"metadata>creator"`
	Items    []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type ncxDoc struct {
	Points []ncxPoint `xml:"navMap>navPoint"`
}

type ncxPoint struct {
	Label   string     `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxPoint `xml:"navPoint"`
}

type manifestItem struct {
	href       string
	properties string
}

// Open reads the package metadata and chapter titles from an EPUB archive.
func Open(r io.ReaderAt, size int64) (Contents, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Contents{}, fmt.Errorf("open zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var c container
	if err := decodeXML(files, containerPath, &c); err != nil {
		return Contents{}, err
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return Contents{}, fmt.Errorf("%w: no rootfile", ErrMalformed)
	}
	opfPath := c.Rootfiles[0].FullPath

	var pkg packageDoc
	if err := decodeXML(files, opfPath, &pkg); err != nil {
		return Contents{}, err
	}

	out := Contents{Authors: trimAll(pkg.Creators)}
	if titles := trimAll(pkg.Titles); len(titles) > 0 {
		out.Title = titles[0]
	}

	base := path.Dir(opfPath)
	manifest := make(map[string]manifestItem, len(pkg.Items))
	for _, it := range pkg.Items {
		manifest[it.ID] = manifestItem{href: resolve(base, it.Href), properties: it.Properties}
	}

	var navLabels map[string]string
	if toc, ok := manifest[pkg.Spine.Toc]; ok {
		navLabels = readNCX(files, toc.href)
	}

	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			return Contents{}, fmt.Errorf("%w: spine item %q not in manifest", ErrMalformed, ref.IDRef)
		}
		if strings.Contains(item.properties, "nav") {
			continue
		}
		title, err := documentTitle(files, item.href)
		if err != nil {
			return Contents{}, err
		}
		if title == "" {
			title = navLabels[item.href]
		}
		out.Chapters = append(out.Chapters, title)
	}
	return out, nil
}

func readFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func decodeXML(files map[string]*zip.File, name string, v any) error {
	data, err := readFile(files, name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func readNCX(files map[string]*zip.File, name string) map[string]string {
	var doc ncxDoc
	if err := decodeXML(files, name, &doc); err != nil {
		return nil
	}
	labels := make(map[string]string)
	base := path.Dir(name)
	var walk func([]ncxPoint)
	walk = func(points []ncxPoint) {
		for _, p := range points {
			src, _, _ := strings.Cut(p.Content.Src, "#")
			labels[resolve(base, src)] = strings.TrimSpace(p.Label)
			walk(p.Children)
		}
	}
	walk(doc.Points)
	return labels
}

// documentTitle returns the text of the first <title> element of an XHTML
// document.
func documentTitle(files map[string]*zip.File, name string) (string, error) {
	data, err := readFile(files, name)
	if err != nil {
		return "", err
	}
	z := html.NewTokenizer(bytes.NewReader(data))
	inTitle := false
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return strings.TrimSpace(sb.String()), nil
			}
			return "", fmt.Errorf("tokenize %s: %w", name, z.Err())
		case html.StartTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Title {
				inTitle = true
			}
		case html.EndTagToken:
			if inTitle {
				return strings.TrimSpace(sb.String()), nil
			}
		case html.TextToken:
			if inTitle {
				sb.Write(z.Text())
			}
		}
	}
}

func resolve(base, href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	return path.Join(base, href)
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
