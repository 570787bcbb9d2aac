// Package epub renders a book.Book as an EPUB container and reads back the
// parts of one that the service cares about.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	goepub "github.com/go-shiori/go-epub"

	"github.com/JakeFAU/wpchain/internal/book"
)

// DefaultTitle names books whose source never offered a site title.
const DefaultTitle = "Untitled"

// SectionFilename is the internal file name of the chapter with index i.
func SectionFilename(i int) string {
	return fmt.Sprintf("%06d.xhtml", i)
}

// Write renders b to w with one creator entry per author.
func Write(b book.Book, w io.Writer) error {
	title := b.Title
	if title == "" {
		title = DefaultTitle
	}
	e, err := goepub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("new epub: %w", err)
	}
	if len(b.Authors) > 0 {
		e.SetAuthor(b.Authors[0])
	}
	for _, ch := range b.Chapters {
		if _, err := e.AddSection(ch.BodyHTML(), ch.Title, SectionFilename(ch.Index), ""); err != nil {
			return fmt.Errorf("add chapter %d: %w", ch.Index, err)
		}
	}
	if len(b.Authors) <= 1 {
		if _, err := e.WriteTo(w); err != nil {
			return fmt.Errorf("write epub: %w", err)
		}
		return nil
	}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	return addCreators(buf.Bytes(), b.Authors, w)
}

// addCreators copies the archive in data to w, adding a creator entry to the
// package document for every author after the first. go-epub only holds one.
func addCreators(data []byte, authors []string, w io.Writer) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("reopen epub: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	var c container
	if err := decodeXML(files, containerPath, &c); err != nil {
		return err
	}
	if len(c.Rootfiles) == 0 {
		return fmt.Errorf("%w: no rootfile", ErrMalformed)
	}
	opfPath := c.Rootfiles[0].FullPath

	zw := zip.NewWriter(w)
	for _, f := range zr.File {
		if f.Name != opfPath {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}
		opf, err := readFile(files, f.Name)
		if err != nil {
			return err
		}
		patched, err := patchCreators(opf, authors)
		if err != nil {
			return err
		}
		out, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified})
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := out.Write(patched); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close epub: %w", err)
	}
	return nil
}

func patchCreators(opf []byte, authors []string) ([]byte, error) {
	first := `<dc:creator id="creator">` + escapeXML(authors[0]) + `</dc:creator>`
	at := bytes.Index(opf, []byte(first))
	if at < 0 {
		return nil, fmt.Errorf("%w: creator entry not found", ErrMalformed)
	}
	var extra strings.Builder
	for i, author := range authors[1:] {
		id := fmt.Sprintf("creator-%d", i+2)
		fmt.Fprintf(&extra, "\n    <dc:creator id=%q>%s</dc:creator>", id, escapeXML(author))
		fmt.Fprintf(&extra, "\n    <meta refines=\"#%s\" property=\"role\" scheme=\"marc:relators\">aut</meta>", id)
	}
	end := at + len(first)
	out := make([]byte, 0, len(opf)+extra.Len())
	out = append(out, opf[:end]...)
	out = append(out, extra.String()...)
	return append(out, opf[end:]...), nil
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
