// Package epubtest builds small ePub archives in memory for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// Entry is a single file of a test archive.
type Entry struct {
	Name  string
	Data  []byte
	Store bool // write uncompressed
}

// Text returns a deflated entry holding body.
func Text(name, body string) Entry {
	return Entry{Name: name, Data: []byte(body)}
}

// Mimetype returns the stored mimetype entry every ePub starts with.
func Mimetype() Entry {
	return Entry{Name: "mimetype", Data: []byte("application/epub+zip"), Store: true}
}

// Container returns META-INF/container.xml pointing at packagePath.
func Container(packagePath string) Entry {
	return Text("META-INF/container.xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="%s" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`, packagePath))
}

// Zip writes entries, in order, into a zip archive.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		fw, err := w.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			t.Fatalf("failed to create %s: %v", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// Chapter is a spine document that also gets a top-level navPoint.
type Chapter struct {
	ID    string
	Href  string
	Title string
	Body  string // inner markup of <body>
}

// Book describes a complete ePub 2 archive with its package document in
// OEBPS/.
type Book struct {
	Title    string
	Authors  []string
	Subjects []string
	Chapters []Chapter

	// Manifest holds extra raw <item/> elements.
	Manifest string
	// NavMap replaces the generated navPoints when set.
	NavMap string
	// Extra entries are appended after the generated ones.
	Extra []Entry
}

// ChapterXHTML wraps body in a minimal XHTML document.
func ChapterXHTML(title, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>%s</title></head>
<body>%s</body>
</html>`, title, body)
}

// PackageXML renders the package document of b.
func (b Book) PackageXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
`)
	if b.Title != "" {
		fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", b.Title)
	}
	for _, a := range b.Authors {
		fmt.Fprintf(&sb, "    <dc:creator opf:role=\"aut\">%s</dc:creator>\n", a)
	}
	for _, s := range b.Subjects {
		fmt.Fprintf(&sb, "    <dc:subject>%s</dc:subject>\n", s)
	}
	sb.WriteString(`    <dc:language>en</dc:language>
    <dc:identifier id="bookid">urn:uuid:test-book</dc:identifier>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
`)
	for _, ch := range b.Chapters {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"%s\" media-type=\"application/xhtml+xml\"/>\n", ch.ID, ch.Href)
	}
	sb.WriteString(b.Manifest)
	sb.WriteString("  </manifest>\n  <spine toc=\"ncx\">\n")
	for _, ch := range b.Chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", ch.ID)
	}
	sb.WriteString("  </spine>\n</package>")
	return sb.String()
}

// NCX renders the navigation document of b.
func (b Book) NCX() string {
	navMap := b.NavMap
	if navMap == "" {
		var sb strings.Builder
		for i, ch := range b.Chapters {
			fmt.Fprintf(&sb, `    <navPoint id="np%d" playOrder="%d">
      <navLabel><text>%s</text></navLabel>
      <content src="%s"/>
    </navPoint>
`, i+1, i+1, ch.Title, ch.Href)
		}
		navMap = sb.String()
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="urn:uuid:test-book"/>
    <meta name="dtb:depth" content="1"/>
  </head>
  <docTitle><text>%s</text></docTitle>
  <navMap>
%s  </navMap>
</ncx>`, b.Title, navMap)
}

// Entries returns every entry of the archive.
func (b Book) Entries() []Entry {
	entries := []Entry{
		Mimetype(),
		Container("OEBPS/content.opf"),
		Text("OEBPS/content.opf", b.PackageXML()),
		Text("OEBPS/toc.ncx", b.NCX()),
	}
	for _, ch := range b.Chapters {
		entries = append(entries, Text("OEBPS/"+ch.Href, ChapterXHTML(ch.Title, ch.Body)))
	}
	return append(entries, b.Extra...)
}

// Bytes returns the zipped archive.
func (b Book) Bytes(t testing.TB) []byte {
	t.Helper()
	return Zip(t, b.Entries()...)
}

// ThreeChapters is a small valid book with chapters titled A, B and C.
func ThreeChapters() Book {
	return Book{
		Title:   "Three Chapters",
		Authors: []string{"Jane Doe"},
		Chapters: []Chapter{
			{ID: "a", Href: "a.xhtml", Title: "A", Body: "<p>Alpha</p>"},
			{ID: "b", Href: "b.xhtml", Title: "B", Body: "<p>Bravo</p>"},
			{ID: "c", Href: "c.xhtml", Title: "C", Body: "<p>Charlie</p>"},
		},
	}
}
