package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/threepress/bookworm/internal/epubtest"
)

type result struct {
	out, err string
}

func runCLI(t *testing.T, args ...string) (result, error) {
	t.Helper()
	t.Setenv("BOOKWORM_LOG_CONSOLE_LEVEL", "none")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return result{out: out.String(), err: errOut.String()}, err
}

func writeBook(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write book: %v", err)
	}
	return path
}

func mustContain(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("output does not contain %q:\n%s", w, got)
		}
	}
}

func TestExplodeCommand(t *testing.T) {
	b := epubtest.ThreeChapters()
	book := writeBook(t, "three.epub", b.Bytes(t))

	res, err := runCLI(t, "explode", book)
	if err != nil {
		t.Fatalf("explode error = %v", err)
	}
	mustContain(t, res.out, "Title:    Three Chapters", "Jane Doe", "OEBPS/content.opf", fmt.Sprintf("Entries:  %d\n", len(b.Entries())), "Chapters (3):", "a.xhtml", "c.xhtml")
	if strings.Contains(res.out, "Problems") {
		t.Errorf("unexpected problems reported:\n%s", res.out)
	}
}

func TestExplodeCommand_Rejected(t *testing.T) {
	book := writeBook(t, "junk.epub", []byte("not a zip"))
	if _, err := runCLI(t, "explode", book); err == nil {
		t.Fatal("explode error = nil for a non-zip file")
	}
	if _, err := runCLI(t, "explode"); err == nil {
		t.Fatal("explode error = nil without arguments")
	}
}

func TestTOCCommand(t *testing.T) {
	b := epubtest.ThreeChapters()
	b.NavMap = `    <navPoint id="p1" playOrder="1">
      <navLabel><text>Part One</text></navLabel>
      <content src="a.xhtml"/>
      <navPoint id="p2" playOrder="2">
        <navLabel><text>B</text></navLabel>
        <content src="b.xhtml#start"/>
      </navPoint>
    </navPoint>
    <navPoint id="p3" playOrder="3">
      <navLabel><text>C</text></navLabel>
      <content src="c.xhtml"/>
    </navPoint>
`
	book := writeBook(t, "nested.epub", b.Bytes(t))

	res, err := runCLI(t, "toc", book)
	if err != nil {
		t.Fatalf("toc error = %v", err)
	}
	want := "Part One  [a.xhtml]\n  B  [b.xhtml#start]\nC  [c.xhtml]\n"
	if res.out != want {
		t.Errorf("toc output = %q, want %q", res.out, want)
	}
}

func TestRenderCommand(t *testing.T) {
	b := epubtest.ThreeChapters()
	b.Chapters[1].Body = `<p>Bravo <img src="images/fig.svg"/></p>`
	book := writeBook(t, "three.epub", b.Bytes(t))

	res, err := runCLI(t, "render", book, "b.xhtml")
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	mustContain(t, res.out, `<div id="bw-book-content">`, "Bravo", `<a class="svg" href="images/fig.svg">`)

	if _, err := runCLI(t, "render", book, "missing.xhtml"); err == nil {
		t.Fatal("render error = nil for an unknown chapter")
	}
}

func TestLibraryCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	book := writeBook(t, "three.epub", epubtest.ThreeChapters().Bytes(t))

	res, err := runCLI(t, "--database", db, "import", book)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	line := strings.TrimSpace(res.out)
	title, ref, ok := strings.Cut(line, "\t")
	if !ok || title != "Three Chapters" || !strings.HasPrefix(ref, "three-chapters/") {
		t.Fatalf("import output = %q", res.out)
	}
	key := strings.TrimPrefix(ref, "three-chapters/")

	res, err = runCLI(t, "--database", db, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	mustContain(t, res.out, key, "Three Chapters", "Jane Doe")

	res, err = runCLI(t, "--database", db, "search", "bravo")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	mustContain(t, res.out, key, "b.xhtml")
	if strings.Contains(res.out, "a.xhtml") {
		t.Errorf("search matched the wrong chapter:\n%s", res.out)
	}

	res, err = runCLI(t, "--database", db, "--owner", "someone-else", "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if strings.Contains(res.out, key) {
		t.Errorf("book listed for another owner:\n%s", res.out)
	}

	res, err = runCLI(t, "--database", db, "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	mustContain(t, res.out, "books:  1", "owners: 1")

	data, err := os.ReadFile(book)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "copy.epub")
	if _, err := runCLI(t, "--database", db, "download", key, out); err != nil {
		t.Fatalf("download error = %v", err)
	}
	if got, err := os.ReadFile(out); err != nil || !bytes.Equal(got, data) {
		t.Errorf("downloaded archive differs from the imported one (err = %v)", err)
	}
	res, err = runCLI(t, "--database", db, "download", "--title", "three-chapters", key, "-")
	if err != nil {
		t.Fatalf("download to stdout error = %v", err)
	}
	if res.out != string(data) {
		t.Error("archive written to stdout differs from the imported one")
	}
	if _, err := runCLI(t, "--database", db, "download", "--title", "wrong-title", key, "-"); err == nil {
		t.Error("download error = nil for a mismatched title")
	}

	if _, err := runCLI(t, "--database", db, "delete", key); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, err := runCLI(t, "--database", db, "delete", key); err == nil {
		t.Fatal("second delete error = nil")
	}

	res, err = runCLI(t, "--database", db, "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	mustContain(t, res.out, "books:  0")
}

func TestImportCommand_Rejected(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	junk := writeBook(t, "junk.epub", []byte("not a zip"))
	noEpub := writeBook(t, "plain.epub", epubtest.Zip(t, epubtest.Text("readme.txt", "hello")))
	good := writeBook(t, "three.epub", epubtest.ThreeChapters().Bytes(t))

	res, err := runCLI(t, "--database", db, "import", junk, noEpub, good)
	if err == nil {
		t.Fatal("import error = nil with rejected books")
	}
	mustContain(t, res.err,
		"junk.epub was not recognized as an ePub archive.",
		"plain.epub seems to be a valid zip file but did not appear to be an ePub archive.")
	mustContain(t, res.out, "Three Chapters")

	res, err = runCLI(t, "--database", db, "stats")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	mustContain(t, res.out, "books:  1")
}

func TestConfigCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bookworm.yaml")
	if err := os.WriteFile(cfgPath, []byte("render:\n  fallback: recompute\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOOKWORM_LIBRARY_OWNER", "reader")

	res, err := runCLI(t, "--config", cfgPath, "--database", "books.db", "config")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	mustContain(t, res.out, "fallback: recompute", "owner: reader", "database: books.db")
}

func TestConfigCommand_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bookworm.yaml")
	if err := os.WriteFile(cfgPath, []byte("library:\n  owner: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := runCLI(t, "--config", cfgPath, "config")
	if err == nil || !strings.Contains(err.Error(), "library.owner") {
		t.Fatalf("config error = %v, want library.owner validation error", err)
	}
	mustContain(t, res.err, "Error:")
}

func TestFileLog(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bookworm.log")
	t.Setenv("BOOKWORM_LOG_FILE_LEVEL", "debug")
	t.Setenv("BOOKWORM_LOG_FILE_DESTINATION", dest)
	t.Setenv("BOOKWORM_LOG_FILE_MODE", "append")

	book := writeBook(t, "three.epub", epubtest.ThreeChapters().Bytes(t))
	if _, err := runCLI(t, "explode", book); err != nil {
		t.Fatalf("explode error = %v", err)
	}
	if _, err := runCLI(t, "explode", filepath.Join(t.TempDir(), "missing.epub")); err == nil {
		t.Fatal("explode error = nil for a missing file")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if n := strings.Count(string(data), "Program started"); n != 2 {
		t.Errorf("log file has %d start lines, want 2:\n%s", n, data)
	}
	mustContain(t, string(data), "Exploded archive")
}
