package explode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/threepress/bookworm/internal/epub"
)

const svgImage = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestExtractImages_SVGAsTextRasterAsBinary(t *testing.T) {
	jpg := testJPEG(t, 4, 4)
	reader := mapReader{
		"OEBPS/images/figure.svg": []byte(svgImage),
		"OEBPS/images/photo.jpg":  jpg,
	}
	items := []epub.ManifestItem{
		{ID: "ch1", Href: "ch1.xhtml", MediaType: "application/xhtml+xml"},
		{ID: "fig", Href: "images/figure.svg", MediaType: "image/svg+xml"},
		{ID: "photo", Href: "images/photo.jpg", MediaType: "image/jpeg"},
	}

	images, err := ExtractImages(items, "OEBPS", reader, nil)
	if err != nil {
		t.Fatalf("ExtractImages() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}

	svg, photo := images[0], images[1]
	if !svg.IsSVG() || svg.Text != svgImage || svg.Data != nil {
		t.Errorf("svg asset = %+v, want markup in Text only", svg)
	}
	if photo.IsSVG() || photo.Text != "" || !bytes.Equal(photo.Data, jpg) {
		t.Errorf("jpeg asset has Text %q and %d data bytes, want binary only", photo.Text, len(photo.Data))
	}
	if photo.IDRef != "images/photo.jpg" || photo.MediaType != "image/jpeg" {
		t.Errorf("jpeg asset = (%q, %q)", photo.IDRef, photo.MediaType)
	}
	if photo.Sniffed != "image/jpeg" {
		t.Errorf("Sniffed = %q, want image/jpeg", photo.Sniffed)
	}
}

func TestExtractImages_MismatchAndMissing(t *testing.T) {
	reader := mapReader{"img/really-png.jpg": testPNG(t, 2, 2)}
	items := []epub.ManifestItem{
		{ID: "liar", Href: "img/really-png.jpg", MediaType: "image/jpeg"},
		{ID: "gone", Href: "img/gone.gif", MediaType: "image/gif"},
	}

	core, logs := observer.New(zapcore.WarnLevel)
	images, err := ExtractImages(items, "", reader, zap.New(core))
	if !errors.Is(err, epub.ErrEntryNotFound) {
		t.Errorf("ExtractImages() error = %v, want ErrEntryNotFound", err)
	}
	if len(images) != 1 || images[0].Sniffed != "image/png" {
		t.Fatalf("images = %+v, want the mislabelled png only", images)
	}
	if logs.FilterMessage("Image content does not match declared media type").Len() != 1 {
		t.Errorf("expected a media type mismatch warning, got %v", logs.All())
	}
	if logs.FilterMessage("Unable to read image, skipping").Len() != 1 {
		t.Errorf("expected a missing image warning, got %v", logs.All())
	}
}

func TestExtractStyles(t *testing.T) {
	reader := mapReader{
		"OEBPS/css/main.css": []byte("body { margin: 0 }\np.note, h1 { color: red }"),
	}
	items := []epub.ManifestItem{
		{ID: "css", Href: "css/main.css", MediaType: "text/css"},
		{ID: "gone", Href: "css/gone.css", MediaType: "text/css"},
		{ID: "other", Href: "css/print.xcss", MediaType: "text/x-other"},
	}

	styles, err := ExtractStyles(items, "OEBPS", reader, nil)
	if !errors.Is(err, epub.ErrEntryNotFound) {
		t.Errorf("ExtractStyles() error = %v, want ErrEntryNotFound", err)
	}
	if len(styles) != 1 {
		t.Fatalf("got %d stylesheets, want 1", len(styles))
	}
	s := styles[0]
	if s.IDRef != "css/main.css" || string(s.Content) != string(reader["OEBPS/css/main.css"]) {
		t.Errorf("stylesheet = (%q, %q)", s.IDRef, s.Content)
	}
	for _, want := range []string{"#bw-book-content div {", "#bw-book-content p.note, #bw-book-content h1 {"} {
		if !bytes.Contains([]byte(s.Text), []byte(want)) {
			t.Errorf("Text = %q, want it to contain %q", s.Text, want)
		}
	}
}
