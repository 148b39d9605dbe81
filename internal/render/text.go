package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// skipText lists elements whose content never reaches the reader.
const skipText = "script, style, head, title"

// PlainText returns the visible text of chapter markup with whitespace
// collapsed to single spaces. It accepts raw or sanitized chapters, well
// formed or not.
func PlainText(markup []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("unable to parse chapter markup: %w", err)
	}
	doc.Find(skipText).Remove()

	// block elements separate words even without whitespace between them
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, li, br, tr, td, th, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
