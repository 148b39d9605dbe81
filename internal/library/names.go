package library

import (
	"strings"

	"github.com/gosimple/slug"
)

// SafeTitle returns a URL path segment for a book title.
func SafeTitle(title string) string {
	s := slug.Make(strings.TrimSpace(title))
	if s == "" {
		return "book"
	}
	return s
}

// AuthorDisplay returns the only author, or the first one followed by an
// ellipsis when there are several.
func AuthorDisplay(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0]
	default:
		return authors[0] + "..."
	}
}
